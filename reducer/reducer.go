// Package reducer wraps a user-supplied pure reduction function so that
// internal lifecycle actions (hydrate, player joined/left/reconnected/
// removed) update the player table automatically, before anything reaches
// the embedder's own reducer.
package reducer

import (
	"github.com/rs/zerolog/log"

	"github.com/couchcast/party-core/game"
)

// Action is a dispatched action: a type tag plus an opaque payload. PlayerID
// is populated by the engine for ACTION messages when the sender's session
// is resolvable; it is empty for messages submitted before JOIN.
type Action struct {
	Type     string
	Payload  any
	PlayerID string
}

// Reserved action types recognized by the wrapper before delegating to the
// user reducer. User actions must never use these names; the engine rejects
// them at the protocol layer (see engine.Engine.Dispatch).
const (
	ActionHydrate           = "__HYDRATE__"
	ActionPlayerJoined      = "__PLAYER_JOINED__"
	ActionPlayerLeft        = "__PLAYER_LEFT__"
	ActionPlayerReconnected = "__PLAYER_RECONNECTED__"
	ActionPlayerRemoved     = "__PLAYER_REMOVED__"
)

// IsReserved reports whether an action type is one the wrapper intercepts
// and the user reducer must never see or produce.
func IsReserved(actionType string) bool {
	switch actionType {
	case ActionHydrate, ActionPlayerJoined, ActionPlayerLeft, ActionPlayerReconnected, ActionPlayerRemoved:
		return true
	default:
		return len(actionType) >= 2 && actionType[:2] == "__"
	}
}

// HydratePayload is the payload carried by ActionHydrate: the whole
// replacement state.
type HydratePayload[S game.State] struct {
	State S
}

// PlayerJoinedPayload is the payload carried by ActionPlayerJoined.
type PlayerJoinedPayload struct {
	ID     string
	Name   string
	Avatar string
}

// PlayerLifecyclePayload is the payload shape shared by
// ActionPlayerLeft/ActionPlayerReconnected/ActionPlayerRemoved.
type PlayerLifecyclePayload struct {
	ID string
}

// Func is a pure reduction function: given the current state and an action,
// produce the next state.
type Func[S game.State] func(state S, action Action) S

// Wrap returns a Func that intercepts reserved lifecycle actions itself and
// delegates every other action type to reduce. The returned function is
// pure; it panics only if reduce panics. WrapSafe adds recovery from such a
// panic, and is what the engine uses.
func Wrap[S game.State](reduce Func[S]) Func[S] {
	return func(state S, action Action) S {
		switch action.Type {
		case ActionHydrate:
			payload, ok := action.Payload.(HydratePayload[S])
			if !ok {
				return state
			}
			return payload.State

		case ActionPlayerJoined:
			payload, ok := action.Payload.(PlayerJoinedPayload)
			if !ok {
				return state
			}
			players := cloneMap(state.GetPlayers())
			players[payload.ID] = game.Player{
				ID:        payload.ID,
				Name:      payload.Name,
				Avatar:    payload.Avatar,
				IsHost:    false,
				Connected: true,
			}
			return state.WithPlayers(players).(S)

		case ActionPlayerLeft:
			payload, ok := action.Payload.(PlayerLifecyclePayload)
			if !ok {
				return state
			}
			players := state.GetPlayers()
			existing, found := players[payload.ID]
			if !found {
				return state
			}
			players = cloneMap(players)
			existing.Connected = false
			players[payload.ID] = existing
			return state.WithPlayers(players).(S)

		case ActionPlayerReconnected:
			payload, ok := action.Payload.(PlayerLifecyclePayload)
			if !ok {
				return state
			}
			players := state.GetPlayers()
			existing, found := players[payload.ID]
			if !found {
				return state
			}
			players = cloneMap(players)
			existing.Connected = true
			players[payload.ID] = existing
			return state.WithPlayers(players).(S)

		case ActionPlayerRemoved:
			payload, ok := action.Payload.(PlayerLifecyclePayload)
			if !ok {
				return state
			}
			players := state.GetPlayers()
			if _, found := players[payload.ID]; !found {
				return state
			}
			players = cloneMap(players)
			delete(players, payload.ID)
			return state.WithPlayers(players).(S)

		default:
			return reduce(state, action)
		}
	}
}

// WrapSafe is Wrap plus panic recovery around the user reducer: a panicking
// embedder reducer leaves state unchanged and is logged rather than
// bringing down the engine goroutine.
func WrapSafe[S game.State](reduce Func[S]) Func[S] {
	wrapped := Wrap(reduce)
	return func(state S, action Action) (result S) {
		result = state
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("actionType", action.Type).
					Str("playerId", action.PlayerID).
					Msg("reducer panicked, state left unchanged")
				result = state
			}
		}()
		result = wrapped(state, action)
		return result
	}
}

func cloneMap(m map[string]game.Player) map[string]game.Player {
	out := make(map[string]game.Player, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
