package main

import (
	"github.com/couchcast/party-core/game"
	"github.com/couchcast/party-core/reducer"
)

// lobbyState is a minimal example game state demonstrating how an embedder
// implements game.State. Real games carry arbitrary additional fields
// alongside Status and Players; the engine only ever touches Players.
type lobbyState struct {
	Status  string                  `json:"status"`
	Players map[string]game.Player `json:"players"`
	Round   int                     `json:"round"`
}

func newLobbyState() lobbyState {
	return lobbyState{Status: "lobby", Players: map[string]game.Player{}, Round: 0}
}

func (s lobbyState) GetPlayers() map[string]game.Player { return s.Players }

func (s lobbyState) WithPlayers(players map[string]game.Player) game.State {
	s.Players = players
	return s
}

// lobbyReduce is the user-supplied pure reducer. It never sees the
// reserved lifecycle action types; reducer.Wrap intercepts those before
// delegating here.
func lobbyReduce(state lobbyState, action reducer.Action) lobbyState {
	switch action.Type {
	case "START_ROUND":
		state.Status = "playing"
		state.Round++
	case "END_ROUND":
		state.Status = "lobby"
	}
	return state
}
