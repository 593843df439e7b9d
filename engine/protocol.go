package engine

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// incomingEnvelope is the generic client-to-host wire shape: a type tag
// plus an opaque payload.
type incomingEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Dispatch validates a decoded text-frame payload from connID and routes it
// to the appropriate handler. It is the protocol glue between the wire
// format and the engine's typed operations: callers hand it raw JSON
// bytes from any goroutine, typically the connection's own read loop,
// since validation here touches no shared state.
func (e *Engine[S]) Dispatch(connID string, raw []byte) {
	var env incomingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		e.sendInvalidMessage(connID)
		return
	}

	switch env.Type {
	case "JOIN":
		var payload JoinPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Secret == "" {
			e.sendInvalidMessage(connID)
			return
		}
		e.HandleJoin(connID, payload.Name, payload.Avatar, payload.Secret)

	case "ACTION":
		var payload ActionPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.Type == "" {
			e.sendInvalidMessage(connID)
			return
		}
		e.HandleAction(connID, payload.Type, payload.Payload)

	case "PING":
		var payload PingPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.ID == "" {
			e.sendInvalidMessage(connID)
			return
		}
		e.HandlePing(connID, payload.ID, payload.Timestamp)

	case "ASSETS_LOADED":
		var loaded bool
		if err := json.Unmarshal(env.Payload, &loaded); err != nil || !loaded {
			e.sendInvalidMessage(connID)
			return
		}
		// No engine-side effect; the embedder may observe this via its
		// own transport-level logging if it cares.

	default:
		e.sendInvalidMessage(connID)
	}
}

func (e *Engine[S]) sendInvalidMessage(connID string) {
	if err := e.transport.Send(connID, newErrorMessage(ErrCodeInvalidMessage, "malformed message")); err != nil {
		log.Debug().Err(err).Str("connId", connID).Msg("failed to send ERROR")
	}
}
