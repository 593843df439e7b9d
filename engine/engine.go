// Package engine owns the authoritative game state and drives it from a
// single goroutine: every mutation is serialized through one select loop
// over typed request channels, the same way a connection registry would
// be owned by a single hub goroutine.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/couchcast/party-core/game"
	"github.com/couchcast/party-core/metrics"
	"github.com/couchcast/party-core/reducer"
	"github.com/couchcast/party-core/session"
)

// Transport is the engine's outbound view of the connection layer. It is
// implemented by the server package; the engine never touches a socket
// directly.
type Transport interface {
	Send(connID string, message any) error
	Broadcast(message any, excludeConnID string)
}

// Config bounds the engine's timers.
type Config struct {
	StaleRemovalDelay time.Duration
	BroadcastThrottle time.Duration
}

// DefaultConfig returns the reference engine's out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		StaleRemovalDelay: 5 * time.Minute,
		BroadcastThrottle: 33 * time.Millisecond,
	}
}

// Observers are optional hooks fired on player lifecycle events.
type Observers struct {
	OnPlayerJoined func(playerID, name string)
	OnPlayerLeft   func(playerID string)
}

type joinRequest struct {
	ConnID string
	Name   string
	Avatar string
	Secret string
}

type actionRequest struct {
	ConnID  string
	Type    string
	Payload any
}

type pingRequest struct {
	ConnID    string
	ID        string
	Timestamp int64
}

type cleanupFired struct {
	PlayerID string
	Secret   string
}

// Engine owns a single authoritative state value of type S and serializes
// every mutation onto its own goroutine, started by Run. The Handle* methods,
// Dispatch, and Stop are safe to call from any goroutine: the Handle*
// methods hand their request to the engine goroutine over an unbuffered
// channel and block until Run receives it. State is the exception and must
// only be called from the engine goroutine. State, the registry, and the
// throttle timer are only ever touched inside Run.
type Engine[S game.State] struct {
	reduce    reducer.Func[S]
	state     S
	registry  *session.Registry
	transport Transport
	cfg       Config
	observers Observers

	joinCh       chan joinRequest
	actionCh     chan actionRequest
	pingCh       chan pingRequest
	disconnectCh chan string
	cleanupCh    chan cleanupFired
	doneCh       chan struct{}
	stopOnce     sync.Once

	throttle *broadcastThrottle
}

// New constructs an Engine with the given initial state and user reducer.
// The reducer is wrapped with reducer.WrapSafe so a panicking embedder
// reducer cannot take down the engine goroutine.
func New[S game.State](initial S, reduce reducer.Func[S], cfg Config, transport Transport, observers Observers) *Engine[S] {
	return &Engine[S]{
		reduce:       reducer.WrapSafe(reduce),
		state:        initial,
		registry:     session.NewRegistry(),
		transport:    transport,
		cfg:          cfg,
		observers:    observers,
		joinCh:       make(chan joinRequest),
		actionCh:     make(chan actionRequest),
		pingCh:       make(chan pingRequest),
		disconnectCh: make(chan string),
		cleanupCh:    make(chan cleanupFired),
		doneCh:       make(chan struct{}),
		throttle:     newBroadcastThrottle(cfg.BroadcastThrottle),
	}
}

// Run services the engine's channels until ctx is canceled or Stop is
// called. It must run on its own goroutine and is the only place state,
// the registry, or the throttle timer are touched.
func (e *Engine[S]) Run(ctx context.Context) {
	for {
		select {
		case req := <-e.joinCh:
			e.handleJoin(req)

		case req := <-e.actionCh:
			e.handleAction(req)

		case req := <-e.pingCh:
			e.handlePing(req)

		case connID := <-e.disconnectCh:
			e.handleDisconnect(connID)

		case ev := <-e.cleanupCh:
			e.handleCleanup(ev)

		case <-e.throttle.C():
			e.throttle.Fired()
			e.broadcastState()

		case <-ctx.Done():
			e.shutdown()
			return

		case <-e.doneCh:
			e.shutdown()
			return
		}
	}
}

// Stop signals Run to exit and clean up timers. Safe to call more than
// once or concurrently with Run's shutdown via ctx cancellation.
func (e *Engine[S]) Stop() {
	e.stopOnce.Do(func() {
		close(e.doneCh)
	})
}

func (e *Engine[S]) shutdown() {
	e.throttle.Stop()
	e.registry.StopAll()
}

// HandleJoin submits a JOIN message from a connection. Safe to call from
// any goroutine.
func (e *Engine[S]) HandleJoin(connID, name, avatar, secret string) {
	e.joinCh <- joinRequest{ConnID: connID, Name: name, Avatar: avatar, Secret: secret}
}

// HandleAction submits an ACTION message from a connection.
func (e *Engine[S]) HandleAction(connID, actionType string, payload any) {
	e.actionCh <- actionRequest{ConnID: connID, Type: actionType, Payload: payload}
}

// HandlePing submits a PING message from a connection.
func (e *Engine[S]) HandlePing(connID, id string, timestamp int64) {
	e.pingCh <- pingRequest{ConnID: connID, ID: id, Timestamp: timestamp}
}

// HandleDisconnect submits a disconnect event for a connection.
func (e *Engine[S]) HandleDisconnect(connID string) {
	e.disconnectCh <- connID
}

// State returns a snapshot of the current authoritative state. It must
// only be called from the engine goroutine (e.g. from within a Transport
// implementation invoked synchronously during dispatch); external callers
// should observe state via broadcasts instead.
func (e *Engine[S]) State() S {
	return e.state
}

func (e *Engine[S]) handleJoin(req joinRequest) {
	if err := session.ValidateSecret(req.Secret); err != nil {
		e.sendError(req.ConnID, ErrCodeInvalidSecret, "invalid session secret")
		return
	}

	pid := session.DerivePlayerID(req.Secret)
	e.registry.Adopt(req.Secret, req.ConnID)
	e.registry.CancelCleanup(pid)

	// Queue the welcome before dispatching: the dispatch below always
	// flushes pendingWelcome after updating state, so the joining
	// connection's own snapshot includes itself rather than waiting for
	// some later unrelated state change.
	e.registry.QueueWelcome(req.ConnID, pid)

	if _, exists := e.state.GetPlayers()[pid]; exists {
		e.dispatch(reducer.Action{Type: reducer.ActionPlayerReconnected, Payload: reducer.PlayerLifecyclePayload{ID: pid}})
	} else {
		e.dispatch(reducer.Action{
			Type:    reducer.ActionPlayerJoined,
			Payload: reducer.PlayerJoinedPayload{ID: pid, Name: req.Name, Avatar: req.Avatar},
		})
	}

	if e.observers.OnPlayerJoined != nil {
		e.observers.OnPlayerJoined(pid, req.Name)
	}
}

func (e *Engine[S]) handleAction(req actionRequest) {
	if reducer.IsReserved(req.Type) {
		e.sendError(req.ConnID, ErrCodeForbiddenAction, "action type is reserved")
		return
	}

	var playerID string
	if secret, ok := e.registry.SecretForConn(req.ConnID); ok {
		playerID = session.DerivePlayerID(secret)
	}

	e.dispatch(reducer.Action{Type: req.Type, Payload: req.Payload, PlayerID: playerID})
}

func (e *Engine[S]) handlePing(req pingRequest) {
	pong := PongMessage{
		Type: "PONG",
		Payload: PongPayload{
			ID:            req.ID,
			OrigTimestamp: req.Timestamp,
			ServerTime:    time.Now().UnixMilli(),
		},
	}
	if err := e.transport.Send(req.ConnID, pong); err != nil {
		log.Debug().Err(err).Str("connId", req.ConnID).Msg("failed to send PONG")
	}
}

func (e *Engine[S]) handleDisconnect(connID string) {
	secret, hadSecret := e.registry.SecretForConn(connID)
	e.registry.ForgetConn(connID)
	if !hadSecret {
		return
	}

	if !e.registry.IsCurrentOwner(secret, connID) {
		// A newer connection already adopted this session; this
		// disconnect is stale and must not tear down the new one.
		return
	}

	pid := session.DerivePlayerID(secret)
	e.dispatch(reducer.Action{Type: reducer.ActionPlayerLeft, Payload: reducer.PlayerLifecyclePayload{ID: pid}})

	if e.observers.OnPlayerLeft != nil {
		e.observers.OnPlayerLeft(pid)
	}

	e.registry.ScheduleCleanup(pid, e.cfg.StaleRemovalDelay, func() {
		e.cleanupCh <- cleanupFired{PlayerID: pid, Secret: secret}
	})
}

func (e *Engine[S]) handleCleanup(ev cleanupFired) {
	e.registry.FinishCleanup(ev.PlayerID)
	e.registry.ForgetSecret(ev.Secret)
	e.dispatch(reducer.Action{Type: reducer.ActionPlayerRemoved, Payload: reducer.PlayerLifecyclePayload{ID: ev.PlayerID}})
}

// dispatch runs an action through the wrapped reducer, flushes any pending
// welcomes against the new state, and schedules a throttled broadcast.
func (e *Engine[S]) dispatch(action reducer.Action) {
	e.state = e.reduce(e.state, action)
	metrics.ActivePlayers.Set(float64(connectedCount(e.state.GetPlayers())))
	e.flushWelcomes()
	e.throttle.Schedule()
}

func connectedCount(players map[string]game.Player) int {
	n := 0
	for _, p := range players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (e *Engine[S]) flushWelcomes() {
	drained := e.registry.DrainPendingWelcomes()
	for connID, pid := range drained {
		welcome := WelcomeMessage[S]{
			Type: "WELCOME",
			Payload: WelcomePayload[S]{
				PlayerID:   pid,
				State:      e.state,
				ServerTime: time.Now().UnixMilli(),
			},
		}
		if err := e.transport.Send(connID, welcome); err != nil {
			log.Debug().Err(err).Str("connId", connID).Msg("failed to send WELCOME")
		}
	}
}

func (e *Engine[S]) broadcastState() {
	update := StateUpdateMessage[S]{
		Type: "STATE_UPDATE",
		Payload: StateUpdatePayload[S]{
			NewState:  e.state,
			Timestamp: time.Now().UnixMilli(),
		},
	}
	e.transport.Broadcast(update, "")
}

func (e *Engine[S]) sendError(connID, code, message string) {
	if err := e.transport.Send(connID, newErrorMessage(code, message)); err != nil {
		log.Debug().Err(err).Str("connId", connID).Msg("failed to send ERROR")
	}
}
