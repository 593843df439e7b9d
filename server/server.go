package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/couchcast/party-core/metrics"
	"github.com/couchcast/party-core/wire"
)

// Config bounds the server's framing and keepalive behavior.
type Config struct {
	Addr              string
	MaxFramePayload   int
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
}

// DefaultConfig returns the reference server's out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              "0.0.0.0:8082",
		MaxFramePayload:   wire.DefaultMaxFramePayload,
		KeepaliveInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
	}
}

// Handler receives the events a Server emits. An embedder (typically the
// engine package) implements this to drive its own state from connection
// lifecycle and inbound messages.
type Handler interface {
	OnListening(addr string)
	OnConnection(connID string)
	OnMessage(connID string, payload []byte)
	OnDisconnect(connID string)
	OnError(err error)
}

// Server is a handcrafted RFC 6455 WebSocket server bound to a raw
// net.Listener rather than net/http, trading the usual http.Server plus
// Hijacker upgrade for a standalone TCP accept loop so that embedders
// never need an HTTP stack to get a LAN game session going.
type Server struct {
	cfg     Config
	handler Handler

	listener net.Listener

	mu    sync.RWMutex
	conns map[string]*ManagedConnection

	keepaliveTimer *time.Timer
	stopOnce       sync.Once
	doneCh         chan struct{}
}

// New constructs a Server. Call Start to bind and begin accepting.
func New(cfg Config, handler Handler) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		conns:   make(map[string]*ManagedConnection),
		doneCh:  make(chan struct{}),
	}
}

// Start binds the TCP listener and begins accepting connections. It blocks
// until the listener closes or ctx is canceled; callers typically run it in
// its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.handler.OnError(err)
		return err
	}
	s.listener = listener
	s.handler.OnListening(s.cfg.Addr)

	go s.runKeepalive()

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.doneCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.handler.OnError(err)
			continue
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(netConn net.Conn) {
	mc := newManagedConnection(netConn, s.cfg.MaxFramePayload)
	readBuf := make([]byte, 4096)

	for {
		n, err := netConn.Read(readBuf)
		if n > 0 {
			mc.buffer.Append(readBuf[:n])
		}
		if err != nil {
			s.destroy(mc)
			return
		}

		if !mc.handshakeDone {
			done, handshakeErr := mc.tryHandshake()
			if !done {
				continue
			}
			if handshakeErr != nil {
				log.Debug().Err(handshakeErr).Msg("handshake failed")
				s.destroyQuiet(mc)
				return
			}

			mc.id = uuid.NewString()
			s.mu.Lock()
			s.conns[mc.id] = mc
			s.mu.Unlock()
			metrics.ConnectionsOpened.Inc()
			s.handler.OnConnection(mc.id)
			// Fall through to frame processing in this same pass: a
			// client that pipelines its first frame in the same TCP
			// segment as the upgrade request already has those bytes
			// sitting in mc.buffer, and nothing guarantees another
			// Read ever arrives to surface them.
		}

		fatal := false
		mc.processFrames(
			func(payload []byte) {
				metrics.FramesProcessed.Inc()
				var probe json.RawMessage
				if err := json.Unmarshal(payload, &probe); err != nil {
					log.Debug().Err(err).Str("connId", mc.id).Msg("discarding malformed text frame")
					return
				}
				s.handler.OnMessage(mc.id, payload)
			},
			func() { fatal = true },
		)

		if fatal {
			s.destroy(mc)
			return
		}
	}
}

func (s *Server) destroy(mc *ManagedConnection) {
	if !mc.markClosed() {
		return
	}
	_ = mc.conn.Close()

	if mc.id == "" {
		return // died during handshake, never registered
	}

	s.mu.Lock()
	delete(s.conns, mc.id)
	s.mu.Unlock()
	metrics.ConnectionsClosed.Inc()

	s.handler.OnDisconnect(mc.id)
}

// destroyQuiet tears down a connection that never completed its handshake,
// so it never fires OnDisconnect (it was never announced via OnConnection).
func (s *Server) destroyQuiet(mc *ManagedConnection) {
	if !mc.markClosed() {
		return
	}
	_ = mc.conn.Close()
}

// Send writes a JSON text frame to one connection. Failures are logged and
// surfaced via Handler.OnError; they never propagate to the caller as a
// panic or affect other connections.
func (s *Server) Send(connID string, value any) error {
	s.mu.RLock()
	mc, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return nil // connection already gone; not an error for the caller
	}

	payload, err := json.Marshal(value)
	if err != nil {
		s.handler.OnError(err)
		return err
	}

	if err := mc.writeFrame(wire.EncodeFrame(wire.OpText, payload)); err != nil {
		s.handler.OnError(err)
		return err
	}
	return nil
}

// Broadcast writes a JSON text frame to every connection except the
// excluded one, if any. A write failure on one connection never aborts
// delivery to the rest.
func (s *Server) Broadcast(value any, excludeConnID string) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.handler.OnError(err)
		return
	}
	frame := wire.EncodeFrame(wire.OpText, payload)

	s.mu.RLock()
	targets := make([]*ManagedConnection, 0, len(s.conns))
	for id, mc := range s.conns {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, mc)
	}
	s.mu.RUnlock()

	metrics.BroadcastsSent.Inc()
	for _, mc := range targets {
		if err := mc.writeFrame(frame); err != nil {
			log.Debug().Err(err).Str("connId", mc.id).Msg("broadcast write failed")
		}
	}
}

// ConnectionCount returns the number of connections that have completed
// their handshake.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Stop clears the keepalive timer, closes every connection with a close
// frame, and closes the listener.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.doneCh)

		s.mu.Lock()
		keepaliveTimer := s.keepaliveTimer
		s.mu.Unlock()
		if keepaliveTimer != nil {
			keepaliveTimer.Stop()
		}

		s.mu.Lock()
		conns := make([]*ManagedConnection, 0, len(s.conns))
		for _, mc := range s.conns {
			conns = append(conns, mc)
		}
		s.mu.Unlock()

		for _, mc := range conns {
			_ = mc.writeFrame([]byte{0x88, 0x00})
			_ = mc.conn.Close()
		}

		s.mu.Lock()
		s.conns = make(map[string]*ManagedConnection)
		s.mu.Unlock()

		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

func (s *Server) runKeepalive() {
	if s.cfg.KeepaliveInterval <= 0 {
		return
	}

	timer := time.NewTimer(s.cfg.KeepaliveInterval)
	s.mu.Lock()
	s.keepaliveTimer = timer
	s.mu.Unlock()
	defer timer.Stop()

	deadline := s.cfg.KeepaliveInterval + s.cfg.KeepaliveTimeout

	for {
		select {
		case <-s.doneCh:
			return
		case <-timer.C:
			s.mu.RLock()
			conns := make([]*ManagedConnection, 0, len(s.conns))
			for _, mc := range s.conns {
				conns = append(conns, mc)
			}
			s.mu.RUnlock()

			for _, mc := range conns {
				if mc.pongAge() > deadline {
					s.destroy(mc)
					continue
				}
				_ = mc.writeFrame(wire.EncodeFrame(wire.OpPing, nil))
			}

			timer.Reset(s.cfg.KeepaliveInterval)
		}
	}
}
