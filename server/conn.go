// Package server implements the handcrafted WebSocket server: a raw TCP
// listener, a manual HTTP upgrade handshake, and a buffer-driven frame loop
// per connection. It never uses net/http or http.Hijacker — the listener
// is a plain net.Listener, since nothing here wants ordinary HTTP
// semantics once the upgrade completes.
package server

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/couchcast/party-core/wire"
)

// ManagedConnection wraps one accepted TCP connection through handshake,
// framing, and teardown.
type ManagedConnection struct {
	id            string
	conn          net.Conn
	buffer        *wire.Buffer
	handshakeDone bool

	mu              sync.Mutex
	lastPong        time.Time
	closed          bool
	maxFramePayload int

	writeMu sync.Mutex
}

func newManagedConnection(conn net.Conn, maxFramePayload int) *ManagedConnection {
	return &ManagedConnection{
		conn:            conn,
		buffer:          wire.NewBuffer(),
		lastPong:        time.Now(),
		maxFramePayload: maxFramePayload,
	}
}

// touchPong records a fresh PONG for the keepalive timer.
func (c *ManagedConnection) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *ManagedConnection) pongAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

func (c *ManagedConnection) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *ManagedConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writeFrame writes a pre-encoded frame directly to the socket. Multiple
// goroutines may call this concurrently (the engine's broadcast path and
// this connection's own keepalive/close handling), so writes are
// serialized with a dedicated mutex distinct from the state mutex above.
func (c *ManagedConnection) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

// tryHandshake scans the buffer for the end of the HTTP header block. It
// returns true once the handshake has completed (successfully or not); the
// caller destroys the connection on a reported error.
func (c *ManagedConnection) tryHandshake() (done bool, err error) {
	data := c.buffer.Bytes()
	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx < 0 {
		return false, nil
	}
	headerLen := idx + 4

	req, parseErr := parseHandshakeRequest(data[:headerLen])
	if parseErr != nil {
		return true, parseErr
	}
	if validateErr := req.validate(); validateErr != nil {
		return true, validateErr
	}

	if writeErr := c.writeFrame(buildHandshakeResponse(req.Key)); writeErr != nil {
		return true, writeErr
	}

	c.buffer.Compact(headerLen)
	c.handshakeDone = true
	return true, nil
}

// processFrames decodes as many complete frames as are available and
// dispatches each by opcode. It calls onFatal, and stops decoding, when a
// frame fails to decode or a CLOSE frame is processed; the caller must then
// destroy the connection.
func (c *ManagedConnection) processFrames(onText func(payload []byte), onFatal func()) {
	offset := 0
	data := c.buffer.Bytes()

	for {
		frame, status, consumed, err := wire.DecodeFrame(data[offset:], c.maxFramePayload)
		switch status {
		case wire.NeedMore:
			c.buffer.Compact(offset)
			return

		case wire.Error:
			_ = err
			c.buffer.Compact(offset)
			onFatal()
			return

		case wire.Frame:
			offset += consumed
			c.dispatchFrame(frame, onText, onFatal)
			if frame.Opcode == wire.OpClose || c.isClosed() {
				c.buffer.Compact(offset)
				return
			}
		}
	}
}

func (c *ManagedConnection) dispatchFrame(frame wire.DecodedFrame, onText func(payload []byte), onFatal func()) {
	switch frame.Opcode {
	case wire.OpText:
		onText(frame.Payload)

	case wire.OpClose:
		_ = c.writeFrame([]byte{0x88, 0x00})
		onFatal()

	case wire.OpPing:
		_ = c.writeFrame(wire.EncodeFrame(wire.OpPong, frame.Payload))

	case wire.OpPong:
		c.touchPong()

	default:
		// Binary and unrecognized opcodes are decoded and discarded; this
		// protocol only ever exchanges TEXT frames.
		log.Debug().Str("connId", c.id).Stringer("opcode", frame.Opcode).Msg("discarding non-text frame")
	}
}
