package server

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcast/party-core/wire"
)

type recordingHandler struct {
	mu          sync.Mutex
	listening   []string
	connections []string
	messages    map[string][][]byte
	disconnects []string
	errors      []error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{messages: make(map[string][][]byte)}
}

func (h *recordingHandler) OnListening(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listening = append(h.listening, addr)
}

func (h *recordingHandler) OnConnection(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections = append(h.connections, connID)
}

func (h *recordingHandler) OnMessage(connID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[connID] = append(h.messages[connID], payload)
}

func (h *recordingHandler) OnDisconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, connID)
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err)
}

func (h *recordingHandler) connectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

func (h *recordingHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

func (h *recordingHandler) messagesFor(connID string) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messages[connID]
}

func (h *recordingHandler) lastConnID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.connections) == 0 {
		return ""
	}
	return h.connections[len(h.connections)-1]
}

func startTestServer(t *testing.T, cfg Config) (*Server, *recordingHandler, string) {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	handler := newRecordingHandler()

	listener, err := net.Listen("tcp", cfg.Addr)
	require.NoError(t, err)
	addr := listener.Addr().String()
	_ = listener.Close()
	cfg.Addr = addr
	srv := New(cfg, handler)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	require.Eventually(t, func() bool { return len(handler.listening) > 0 }, time.Second, 5*time.Millisecond)
	return srv, handler, addr
}

func dialAndHandshake(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	req := "GET / HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	resp := string(buf[:n])
	require.Contains(t, resp, "101 Switching Protocols")
	_ = conn.SetReadDeadline(time.Time{})

	return conn
}

func maskedTextFrame(payload []byte) []byte {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	n := len(payload)

	var header []byte
	switch {
	case n < 126:
		header = []byte{0x81, 0x80 | byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = 0x81
		header[1] = 0x80 | 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = 0x81
		header[1] = 0x80 | 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	masked := make([]byte, n)
	copy(masked, payload)
	for i := range masked {
		masked[i] ^= key[i%4]
	}

	out := append(header, key[:]...)
	out = append(out, masked...)
	return out
}

func writeMaskedText(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	_, err := conn.Write(maskedTextFrame(payload))
	require.NoError(t, err)
}

func TestServer_HandshakeAndMessage(t *testing.T) {
	_, handler, addr := startTestServer(t, Config{MaxFramePayload: wire.DefaultMaxFramePayload})
	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	require.Eventually(t, func() bool { return handler.connectionCount() == 1 }, time.Second, 5*time.Millisecond)

	writeMaskedText(t, conn, []byte(`{"type":"PING","payload":{"id":"1","timestamp":1}}`))

	connID := handler.lastConnID()
	require.Eventually(t, func() bool { return len(handler.messagesFor(connID)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_ProcessesFramePipelinedWithHandshake(t *testing.T) {
	_, handler, addr := startTestServer(t, Config{MaxFramePayload: wire.DefaultMaxFramePayload})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	req := "GET / HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	// Write the upgrade request and the first WS frame in one segment, as
	// a client that doesn't wait for the 101 before sending its JOIN
	// would. The frame bytes must already be sitting past the header
	// boundary in the server's read buffer by the time it processes this
	// single Write.
	payload := []byte(`{"type":"PING","payload":{"id":"1","timestamp":1}}`)
	out := append([]byte(req), maskedTextFrame(payload)...)
	_, err = conn.Write(out)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "101 Switching Protocols")
	_ = conn.SetReadDeadline(time.Time{})

	connID := handler.lastConnID()
	require.Eventually(t, func() bool { return len(handler.messagesFor(connID)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_OversizedFrameDestroysConnection(t *testing.T) {
	_, handler, addr := startTestServer(t, Config{MaxFramePayload: 16})
	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	require.Eventually(t, func() bool { return handler.connectionCount() == 1 }, time.Second, 5*time.Millisecond)

	writeMaskedText(t, conn, make([]byte, 1024))

	require.Eventually(t, func() bool { return handler.disconnectCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_CloseFrameTearsDownConnection(t *testing.T) {
	_, handler, addr := startTestServer(t, Config{})
	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	require.Eventually(t, func() bool { return handler.connectionCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := conn.Write([]byte{0x88, 0x80, 0, 0, 0, 0}) // masked empty close frame
	require.NoError(t, err)

	require.Eventually(t, func() bool { return handler.disconnectCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_SendDeliversToOneConnection(t *testing.T) {
	srv, handler, addr := startTestServer(t, Config{})
	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	require.Eventually(t, func() bool { return handler.connectionCount() == 1 }, time.Second, 5*time.Millisecond)
	connID := handler.lastConnID()

	err := srv.Send(connID, map[string]string{"type": "PONG"})
	require.NoError(t, err)

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "PONG")
}

func TestServer_BroadcastReachesAllConnections(t *testing.T) {
	srv, handler, addr := startTestServer(t, Config{})
	conn1 := dialAndHandshake(t, addr)
	defer conn1.Close()
	conn2 := dialAndHandshake(t, addr)
	defer conn2.Close()

	require.Eventually(t, func() bool { return handler.connectionCount() == 2 }, time.Second, 5*time.Millisecond)

	srv.Broadcast(map[string]string{"type": "STATE_UPDATE"}, "")

	for _, c := range []net.Conn{conn1, conn2} {
		buf := make([]byte, 256)
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := c.Read(buf)
		require.NoError(t, err)
		assert.Contains(t, string(buf[:n]), "STATE_UPDATE")
	}
}
