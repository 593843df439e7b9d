package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHandshakeRequest_ExtractsKeyAndVersion(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\n" +
		"Host: localhost:8082\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n")

	req, err := parseHandshakeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", req.Key)
	assert.Equal(t, "13", req.Version)
}

func TestParseHandshakeRequest_MissingKeyFails(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n\r\n")

	_, err := parseHandshakeRequest(raw)
	assert.ErrorIs(t, err, ErrMissingSecKey)
}

func TestHandshakeRequest_ValidateRejectsWrongVersion(t *testing.T) {
	req := handshakeRequest{Key: "x", Version: "8"}
	assert.ErrorIs(t, req.validate(), ErrInvalidVersion)
}

func TestHandshakeRequest_ValidateToleratesMissingVersion(t *testing.T) {
	req := handshakeRequest{Key: "x", Version: ""}
	assert.NoError(t, req.validate())
}

func TestComputeAcceptKey_MatchesRFC6455Example(t *testing.T) {
	// RFC 6455 Section 1.3 worked example.
	accept := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", accept)
}

func TestBuildHandshakeResponse_ContainsRequiredHeaders(t *testing.T) {
	resp := string(buildHandshakeResponse("dGhlIHNhbXBsZSBub25jZQ=="))
	assert.Contains(t, resp, "101 Switching Protocols")
	assert.Contains(t, resp, "Upgrade: websocket")
	assert.Contains(t, resp, "Connection: Upgrade")
	assert.Contains(t, resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
}
