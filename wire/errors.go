package wire

import "errors"

// Errors of the framing layer. Every error DecodeFrame returns comes with
// Status Error and is fatal to the connection: the server destroys it.
// ErrInvalidFrameLength and ErrUnmaskedClientFrame are declared here but
// DecodeFrame never returns them.
var (
	// ErrFramePayloadTooLarge is returned when a frame declares a payload
	// length above the configured maximum, or when a 64-bit length has its
	// high 32 bits set.
	ErrFramePayloadTooLarge = errors.New("wire: frame payload too large")

	// ErrInvalidFrameLength names a structurally malformed length field.
	// DecodeFrame reports oversized lengths with ErrFramePayloadTooLarge
	// instead.
	ErrInvalidFrameLength = errors.New("wire: invalid frame length")

	// ErrReservedBits is returned when RSV1-3 are set without extension
	// negotiation (this core negotiates none).
	ErrReservedBits = errors.New("wire: reserved bits must be zero")

	// ErrInvalidOpcode is returned for an opcode outside RFC 6455's
	// defined set.
	ErrInvalidOpcode = errors.New("wire: invalid opcode")

	// ErrControlFragmented is returned when a control frame has FIN=0.
	ErrControlFragmented = errors.New("wire: control frame must not be fragmented")

	// ErrControlTooLarge is returned when a control frame payload exceeds
	// 125 bytes.
	ErrControlTooLarge = errors.New("wire: control frame payload exceeds 125 bytes")

	// ErrUnmaskedClientFrame names a client frame that arrives without the
	// mask bit set. Neither DecodeFrame nor the server returns it: unmasked
	// client frames are always accepted.
	ErrUnmaskedClientFrame = errors.New("wire: client frame must be masked")
)
