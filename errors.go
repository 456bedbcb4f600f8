package artnet

import "errors"

// Decode errors. All are recoverable: the offending datagram is
// dropped and counted in Stats, never fatal.
var (
	ErrBadMagic        = errors.New("artnet: bad magic")
	ErrBadOpCode       = errors.New("artnet: unknown opcode")
	ErrTruncatedFrame  = errors.New("artnet: truncated frame")
	ErrFieldOutOfRange = errors.New("artnet: field out of range")
)

// Transport errors.
var (
	ErrBindFailed = errors.New("artnet: bind failed")
	ErrSendFailed = errors.New("artnet: send failed")
	ErrRecvFailed = errors.New("artnet: recv failed")
)

// Configuration errors, reported synchronously to the caller of the
// configuring operation.
var (
	ErrInvalidPortAddress = errors.New("artnet: invalid port address")
	ErrConflictingIPConfig = errors.New("artnet: both interface discovery and explicit IPs configured")
	ErrUnknownInterface    = errors.New("artnet: unknown interface")
)

// State errors.
var (
	ErrUniverseNotConfigured = errors.New("artnet: universe not configured locally")
)
