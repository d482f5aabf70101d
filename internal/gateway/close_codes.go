package gateway

import "errors"

// WebSocket close codes used by the gateway (spec §6). 1000 is RFC 6455's normal closure; 4001 and 1013 are the
// gateway's two application codes.
const (
	CloseNormal          = 1000
	CloseAuthFailed      = 4001 // authentication failed or token expired; client must not auto-reconnect
	ClosePolicyViolation = 1013 // per-user connection cap exceeded (registry.PolicyViolationCode)
)

// Sentinel errors for gateway connection failure modes.
var (
	ErrAuthFailed  = errors.New("authentication failed or token expired")
	ErrMaxConns    = errors.New("maximum connections per user exceeded")
	ErrDecodeError = errors.New("payload decode error")
)
