package domain

import "errors"

// Failure taxonomy of a live session. Only the first three are user visible.
var (
	ErrIdentityConflict = errors.New("identity conflict: host identifier already bound")
	ErrMedia            = errors.New("media error")
	ErrConnection       = errors.New("connection error")
	ErrProtocol         = errors.New("protocol error")
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoDevice         = errors.New("no capture device")
	ErrUnknownLesson    = errors.New("unknown lesson")
	ErrNotHost          = errors.New("only the host may do this")
	ErrClosed           = errors.New("closed")
)
