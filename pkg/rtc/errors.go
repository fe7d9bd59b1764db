package rtc

import "errors"

var (
	errPortRange = errors.New("port range must be [min,max]")
	// ErrForeignStream is returned when a stream was not produced by this engine
	ErrForeignStream = errors.New("stream does not belong to this engine")
	// ErrNotEgress streams can only be attached to egress peer connections
	ErrNotEgress = errors.New("streams can only be attached to egress peer connections")
	// ErrNoTurnAuth the turn server was enabled without credentials
	ErrNoTurnAuth = errors.New("no turn auth provided")
)
