package streamhttp

import (
	"context"
)

// SessionIDHeader is the HTTP header carrying the session identifier on
// stateful requests. Its absence on a non-establishment request is a protocol
// error surfaced to the client, not a manager failure.
const SessionIDHeader = "Session-Id"

// Engine is the protocol-processing unit bound to exactly one transport
// channel for its lifetime. The managers never construct engines themselves,
// they consume an EngineFactory instead.
type Engine interface {
	// Bind attaches the engine to the given channel. The implementation must
	// reject a second bind, as the engine-channel relationship is strictly 1:1.
	Bind(ch *Channel) error

	// Close releases the engine's resources. It must be idempotent; calling it
	// on an already-closed engine must not fail destructively.
	Close() error
}

// EngineFactory produces one fresh Engine instance per call. Implementations
// should fail fast on misconfiguration, as the managers treat a factory error
// as fatal for the exchange being served.
type EngineFactory func(ctx context.Context) (Engine, error)
