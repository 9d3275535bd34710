package streamhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// StatelessManagerOption represents the options for the StatelessManager.
type StatelessManagerOption func(*StatelessManager)

// StatelessManager processes exactly one exchange per call with zero
// persistent state. Each call constructs an ephemeral engine/channel pair
// whose teardown is deferred until the response stream is fully drained, since
// the caller may keep consuming the stream long after Handle returns.
type StatelessManager struct {
	newEngine EngineFactory
	logger    *slog.Logger
}

// NewStatelessManager creates a manager that produces engines through newEngine.
func NewStatelessManager(newEngine EngineFactory, options ...StatelessManagerOption) *StatelessManager {
	m := &StatelessManager{
		newEngine: newEngine,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// WithStatelessLogger returns a StatelessManagerOption that configures the logger.
func WithStatelessLogger(logger *slog.Logger) StatelessManagerOption {
	return func(m *StatelessManager) {
		m.logger = logger
	}
}

// Handle runs one self-contained exchange. Failures before a stream is
// produced clean up synchronously and propagate to the caller. Streaming
// responses are returned with a drain watcher attached: the engine may still
// be writing while the caller reads, so the ephemeral resources are closed
// only once the stream completes, errors, or is closed, exactly once.
// Buffered responses need no deferred path and are cleaned up before return.
func (m *StatelessManager) Handle(ctx context.Context, header http.Header, body []byte) (Response, error) {
	eng, err := m.newEngine(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}

	ch := NewChannel(ChannelOptions{Logger: m.logger})

	if err := eng.Bind(ch); err != nil {
		m.teardown(eng, ch)
		return Response{}, fmt.Errorf("%w: %w", ErrChannelBind, err)
	}

	resp, err := ch.ProcessExchange(ctx, FlattenHeader(header), body)
	if err != nil {
		m.teardown(eng, ch)
		return Response{}, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	if resp.Kind == ResponseBuffered {
		m.teardown(eng, ch)
		return resp, nil
	}

	resp.Stream = WatchDrain(resp.Stream, func() {
		m.teardown(eng, ch)
	})
	return resp, nil
}

// teardown closes an ephemeral engine/channel pair. Errors are logged and
// swallowed so teardown never masks the failure that triggered it.
func (m *StatelessManager) teardown(eng Engine, ch *Channel) {
	if err := errors.Join(ch.Close(), eng.Close()); err != nil {
		m.logger.Warn("failed to tear down ephemeral exchange resources", slog.String("err", err.Error()))
	}
}
