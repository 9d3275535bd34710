package streamhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Session is a read-only snapshot of one stateful client conversation as
// recorded in the registry.
type Session struct {
	// ID is the opaque unique identifier assigned at establishment time. It is
	// never reused.
	ID string

	// CreatedAt is the time the session entered the registry.
	CreatedAt time.Time

	// LastAccessedAt is refreshed on every dispatched request, both before and
	// after processing.
	LastAccessedAt time.Time

	// ActiveRequests counts the requests currently being processed on this
	// session. A session with in-flight requests is never reclaimed by the
	// sweep.
	ActiveRequests int
}

// session is the internal registry record. It owns exactly one engine and one
// channel; the channel is the sole ownership reference between the session and
// its engine. All mutation happens under the manager's lock.
type session struct {
	id             string
	createdAt      time.Time
	lastAccessedAt time.Time
	activeRequests int

	engine  Engine
	channel *Channel
}

// StatefulManagerOption represents the options for the StatefulManager.
type StatefulManagerOption func(*StatefulManager)

// StatefulManager owns session identity, admission control, and idle
// reclamation for the stateful interaction mode. It maintains an in-memory
// registry of live sessions and garbage-collects idle ones on a fixed
// interval. The registry does not survive process restart; multi-instance
// deployments require sticky routing.
//
// Instances should be created using NewStatefulManager and shut down using
// Shutdown when no longer needed.
type StatefulManager struct {
	newEngine     EngineFactory
	staleTimeout  time.Duration
	sweepInterval time.Duration
	scheduler     Scheduler
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	shutdown bool

	cancelSweep  func()
	shutdownOnce sync.Once
	closed       chan struct{}
}

var (
	defaultStaleTimeout  = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// NewStatefulManager creates a manager that produces engines through newEngine
// and immediately starts the background sweep. The returned manager must be
// shut down using Shutdown when no longer needed.
func NewStatefulManager(newEngine EngineFactory, options ...StatefulManagerOption) *StatefulManager {
	m := &StatefulManager{
		newEngine: newEngine,
		logger:    slog.Default(),
		sessions:  make(map[string]*session),
		closed:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.staleTimeout == 0 {
		m.staleTimeout = defaultStaleTimeout
	}
	if m.sweepInterval == 0 {
		m.sweepInterval = defaultSweepInterval
	}
	if m.scheduler == nil {
		m.scheduler = TickerScheduler{}
	}

	m.cancelSweep = m.scheduler.ScheduleRepeating(m.sweepInterval, m.sweep)

	return m
}

// WithStaleTimeout returns a StatefulManagerOption that configures how long a
// session may stay idle before the sweep reclaims it.
func WithStaleTimeout(timeout time.Duration) StatefulManagerOption {
	return func(m *StatefulManager) {
		m.staleTimeout = timeout
	}
}

// WithSweepInterval returns a StatefulManagerOption that configures the
// interval between sweep passes.
func WithSweepInterval(interval time.Duration) StatefulManagerOption {
	return func(m *StatefulManager) {
		m.sweepInterval = interval
	}
}

// WithScheduler returns a StatefulManagerOption that overrides the sweep
// scheduler, mainly so tests can drive sweeps without real delays.
func WithScheduler(scheduler Scheduler) StatefulManagerOption {
	return func(m *StatefulManager) {
		m.scheduler = scheduler
	}
}

// WithStatefulLogger returns a StatefulManagerOption that configures the logger.
func WithStatefulLogger(logger *slog.Logger) StatefulManagerOption {
	return func(m *StatefulManager) {
		m.logger = logger
	}
}

// EstablishSession creates a new session from a session-establishment request.
// It constructs one engine, binds it to one new channel, and registers the
// session once the channel confirms establishment; the registry entry exists
// before the first byte of the establishment response is observable. On any
// failure before that confirmation the engine and channel are torn down
// immediately and no registry entry remains. The returned Response is always
// the streaming variant carrying the assigned session identifier.
func (m *StatefulManager) EstablishSession(ctx context.Context, header http.Header, body []byte) (Response, error) {
	if !isEstablishRequest(body) {
		return badRequestResponse("session establishment requires an initialize request"), nil
	}

	eng, err := m.newEngine(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}

	var ch *Channel
	ch = NewChannel(ChannelOptions{
		SessionIDGenerator: uuid.NewString,
		OnSessionInitialized: func(sessionID string) {
			m.register(sessionID, eng, ch)
		},
		Logger: m.logger,
	})

	if err := eng.Bind(ch); err != nil {
		m.teardown(eng, ch)
		return Response{}, fmt.Errorf("%w: %w", ErrChannelBind, err)
	}

	resp, err := ch.ProcessExchange(ctx, FlattenHeader(header), body)
	if err != nil {
		// No registry entry may survive a failed establishment.
		if sessID := ch.SessionID(); sessID != "" {
			m.mu.Lock()
			delete(m.sessions, sessID)
			m.mu.Unlock()
		}
		m.teardown(eng, ch)
		return Response{}, fmt.Errorf("%w: %w", ErrExchange, err)
	}

	return resp, nil
}

// Dispatch runs one request on an established session. Unknown session ids
// yield the protocol-level not-found response rather than an error. The
// session's last-access time is refreshed and its in-flight counter held for
// the duration of the exchange, shielding it from the sweep.
func (m *StatefulManager) Dispatch(ctx context.Context, sessionID string, header http.Header, body []byte) (Response, error) {
	// The existence check and the counter increment happen under one lock
	// acquisition, so the sweep can never observe the session between them.
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return sessionNotFoundResponse(), nil
	}
	sess.lastAccessedAt = time.Now()
	sess.activeRequests++
	ch := sess.channel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		sess.activeRequests--
		sess.lastAccessedAt = time.Now()
		m.mu.Unlock()
	}()

	resp, err := ch.ProcessExchange(ctx, FlattenHeader(header), body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	return resp, nil
}

// Terminate explicitly deletes a session, closing its channel and engine.
// Closing the channel causes any outstanding exchange on it to fail; this is a
// best-effort interrupt, not a guaranteed one. Unknown session ids yield the
// protocol-level not-found response.
func (m *StatefulManager) Terminate(_ context.Context, sessionID string) (Response, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return sessionNotFoundResponse(), nil
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if err := closeSession(sess); err != nil {
		m.logger.Warn("failed to close terminated session",
			slog.String("sessionID", sessionID), slog.String("err", err.Error()))
	}

	return NewBufferedResponse(http.StatusOK, nil, nil), nil
}

// GetSession returns a snapshot of the session with the given id, reporting
// whether it is present in the registry.
func (m *StatefulManager) GetSession(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return Session{
		ID:             sess.id,
		CreatedAt:      sess.createdAt,
		LastAccessedAt: sess.lastAccessedAt,
		ActiveRequests: sess.activeRequests,
	}, true
}

// Shutdown cancels the sweep, closes every remaining session concurrently, and
// clears the registry. It is idempotent and blocks until teardown completes or
// ctx is done.
func (m *StatefulManager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.cancelSweep()

		m.mu.Lock()
		m.shutdown = true
		remaining := make([]*session, 0, len(m.sessions))
		for _, sess := range m.sessions {
			remaining = append(remaining, sess)
		}
		m.sessions = make(map[string]*session)
		m.mu.Unlock()

		go func() {
			m.closeAll(remaining)
			close(m.closed)
		}()
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to shut down stateful manager: %w", ctx.Err())
	case <-m.closed:
	}
	return nil
}

// register inserts a freshly established session into the registry. It is
// invoked from the channel's initialized hook, before the establishment
// response starts streaming.
func (m *StatefulManager) register(sessionID string, eng Engine, ch *Channel) {
	now := time.Now()

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.logger.Warn("rejecting session established during shutdown", slog.String("sessionID", sessionID))
		m.teardown(eng, ch)
		return
	}
	m.sessions[sessionID] = &session{
		id:             sessionID,
		createdAt:      now,
		lastAccessedAt: now,
		engine:         eng,
		channel:        ch,
	}
	m.mu.Unlock()

	m.logger.Info("session established", slog.String("sessionID", sessionID))
}

// sweep reclaims idle sessions. Sessions with in-flight requests are skipped
// no matter how stale they are; eligible sessions are removed from the
// registry first and then closed concurrently to bound sweep latency.
func (m *StatefulManager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var stale []*session
	for id, sess := range m.sessions {
		if now.Sub(sess.lastAccessedAt) <= m.staleTimeout {
			continue
		}
		if sess.activeRequests > 0 {
			m.logger.Info("skipping stale session with in-flight requests",
				slog.String("sessionID", id), slog.Int("activeRequests", sess.activeRequests))
			continue
		}
		delete(m.sessions, id)
		stale = append(stale, sess)
	}
	m.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	m.logger.Info("sweeping idle sessions", slog.Int("count", len(stale)))
	m.closeAll(stale)
}

// closeAll closes the given sessions concurrently. Each session's teardown is
// isolated; a failure closing one session never aborts the others, and close
// errors are logged and swallowed.
func (m *StatefulManager) closeAll(sessions []*session) {
	g := new(errgroup.Group)
	for _, sess := range sessions {
		g.Go(func() error {
			if err := closeSession(sess); err != nil {
				m.logger.Warn("failed to close session",
					slog.String("sessionID", sess.id), slog.String("err", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// teardown closes a partially constructed engine/channel pair. Errors are
// logged and swallowed so teardown never masks the failure that triggered it.
func (m *StatefulManager) teardown(eng Engine, ch *Channel) {
	if err := errors.Join(ch.Close(), eng.Close()); err != nil {
		m.logger.Warn("failed to tear down session resources", slog.String("err", err.Error()))
	}
}

func closeSession(s *session) error {
	return errors.Join(s.channel.Close(), s.engine.Close())
}
