package streamhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// ExchangeHandler processes one inbound protocol message and returns the
// reply. Engines install their handler on a channel during Bind. A zero-value
// reply means the message produced no response (e.g. a notification).
type ExchangeHandler func(ctx context.Context, msg JSONRPCMessage) (JSONRPCMessage, error)

// ChannelOptions configures a new Channel.
type ChannelOptions struct {
	// SessionIDGenerator produces the session identifier assigned on the
	// establishment exchange. Leave nil for ephemeral (stateless) channels,
	// which never carry a session identity.
	SessionIDGenerator func() string

	// OnSessionInitialized is invoked with the assigned session identifier
	// once the establishment exchange succeeds, strictly before the first byte
	// of the establishment response is observable to the caller.
	OnSessionInitialized func(sessionID string)

	// Logger overrides slog.Default().
	Logger *slog.Logger
}

// Channel is the bidirectional conduit carrying one session's (or one
// ephemeral request's) wire traffic. A channel routes each exchange through
// the handler installed by its bound engine and frames replies as SSE events.
// Instances should be created using NewChannel.
type Channel struct {
	idGenerator   func() string
	onInitialized func(string)
	logger        *slog.Logger

	mu        sync.Mutex
	handler   ExchangeHandler
	sessionID string
	closed    bool
}

var errChannelClosed = errors.New("channel is closed")

// NewChannel creates a channel ready to be bound to an engine.
func NewChannel(opts ChannelOptions) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		idGenerator:   opts.SessionIDGenerator,
		onInitialized: opts.OnSessionInitialized,
		logger:        logger,
	}
}

// SessionID returns the session identifier assigned to this channel, or an
// empty string if no establishment exchange has succeeded yet.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Attach installs the exchange handler of the bound engine. It fails if the
// channel is closed or already bound, keeping the engine-channel relationship
// strictly 1:1.
func (c *Channel) Attach(handler ExchangeHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errChannelClosed
	}
	if c.handler != nil {
		return errors.New("channel is already bound")
	}
	c.handler = handler
	return nil
}

// ProcessExchange runs one request/response exchange. Requests yield a
// streaming Response carrying the reply as SSE events; notifications yield a
// buffered 202 acknowledgment. Malformed bodies yield a buffered protocol
// error response rather than a failure.
//
// The header argument carries the request headers in the channel's flat pair
// representation; it is currently unused by the built-in engine but is passed
// through to keep the exchange contract uniform across engines.
func (c *Channel) ProcessExchange(ctx context.Context, _ []HeaderPair, body []byte) (Response, error) {
	c.mu.Lock()
	handler := c.handler
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return Response{}, errChannelClosed
	}
	if handler == nil {
		return Response{}, errors.New("channel is not bound to an engine")
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return errorResponse(http.StatusBadRequest, jsonRPCParseErrorCode, "invalid json"), nil
	}

	// Notifications carry no ID and expect no reply.
	if msg.ID == "" {
		if _, err := handler(ctx, msg); err != nil {
			c.logger.Warn("failed to process notification",
				slog.String("method", msg.Method), slog.String("err", err.Error()))
		}
		return NewBufferedResponse(http.StatusAccepted, nil, nil), nil
	}

	establishing := msg.Method == methodInitialize && c.idGenerator != nil && c.SessionID() == ""

	res, err := handler(ctx, msg)
	if err != nil {
		return Response{}, fmt.Errorf("failed to process exchange: %w", err)
	}

	// The session identity is confirmed only by a successful establishment
	// exchange, and the registration hook must fire before the response
	// begins streaming.
	if establishing && res.Error == nil {
		c.mu.Lock()
		c.sessionID = c.idGenerator()
		sessID := c.sessionID
		c.mu.Unlock()

		if c.onInitialized != nil {
			c.onInitialized(sessID)
		}
	}

	header := []HeaderPair{
		{Key: "Content-Type", Value: "text/event-stream"},
		{Key: "Cache-Control", Value: "no-cache"},
	}
	if sessID := c.SessionID(); sessID != "" {
		header = append(header, HeaderPair{Key: SessionIDHeader, Value: sessID})
	}

	pr, pw := io.Pipe()
	go func() {
		resBs, err := json.Marshal(res)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("failed to marshal reply: %w", err))
			return
		}

		ev := &sse.Message{
			Type: sse.Type("message"),
		}
		ev.AppendData(string(resBs))

		if _, err := ev.WriteTo(pw); err != nil {
			pw.CloseWithError(fmt.Errorf("failed to write SSE event: %w", err))
			return
		}
		pw.Close()
	}()

	return NewStreamingResponse(http.StatusOK, header, pr), nil
}

// Close marks the channel closed. It is idempotent and never fails; any
// exchange attempted afterwards is rejected.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
