package streamhttp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	streamhttp "github.com/MegaGrindStone/go-streamhttp"
	"github.com/tmaxmax/go-sse"
)

// spyEngine is a minimal Engine that answers every request with an empty
// result and counts Close calls, so tests can verify teardown behavior.
type spyEngine struct {
	bindErr   error
	handleErr error
	delay     time.Duration

	closeCalls atomic.Int64
}

func (e *spyEngine) Bind(ch *streamhttp.Channel) error {
	if e.bindErr != nil {
		return e.bindErr
	}
	return ch.Attach(e.handleMessage)
}

func (e *spyEngine) Close() error {
	e.closeCalls.Add(1)
	return nil
}

func (e *spyEngine) handleMessage(ctx context.Context, msg streamhttp.JSONRPCMessage) (streamhttp.JSONRPCMessage, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return streamhttp.JSONRPCMessage{}, ctx.Err()
		}
	}
	if e.handleErr != nil {
		return streamhttp.JSONRPCMessage{}, e.handleErr
	}
	return streamhttp.JSONRPCMessage{
		JSONRPC: streamhttp.JSONRPCVersion,
		ID:      msg.ID,
		Result:  json.RawMessage(`{}`),
	}, nil
}

// spyEngineFactory produces spyEngines and remembers every instance it handed
// out.
type spyEngineFactory struct {
	initErr   error
	bindErr   error
	handleErr error
	delay     time.Duration

	mu      sync.Mutex
	engines []*spyEngine
}

func (f *spyEngineFactory) factory(_ context.Context) (streamhttp.Engine, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	e := &spyEngine{
		bindErr:   f.bindErr,
		handleErr: f.handleErr,
		delay:     f.delay,
	}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

func (f *spyEngineFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *spyEngineFactory) engine(i int) *spyEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

// manualScheduler lets tests trigger sweep passes on demand instead of waiting
// on real timers.
type manualScheduler struct {
	mu      sync.Mutex
	fn      func()
	cancels int
}

func (s *manualScheduler) ScheduleRepeating(_ time.Duration, fn func()) func() {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancels++
		s.mu.Unlock()
	}
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func initializeBody(id string) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"initialize",`+
		`"params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0.1.0"}}}`, id))
}

func pingBody(id string) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"ping"}`, id))
}

func notificationBody() []byte {
	return []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
}

func headerValue(pairs []streamhttp.HeaderPair, key string) string {
	for _, p := range pairs {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// readMessage drains a streaming response and returns the single JSON-RPC
// message carried in its SSE events.
func readMessage(t *testing.T, stream io.Reader) streamhttp.JSONRPCMessage {
	t.Helper()

	var msg streamhttp.JSONRPCMessage
	found := false
	for ev, err := range sse.Read(stream, nil) {
		if err != nil {
			t.Fatalf("failed to read SSE event: %v", err)
		}
		if ev.Type != "message" {
			continue
		}
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			t.Fatalf("failed to unmarshal SSE event data: %v", err)
		}
		found = true
	}
	if !found {
		t.Fatal("no message event in stream")
	}
	return msg
}
