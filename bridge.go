package streamhttp

import (
	"io"
	"net/http"
	"sort"
	"sync"
)

// HeaderPair is a single header entry in the channel's native flat
// representation. Multi-valued headers (e.g. multiple Set-Cookie entries) are
// represented as repeated pairs, never comma-joined.
type HeaderPair struct {
	Key   string
	Value string
}

// FlattenHeader converts an http.Header into the channel's flat pair
// representation, preserving every value of multi-valued keys as a separate
// entry. Keys are emitted in sorted order so the result is deterministic.
func FlattenHeader(h http.Header) []HeaderPair {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]HeaderPair, 0, len(h))
	for _, k := range keys {
		for _, v := range h[k] {
			pairs = append(pairs, HeaderPair{Key: k, Value: v})
		}
	}
	return pairs
}

// UnflattenHeader converts flat header pairs back into an http.Header,
// accumulating repeated keys as multiple values.
func UnflattenHeader(pairs []HeaderPair) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p.Key, p.Value)
	}
	return h
}

// DrainState describes the lifecycle of a watched stream.
type DrainState int

// Drain watcher states. CleanedUp is absorbing and is reachable from both
// Done and Errored through a single idempotent transition.
const (
	DrainStateDraining DrainState = iota
	DrainStateDone
	DrainStateErrored
	DrainStateCleanedUp
)

// drainWatcher wraps a response stream and fires a cleanup hook exactly once,
// after the stream has been fully drained, has errored, or has been closed by
// its consumer. It exists so that ephemeral engine/channel pairs can outlive
// the handler that created them until their response bytes are consumed.
type drainWatcher struct {
	rc      io.ReadCloser
	cleanup func()

	mu    sync.Mutex
	state DrainState
}

// WatchDrain returns a stream that behaves like rc but invokes cleanup exactly
// once when the stream completes, errors, or is closed. A double trigger from
// both the completion and error paths is guarded against.
func WatchDrain(rc io.ReadCloser, cleanup func()) io.ReadCloser {
	return &drainWatcher{rc: rc, cleanup: cleanup}
}

func (d *drainWatcher) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	switch {
	case err == io.EOF:
		d.finish(DrainStateDone)
	case err != nil:
		d.finish(DrainStateErrored)
	}
	return n, err
}

// Close releases the underlying stream and triggers cleanup if the consumer
// abandons the stream before draining it.
func (d *drainWatcher) Close() error {
	err := d.rc.Close()
	d.finish(DrainStateDone)
	return err
}

// finish moves the watcher from Draining to the given terminal state, runs
// the cleanup hook, and settles in CleanedUp. Only the first caller performs
// the transition; later completion or error signals are ignored.
func (d *drainWatcher) finish(terminal DrainState) {
	d.mu.Lock()
	if d.state != DrainStateDraining {
		d.mu.Unlock()
		return
	}
	d.state = terminal
	d.mu.Unlock()

	if d.cleanup != nil {
		d.cleanup()
	}

	d.mu.Lock()
	d.state = DrainStateCleanedUp
	d.mu.Unlock()
}
