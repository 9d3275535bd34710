package streamhttp

import (
	"sync"
	"time"
)

// Scheduler abstracts timer-driven repetition so the sweep can be driven
// manually in tests without real delays.
type Scheduler interface {
	// ScheduleRepeating invokes fn every interval until the returned cancel
	// function is called. Cancel must be safe to call more than once.
	ScheduleRepeating(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler is the production Scheduler, driving callbacks from a
// time.Ticker on a dedicated goroutine.
type TickerScheduler struct{}

// ScheduleRepeating implements the Scheduler interface.
func (TickerScheduler) ScheduleRepeating(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
		})
	}
}
