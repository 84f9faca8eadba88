// Package progress provides the cooperative cancellation token and the
// unbounded progress message queue shared by all pipeline stages.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Token is a shared cancellation flag checked cooperatively by the stages.
// Setting it never aborts in-flight work; it only stops the next iteration
// or stage from starting.
type Token struct {
	set atomic.Bool
}

// NewToken returns a cleared token.
func NewToken() *Token {
	return &Token{}
}

// Set raises the flag.
func (t *Token) Set() {
	if t != nil {
		t.set.Store(true)
	}
}

// Clear lowers the flag; called once at the start of a run.
func (t *Token) Clear() {
	if t != nil {
		t.set.Store(false)
	}
}

// IsSet reports whether cancellation was requested.
func (t *Token) IsSet() bool {
	return t != nil && t.set.Load()
}

// Sink is an unbounded FIFO of progress lines. Producers call Put from any
// goroutine; a single consumer drains it, typically on a fixed interval.
// Messages are never dropped and per-producer order is preserved.
type Sink struct {
	mu   sync.Mutex
	msgs []string

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{stop: make(chan struct{})}
}

// Put enqueues one message.
func (s *Sink) Put(msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

// Putf enqueues a formatted message.
func (s *Sink) Putf(format string, args ...any) {
	if s == nil {
		return
	}
	s.Put(fmt.Sprintf(format, args...))
}

// Drain removes and returns all queued messages.
func (s *Sink) Drain() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := s.msgs
	s.msgs = nil
	s.mu.Unlock()
	return out
}

// Pump polls the sink on a fixed interval and hands each message to fn,
// independent of the producer's pace. It performs one final drain when
// Stop is called so no message is lost.
func (s *Sink) Pump(interval time.Duration, fn func(string)) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, msg := range s.Drain() {
					fn(msg)
				}
			case <-s.stop:
				for _, msg := range s.Drain() {
					fn(msg)
				}
				return
			}
		}
	}()
}

// Stop terminates a running Pump after a final drain.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}
