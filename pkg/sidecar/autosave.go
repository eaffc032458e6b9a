package sidecar

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// AutoSaver debounces sidecar writes: each Schedule replaces whatever
// was pending for that path, and the write happens once no new
// Schedule for the path has arrived for Delay. At most the latest
// settings are ever written.
type AutoSaver struct {
	Delay time.Duration

	save func(string, *Settings) error

	mu      sync.Mutex
	seq     int
	pending map[string]pendingWrite
	closed  bool
}

type pendingWrite struct {
	seq   int
	s     *Settings
	timer *time.Timer
}

func NewAutoSaver(delay time.Duration) *AutoSaver {
	return &AutoSaver{
		Delay:   delay,
		save:    Save,
		pending: map[string]pendingWrite{},
	}
}

// Schedule queues s to be written to imagePath's sidecar. s is copied,
// so the caller can keep changing it.
func (a *AutoSaver) Schedule(imagePath string, s *Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if old, exists := a.pending[imagePath]; exists {
		old.timer.Stop()
	}

	a.seq++
	seq := a.seq
	a.pending[imagePath] = pendingWrite{
		seq:   seq,
		s:     s.Clone(),
		timer: time.AfterFunc(a.Delay, func() { a.fire(imagePath, seq) }),
	}
}

// The timer for a superseded write may already be running when it is
// stopped; the seq check makes it a no-op.
func (a *AutoSaver) fire(imagePath string, seq int) {
	a.mu.Lock()
	pw, exists := a.pending[imagePath]
	if !exists || pw.seq != seq {
		a.mu.Unlock()
		return
	}
	delete(a.pending, imagePath)
	a.mu.Unlock()

	if err := a.save(imagePath, pw.s); err != nil {
		log.Printf("autosave: %v\n", err)
	}
}

// Pending reports whether a write for imagePath is waiting.
func (a *AutoSaver) Pending(imagePath string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, exists := a.pending[imagePath]
	return exists
}

// Flush writes everything that is pending, now.
func (a *AutoSaver) Flush() error {
	a.mu.Lock()
	todo := a.pending
	a.pending = map[string]pendingWrite{}
	a.mu.Unlock()

	var firstErr error
	for path, pw := range todo {
		pw.timer.Stop()
		if err := a.save(path, pw.s); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("autosave flush: %w", err)
		}
	}
	return firstErr
}

// Close flushes, and ignores any later Schedule calls.
func (a *AutoSaver) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.Flush()
}
