package render

import (
	"sync"
	"time"
)

type schedState int

const (
	stateIdle schedState = iota
	stateRendering
	stateCooldown
)

func (s schedState) String() string {
	return [...]string{"idle", "rendering", "cooldown"}[s]
}

// Scheduler throttles render requests. A request while idle renders
// straight away; requests that arrive while a render is running, or
// during the cooldown after it, just set a pending flag. When the
// cooldown expires a single render runs for all of them, so under a
// stream of requests there is one render per cadence, and it always
// sees the latest state. Renders never overlap.
type Scheduler struct {
	cadence time.Duration
	render  func()

	// afterFunc is time.AfterFunc, unless a test needs a fake clock.
	afterFunc func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	state   schedState
	pending bool
	closed  bool
	timer   *time.Timer
	running sync.WaitGroup
}

func NewScheduler(cadence time.Duration, render func()) *Scheduler {
	return &Scheduler{
		cadence:   cadence,
		render:    render,
		afterFunc: time.AfterFunc,
	}
}

// Request asks for a render. It never blocks.
func (s *Scheduler) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.state != stateIdle {
		s.pending = true
		return
	}
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	s.state = stateRendering
	s.pending = false
	s.running.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.running.Done()
	s.render()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.state = stateIdle
		return
	}
	s.state = stateCooldown
	s.timer = s.afterFunc(s.cadence, s.cooldownExpired)
}

func (s *Scheduler) cooldownExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if s.closed || s.state != stateCooldown {
		return
	}
	if s.pending {
		s.startLocked()
		return
	}
	s.state = stateIdle
}

// Busy reports whether a render is running or cooling down.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != stateIdle
}

// Close drops any pending request and waits for a running render to
// finish. Later requests are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.running.Wait()
}
