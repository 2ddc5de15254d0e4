package dispatch

import (
	"sync"
	"time"
)

// Scheduler runs fn once d has elapsed. Scheduled work cannot be cancelled.
type Scheduler interface {
	After(d time.Duration, fn func())
}

type job struct {
	due time.Time
	fn  func()
}

// SerialScheduler runs delayed jobs one at a time on a single goroutine, in
// the order they were scheduled. A job is never run before its due time; a
// job with a shorter delay queued behind a longer one waits for it.
type SerialScheduler struct {
	now func() time.Time

	mu      sync.Mutex
	queue   []job
	wake    chan struct{}
	closed  bool
	pending sync.WaitGroup
	stopped chan struct{}
}

// NewSerialScheduler starts the scheduler goroutine.
func NewSerialScheduler() *SerialScheduler {
	s := &SerialScheduler{
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go s.loop()
	return s
}

// After queues fn to run once d has elapsed. After Close, fn runs
// immediately on the caller's goroutine.
func (s *SerialScheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.pending.Add(1)
	s.queue = append(s.queue, job{due: s.now().Add(d), fn: fn})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every job queued so far has run.
func (s *SerialScheduler) Wait() {
	s.pending.Wait()
}

// Close runs the remaining jobs when they fall due and stops the goroutine.
func (s *SerialScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.stopped
}

func (s *SerialScheduler) loop() {
	defer close(s.stopped)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		next := s.queue[0]
		s.mu.Unlock()

		if wait := next.due.Sub(s.now()); wait > 0 {
			timer := time.NewTimer(wait)
			<-timer.C
		}

		s.mu.Lock()
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next.fn()
		s.pending.Done()
	}
}
