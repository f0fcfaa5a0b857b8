package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs deferred tasks: timeout sweeps, AI turns, anything
// that has to re-invoke the engine after a delay. It owns its timers so
// shutdown cancels everything outstanding.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	stopped bool
	timers  map[int64]*time.Timer
	nextID  int64
	wg      sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger: logger,
		timers: make(map[int64]*time.Timer),
	}
}

// After runs fn once after the delay. Returns a cancel function; after
// Stop, After is a no-op.
func (s *Scheduler) After(delay time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() {}
	}

	id := s.nextID
	s.nextID++
	s.wg.Add(1)

	timer := time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	s.timers[id] = timer

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok && t.Stop() {
			delete(s.timers, id)
			s.wg.Done()
		}
	}
}

// Every runs fn at the given interval until cancelled or the scheduler
// stops. The first run happens after one interval, not immediately.
func (s *Scheduler) Every(interval time.Duration, fn func()) (cancel func()) {
	done := make(chan struct{})
	var once sync.Once
	cancelFn := func() { once.Do(func() { close(done) }) }

	ticker := time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.mu.Lock()
				stopped := s.stopped
				s.mu.Unlock()
				if stopped {
					return
				}
				fn()
			}
		}
	}()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancelFn()
		return cancelFn
	}
	s.mu.Unlock()
	return cancelFn
}

// Stop cancels all pending one-shot tasks and prevents new ones.
// Periodic tasks exit on their next tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.logger.Debug("scheduler stopped")
}
