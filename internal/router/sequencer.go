package router

import "sync"

// sequencer runs tasks serially per key while letting different keys
// proceed in parallel. Events for one user therefore keep their arrival
// order even though a handler suspends on I/O, and one user's slow
// completion call never stalls another user's turn.
type sequencer struct {
	mu      sync.Mutex
	queues  map[int64][]func()
	running map[int64]bool
	wg      sync.WaitGroup
}

func newSequencer() *sequencer {
	return &sequencer{
		queues:  make(map[int64][]func()),
		running: make(map[int64]bool),
	}
}

// enqueue appends the task to the key's queue and starts a drainer if none
// is active for that key. The drainer exits once the queue empties, so idle
// keys hold no goroutine.
func (s *sequencer) enqueue(key int64, task func()) {
	s.mu.Lock()
	s.queues[key] = append(s.queues[key], task)
	if !s.running[key] {
		s.running[key] = true
		s.wg.Add(1)
		go s.drain(key)
	}
	s.mu.Unlock()
}

func (s *sequencer) drain(key int64) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[key]
		if len(queue) == 0 {
			delete(s.queues, key)
			delete(s.running, key)
			s.mu.Unlock()
			return
		}
		task := queue[0]
		s.queues[key] = queue[1:]
		s.mu.Unlock()
		task()
	}
}

// waitIdle blocks until every queued task has run. Used on shutdown and in
// tests.
func (s *sequencer) waitIdle() {
	s.wg.Wait()
}
