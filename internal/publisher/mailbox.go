package publisher

import (
	"sync"
	"sync/atomic"
)

// mailbox runs posted jobs one at a time in FIFO order. A worker goroutine
// exists only while the queue is non-empty.
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.drain()
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
	}
}

// Job states. A queued job is claimed exactly once, either by the worker
// starting it or by its caller abandoning it.
const (
	jobQueued int32 = iota
	jobStarted
	jobAbandoned
)

type jobState struct {
	v atomic.Int32
}

func (s *jobState) start() bool {
	return s.v.CompareAndSwap(jobQueued, jobStarted)
}

func (s *jobState) abandon() bool {
	return s.v.CompareAndSwap(jobQueued, jobAbandoned)
}
