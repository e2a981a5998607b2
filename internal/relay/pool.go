package relay

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolFull is returned by Submit when the work queue has no room.
var ErrPoolFull = errors.New("worker pool queue is full")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool is a bounded worker pool for operator-initiated work, so a slow
// console command can never stall the connection loops.
type Pool struct {
	queue  chan func()
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// NewPool starts workers goroutines draining a queue of the given size.
//
// Precondition: workers >= 1; queueSize >= 1; logger non-nil.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	p := &Pool{
		queue:  make(chan func(), queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		task()
	}
	p.logger.Debug("pool worker exiting", zap.Int("worker", id))
}

// Submit enqueues a task without blocking.
//
// Postcondition: Returns ErrPoolFull when the queue is full, ErrPoolClosed
// after Close, nil otherwise.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}
