package conference

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/jiyeyuran/mediasoup-conference/internal/logger"
	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

// WorkerPool hands each new room one media worker, round robin, to
// spread router load across CPU cores. The allocator owns its index;
// there is no shared module state.
type WorkerPool struct {
	mu      sync.Mutex
	workers []sfu.Worker
	next    int
	logger  logr.Logger
}

// NewWorkerPool starts size workers on the engine. onDied is invoked
// when any worker process dies; rooms bound to a dead worker cannot be
// recovered, so callers normally treat it as fatal for the process.
func NewWorkerPool(engine sfu.Engine, size int, onDied func(err error)) (*WorkerPool, error) {
	if size < 1 {
		size = 1
	}

	pool := &WorkerPool{
		logger: logger.New("WorkerPool"),
	}

	for i := 0; i < size; i++ {
		worker, err := engine.NewWorker()
		if err != nil {
			pool.Close()
			return nil, err
		}
		worker.OnDied(func(err error) {
			pool.logger.Error(err, "worker died")
			if onDied != nil {
				onDied(err)
			}
		})
		pool.workers = append(pool.workers, worker)
	}

	pool.logger.Info("worker pool started", "size", len(pool.workers))

	return pool, nil
}

// Next returns the worker at the current index and advances the index
// modulo the pool size.
func (p *WorkerPool) Next() sfu.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	worker := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	return worker
}

// Len returns the pool size.
func (p *WorkerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.workers)
}

// Close closes every worker.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	for _, worker := range workers {
		worker.Close()
	}
}
