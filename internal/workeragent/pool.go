package workeragent

import (
	"context"
	"sync"

	"github.com/prubach/kafka-slurm-agent/internal/model"
)

// item is one queued (backend_id, input_job_id, command) triple awaiting a
// free worker.
type item struct {
	BackendID  string
	InputJobID model.JobKey
	Command    string
}

// pool is the bounded queue plus processing set shared between the dispatch
// loop and the W worker tasks, unified behind one mutex-guarded type rather
// than two loosely-coordinated structures.
type pool struct {
	queue chan item

	mu         sync.Mutex
	processing map[model.JobKey]struct{}
}

func newPool(capacity int) *pool {
	return &pool{
		queue:      make(chan item, capacity),
		processing: make(map[model.JobKey]struct{}),
	}
}

// enqueue blocks until there is room in the queue or ctx is cancelled. The
// dispatch loop checks len() before each tick, but one tick's budget can be
// larger than the room left in the queue, so enqueue can wait for a worker
// to take an item; ctx bounds that wait.
func (p *pool) enqueue(ctx context.Context, it item) error {
	select {
	case p.queue <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dequeue blocks until an item is available or ctx is cancelled.
func (p *pool) dequeue(ctx context.Context) (item, bool) {
	select {
	case it := <-p.queue:
		return it, true
	case <-ctx.Done():
		return item{}, false
	}
}

// len reports the number of items currently queued (not yet picked up by a
// worker) — used by the dispatch loop's admission math.
func (p *pool) len() int {
	return len(p.queue)
}

func (p *pool) markProcessing(key model.JobKey) {
	p.mu.Lock()
	p.processing[key] = struct{}{}
	p.mu.Unlock()
}

func (p *pool) unmarkProcessing(key model.JobKey) {
	p.mu.Lock()
	delete(p.processing, key)
	p.mu.Unlock()
}

// isProcessing reports whether key's subprocess is currently live. This
// backs the local status probe (CheckJobStatus) — membership test only, no
// reflection-style scanning.
func (p *pool) isProcessing(key model.JobKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.processing[key]
	return ok
}
