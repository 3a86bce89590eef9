package thread

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrSchedulerClosed is returned by ScheduleTask once the scheduler stopped
// accepting work. The task has not run and never will.
var ErrSchedulerClosed = errors.New("thread: scheduler closed")

// Priority orders queued tasks: higher runs first, equal priorities run in
// submission order. The zero value is PriorityNormal.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// level maps a priority to its queue index; values outside the known range
// are clamped.
func (p Priority) level() int {
	switch {
	case p >= PriorityHigh:
		return 0
	case p <= PriorityLow:
		return 2
	default:
		return 1
	}
}

// TaskScheduler runs tasks asynchronously.
// Implementations must be safe for concurrent use. A non-nil error means the
// task was rejected and will not run.
type TaskScheduler interface {
	ScheduleTask(task func(), priority Priority) error
}

// ThreadPool is a TaskScheduler backed by a fixed number of worker
// goroutines. Queued tasks are kept in one FIFO per priority and workers
// always drain the highest non-empty one. ScheduleTask blocks while the
// queue is full.
type ThreadPool struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	notFull  sync.Cond
	queues   [3][]func()
	queued   int
	limit    int
	closed   bool

	g errgroup.Group
}

// NewThreadPool starts workers goroutines. Non-positive arguments fall back
// to one worker and a queue of 64 tasks.
func NewThreadPool(workers, queue int) *ThreadPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 64
	}
	p := &ThreadPool{limit: queue}
	p.notEmpty.L = &p.mu
	p.notFull.L = &p.mu
	for i := 0; i < workers; i++ {
		p.g.Go(p.worker)
	}
	return p
}

func (p *ThreadPool) worker() error {
	for {
		task, ok := p.next()
		if !ok {
			return nil
		}
		task()
	}
}

// next blocks for the highest-priority queued task. It reports false once
// the pool is closed and drained.
func (p *ThreadPool) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queued == 0 && !p.closed {
		p.notEmpty.Wait()
	}
	for i := range p.queues {
		q := p.queues[i]
		if len(q) == 0 {
			continue
		}
		task := q[0]
		q[0] = nil
		p.queues[i] = q[1:]
		p.queued--
		p.notFull.Signal()
		return task, true
	}
	return nil, false
}

// ScheduleTask enqueues task at the given priority. After Close it returns
// ErrSchedulerClosed, also to callers blocked on a full queue.
func (p *ThreadPool) ScheduleTask(task func(), priority Priority) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.queued >= p.limit && !p.closed {
		p.notFull.Wait()
	}
	if p.closed {
		return ErrSchedulerClosed
	}
	lvl := priority.level()
	p.queues[lvl] = append(p.queues[lvl], task)
	p.queued++
	p.notEmpty.Signal()
	return nil
}

// Close stops accepting tasks, runs what is already queued and waits for
// all workers. It is safe to call more than once.
func (p *ThreadPool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()
	return p.g.Wait()
}

// GoScheduler runs every task on a new goroutine; priority is ignored.
type GoScheduler struct{}

// ScheduleTask implements TaskScheduler.
func (GoScheduler) ScheduleTask(task func(), _ Priority) error {
	go task()
	return nil
}

var (
	_ TaskScheduler = (*ThreadPool)(nil)
	_ TaskScheduler = GoScheduler{}
)
