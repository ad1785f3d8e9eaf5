// Package threadpool provides a variable-size worker pool with a bounded
// queue. The master's catalog uses two of these for leader-side and
// replica-side apply work.
package threadpool

import (
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"tabletdb/internal/status"
)

const defaultIdleTimeout = 500 * time.Millisecond

// Builder accumulates pool settings. The pool name appears in log lines and
// error messages.
type Builder struct {
	name         string
	minThreads   int
	maxThreads   int
	maxQueueSize int
	idleTimeout  time.Duration
}

func NewBuilder(name string) *Builder {
	return &Builder{
		name:         name,
		minThreads:   0,
		maxThreads:   runtime.NumCPU(),
		maxQueueSize: math.MaxInt,
		idleTimeout:  defaultIdleTimeout,
	}
}

func (b *Builder) MinThreads(n int) *Builder { b.minThreads = n; return b }

func (b *Builder) MaxThreads(n int) *Builder { b.maxThreads = n; return b }

func (b *Builder) MaxQueueSize(n int) *Builder { b.maxQueueSize = n; return b }

func (b *Builder) IdleTimeout(d time.Duration) *Builder { b.idleTimeout = d; return b }

func (b *Builder) Build() (*Pool, error) {
	if b.maxThreads <= 0 {
		return nil, status.InvalidArgument("thread pool %q must have max_threads > 0", b.name)
	}
	if b.minThreads > b.maxThreads {
		return nil, status.InvalidArgument("thread pool %q min_threads %d > max_threads %d",
			b.name, b.minThreads, b.maxThreads)
	}
	p := &Pool{
		name:         b.name,
		minThreads:   b.minThreads,
		maxThreads:   b.maxThreads,
		maxQueueSize: b.maxQueueSize,
		idleTimeout:  b.idleTimeout,
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.idleCond = sync.NewCond(&p.mu)
	p.mu.Lock()
	for i := 0; i < p.minThreads; i++ {
		p.spawnLocked(true)
	}
	p.mu.Unlock()
	return p, nil
}

// Pool executes submitted functions on a set of worker goroutines. Workers
// are created on demand up to maxThreads and idle ones above minThreads
// exit after idleTimeout.
type Pool struct {
	name         string
	minThreads   int
	maxThreads   int
	maxQueueSize int
	idleTimeout  time.Duration

	mu       sync.Mutex
	notEmpty *sync.Cond
	idleCond *sync.Cond

	queue      []func()
	numThreads int
	idle       int
	pending    int
	shutdown   bool
	workers    sync.WaitGroup
}

// Submit enqueues fn. Returns ServiceUnavailable when the queue is full and
// IllegalState after Shutdown.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return status.IllegalState("thread pool %q is shut down", p.name)
	}
	if len(p.queue) >= p.maxQueueSize {
		return status.ServiceUnavailable("thread pool %q queue is full (%d tasks)",
			p.name, p.maxQueueSize)
	}

	p.queue = append(p.queue, fn)
	p.pending++
	if p.idle == 0 && p.numThreads < p.maxThreads {
		p.spawnLocked(false)
	}
	p.notEmpty.Signal()
	return nil
}

func (p *Pool) spawnLocked(permanent bool) {
	p.numThreads++
	p.idle++
	p.workers.Add(1)
	go p.run(permanent)
}

// waitNotEmptyLocked blocks on notEmpty for at most d; returns true on
// timeout. The caller holds the lock.
func (p *Pool) waitNotEmptyLocked(d time.Duration) bool {
	timedOut := false
	wake := time.AfterFunc(d, func() {
		p.mu.Lock()
		timedOut = true
		p.notEmpty.Broadcast()
		p.mu.Unlock()
	})
	p.notEmpty.Wait()
	wake.Stop()
	return timedOut
}

func (p *Pool) run(permanent bool) {
	defer p.workers.Done()

	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.shutdown {
			if permanent {
				p.notEmpty.Wait()
				continue
			}
			if p.waitNotEmptyLocked(p.idleTimeout) &&
				len(p.queue) == 0 && !p.shutdown && p.numThreads > p.minThreads {
				p.exitLocked()
				return
			}
		}
		if p.shutdown && len(p.queue) == 0 {
			p.exitLocked()
			return
		}

		fn := p.queue[0]
		p.queue = p.queue[1:]
		p.idle--
		p.mu.Unlock()

		fn()

		p.mu.Lock()
		p.idle++
		p.pending--
		if p.pending == 0 {
			p.idleCond.Broadcast()
		}
	}
}

// exitLocked removes this worker from the books and releases the lock.
func (p *Pool) exitLocked() {
	p.numThreads--
	p.idle--
	p.mu.Unlock()
}

// Wait blocks until no tasks are queued or running.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.idleCond.Wait()
	}
}

// TimedWait reports whether the pool went idle within the bound.
func (p *Pool) TimedWait(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		wake := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.idleCond.Broadcast()
			p.mu.Unlock()
		})
		p.idleCond.Wait()
		wake.Stop()
	}
	return true
}

// Shutdown lets running tasks finish, drops queued ones and joins every
// worker. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.workers.Wait()
		return
	}
	p.shutdown = true

	if dropped := len(p.queue); dropped > 0 {
		slog.Info("thread pool dropped queued tasks on shutdown",
			"pool", p.name, "dropped", dropped)
		p.pending -= dropped
		p.queue = nil
	}
	if p.pending == 0 {
		p.idleCond.Broadcast()
	}
	p.notEmpty.Broadcast()
	p.mu.Unlock()

	p.workers.Wait()
}
