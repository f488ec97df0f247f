// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pmain.c (accept thread + N worker threads,
// least-loaded assignment, fd-reserve admission check).
//

package workerpool

import (
	"context"
	"sync/atomic"

	"github.com/bassosimone/nioproxy"
	"github.com/bassosimone/nioproxy/proxyconn"
	"golang.org/x/sync/semaphore"
)

// Pool is the worker thread pool of spec §4.7: N workers, one accept
// path shared across them, least-loaded assignment, and a weighted
// semaphore standing in for the original's ad hoc fd-reserve check.
type Pool struct {
	workers []*worker
	sem     *semaphore.Weighted
	nextID  atomic.Uint64
}

// NewPool constructs a [*Pool] with cfg.Workers worker goroutines, not
// yet started (see [Pool.Start]).
func NewPool(cfg *Config, nioCfg *nioproxy.Config, logger nioproxy.SLogger) *Pool {
	cfg = cfg.clamp()
	workers := make([]*worker, cfg.Workers)
	for i := range workers {
		workers[i] = newWorker(uint32(i), cfg.QueueSize, cfg.ConnIdleTimeout, cfg.ExpiredConnCheckPeriod, logger, nioCfg.TimeNow)
	}
	return &Pool{
		workers: workers,
		sem:     semaphore.NewWeighted(cfg.fdBudget()),
	}
}

// Start launches every worker's event loop; each stops when ctx is done.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// NextConnID returns the next monotonically increasing connection
// identity (spec §3 "monotonically assigned 64-bit id").
func (p *Pool) NextConnID() uint64 {
	return p.nextID.Add(1)
}

// TryAdmit attempts to reserve one unit of the fd budget for a new
// connection, per spec §4.6/§5 "accept refuses when fewer than 10 fds
// remain available". Returns false if the budget is exhausted; the
// accept path should refuse and log in that case.
func (p *Pool) TryAdmit() bool {
	return p.sem.TryAcquire(1)
}

// Release returns one unit of the fd budget, called when a Conn reaches
// [proxyconn.Freed].
func (p *Pool) Release() {
	p.sem.Release(1)
}

// leastLoaded returns the worker with the smallest current load,
// breaking ties toward the lowest index (spec §4.7 "assigned to the
// least-loaded worker by running count, sampled atomically").
func (p *Pool) leastLoaded() *worker {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.Load() < best.Load() {
			best = w
		}
	}
	return best
}

// Dispatch assigns conn to the least-loaded worker and enqueues job on
// it. It returns false (without running job) if that worker's queue is
// full, in which case conn is left unattached.
func (p *Pool) Dispatch(c *proxyconn.Conn, job func()) bool {
	w := p.leastLoaded()
	w.Attach(c)
	if w.Enqueue(job) {
		return true
	}
	w.Detach(c)
	return false
}

// NumWorkers reports how many workers this pool manages.
func (p *Pool) NumWorkers() int {
	return len(p.workers)
}
