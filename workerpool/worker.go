// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxythr/privsep.c (per-thread event base,
// least-loaded scheduling, idle sweep) and pmain.c (accept-thread to
// worker-thread handoff).
//

package workerpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bassosimone/nioproxy"
	"github.com/bassosimone/nioproxy/proxyconn"
)

// worker owns a single-threaded cooperative dispatch loop: every job and
// every idle-sweep tick is processed by the same goroutine, so the
// connection map and every attached [*proxyconn.Conn] are only ever
// touched by that one goroutine (spec §3 invariant, §5 "Ordering
// guarantee").
type worker struct {
	id    uint32
	jobs  chan func()
	load  atomic.Int64
	conns map[uint64]*proxyconn.Conn

	idleTimeout time.Duration
	checkPeriod time.Duration

	logger  nioproxy.SLogger
	timeNow func() time.Time
}

func newWorker(id uint32, queueSize int, idleTimeout, checkPeriod time.Duration, logger nioproxy.SLogger, timeNow func() time.Time) *worker {
	return &worker{
		id:          id,
		jobs:        make(chan func(), queueSize),
		conns:       make(map[uint64]*proxyconn.Conn),
		idleTimeout: idleTimeout,
		checkPeriod: checkPeriod,
		logger:      logger,
		timeNow:     timeNow,
	}
}

// Load returns the worker's current attached-connection count, sampled
// atomically for the pool's least-loaded selection (spec §4.7).
func (w *worker) Load() int64 {
	return w.load.Load()
}

// Attach assigns conn to this worker, per spec §4.7 "A Conn is attached
// (load counter ++) when assigned".
func (w *worker) Attach(c *proxyconn.Conn) {
	w.conns[c.ID] = c
	c.WorkerID = int(w.id)
	w.load.Add(1)
}

// Detach removes conn from this worker, per spec §4.7 "and detached at
// free".
func (w *worker) Detach(c *proxyconn.Conn) {
	if _, ok := w.conns[c.ID]; !ok {
		return
	}
	delete(w.conns, c.ID)
	w.load.Add(-1)
}

// Enqueue submits a job to the worker's queue, returning false if the
// queue is full (the caller should then refuse the new connection rather
// than block the accept path).
func (w *worker) Enqueue(job func()) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Run drives the worker's event loop until ctx is done: jobs are
// dispatched as they arrive, and an idle sweep runs every checkPeriod.
// Matches the Go idiom spec §3.7 prescribes in place of the original's
// self-pipe-interrupted libevent base.
func (w *worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.checkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainOnShutdown()
			return
		case job := <-w.jobs:
			job()
		case <-ticker.C:
			w.sweepIdle()
		}
	}
}

// sweepIdle terminates every Conn whose AccessTime predates idleTimeout,
// per spec §4.7 "terminating Conns whose atime is older than
// conn_idle_timeout".
func (w *worker) sweepIdle() {
	now := w.timeNow()
	for id, c := range w.conns {
		if now.Sub(c.AccessTime) <= w.idleTimeout {
			continue
		}
		w.logger.Info("connIdleTimeout",
			"connID", id,
			"workerID", w.id,
			"idleFor", now.Sub(c.AccessTime).String(),
		)
		c.Term = true
		c.Free()
		delete(w.conns, id)
		w.load.Add(-1)
	}
}

// drainOnShutdown tears down every connection still attached to this
// worker when the pool's context is cancelled (spec §5 "Cancellation:
// setting a process signal interrupts the worker loops and causes
// orderly shutdown").
func (w *worker) drainOnShutdown() {
	for id, c := range w.conns {
		c.Term = true
		c.Free()
		delete(w.conns, id)
		w.load.Add(-1)
	}
}
