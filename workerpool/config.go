// SPDX-License-Identifier: GPL-3.0-or-later

// Package workerpool balances connections across a fixed set of worker
// goroutines, each running a single-threaded cooperative dispatch loop
// (spec §4.7, §5), and bounds the number of connections concurrently
// admitted with a weighted semaphore sized off the process fd budget.
package workerpool

import (
	"runtime"
	"time"
)

// Bounds on [Config.ExpiredConnCheckPeriod] and [Config.ConnIdleTimeout],
// per spec §4.7.
const (
	MinExpiredConnCheckPeriod     = 10 * time.Second
	MaxExpiredConnCheckPeriod     = 60 * time.Second
	DefaultExpiredConnCheckPeriod = 10 * time.Second

	MinConnIdleTimeout     = 10 * time.Second
	MaxConnIdleTimeout     = 3600 * time.Second
	DefaultConnIdleTimeout = 120 * time.Second
)

// defaultQueueSize is the buffer depth of each worker's job queue.
const defaultQueueSize = 128

// fdReserve is the number of file descriptors kept in reserve, matching
// the original's hard-coded "refuse when fewer than 10 fds remain"
// check (spec §4.6, §5).
const fdReserve = 10

// Config holds the tunables of spec §4.7 "Worker Thread Pool".
type Config struct {
	// Workers is the number of worker goroutines. Zero means
	// runtime.NumCPU().
	Workers int

	// QueueSize is the buffered job-queue depth per worker.
	QueueSize int

	// ExpiredConnCheckPeriod is how often each worker's idle sweep runs.
	// Clamped to [MinExpiredConnCheckPeriod, MaxExpiredConnCheckPeriod].
	ExpiredConnCheckPeriod time.Duration

	// ConnIdleTimeout is how long a Conn may sit with no I/O activity
	// before the idle sweep terminates it. Clamped to
	// [MinConnIdleTimeout, MaxConnIdleTimeout].
	ConnIdleTimeout time.Duration

	// RLimitNoFile is the process's file descriptor limit, used to size
	// the admission semaphore as RLimitNoFile - fdReserve (spec §4.6
	// "checks the current file-descriptor usage against the process
	// limit (minus a reserve of 10)").
	RLimitNoFile int64
}

// NewConfig returns a [*Config] with the spec's defaults.
func NewConfig() *Config {
	return &Config{
		Workers:                runtime.NumCPU(),
		QueueSize:              defaultQueueSize,
		ExpiredConnCheckPeriod: DefaultExpiredConnCheckPeriod,
		ConnIdleTimeout:        DefaultConnIdleTimeout,
		RLimitNoFile:           1024,
	}
}

// clamp applies the spec's bounds to ExpiredConnCheckPeriod and
// ConnIdleTimeout, and fills in a default Workers/QueueSize if unset.
func (cfg *Config) clamp() *Config {
	out := *cfg
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}
	out.ExpiredConnCheckPeriod = clampDuration(out.ExpiredConnCheckPeriod, MinExpiredConnCheckPeriod, MaxExpiredConnCheckPeriod, DefaultExpiredConnCheckPeriod)
	out.ConnIdleTimeout = clampDuration(out.ConnIdleTimeout, MinConnIdleTimeout, MaxConnIdleTimeout, DefaultConnIdleTimeout)
	return &out
}

func clampDuration(d, min, max, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// fdBudget computes the admission semaphore's initial weight: the
// process fd limit minus the reserve, floored at 1 so a pathologically
// low rlimit does not produce a useless zero-capacity semaphore.
func (cfg *Config) fdBudget() int64 {
	budget := cfg.RLimitNoFile - fdReserve
	if budget < 1 {
		budget = 1
	}
	return budget
}
