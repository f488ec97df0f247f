// SPDX-License-Identifier: GPL-3.0-or-later

package workerpool

import (
	"context"
	"testing"
	"time"

	"github.com/bassosimone/nioproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolBuildsConfiguredWorkerCount(t *testing.T) {
	cfg := &Config{Workers: 3}
	p := NewPool(cfg, nioproxy.NewConfig(), nioproxy.DefaultSLogger())
	assert.Equal(t, 3, p.NumWorkers())
}

func TestNextConnIDIsMonotonic(t *testing.T) {
	p := NewPool(&Config{Workers: 1}, nioproxy.NewConfig(), nioproxy.DefaultSLogger())
	a := p.NextConnID()
	b := p.NextConnID()
	assert.Less(t, a, b)
}

func TestLeastLoadedPicksSmallestLoad(t *testing.T) {
	p := NewPool(&Config{Workers: 3}, nioproxy.NewConfig(), nioproxy.DefaultSLogger())
	p.workers[0].load.Store(5)
	p.workers[1].load.Store(1)
	p.workers[2].load.Store(9)

	best := p.leastLoaded()
	assert.Same(t, p.workers[1], best)
}

func TestDispatchAttachesAndEnqueues(t *testing.T) {
	p := NewPool(&Config{Workers: 1, QueueSize: 4}, nioproxy.NewConfig(), nioproxy.DefaultSLogger())
	cfg := nioproxy.NewConfig()
	c := newTestWorkerConn(t, p.NextConnID(), cfg)

	done := make(chan struct{})
	ok := p.Dispatch(c, func() { close(done) })
	require.True(t, ok)
	assert.EqualValues(t, 1, p.workers[0].Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.workers[0].Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatched job never ran")
	}
}

func TestDispatchFailsWhenQueueFullDetaches(t *testing.T) {
	p := NewPool(&Config{Workers: 1, QueueSize: 1}, nioproxy.NewConfig(), nioproxy.DefaultSLogger())
	cfg := nioproxy.NewConfig()
	c1 := newTestWorkerConn(t, p.NextConnID(), cfg)
	c2 := newTestWorkerConn(t, p.NextConnID(), cfg)

	require.True(t, p.Dispatch(c1, func() {}))
	ok := p.Dispatch(c2, func() {})
	assert.False(t, ok)
	assert.EqualValues(t, 1, p.workers[0].Load(), "failed dispatch must detach")
}

func TestAdmitAndRelease(t *testing.T) {
	cfg := &Config{Workers: 1, RLimitNoFile: fdReserve + 1}
	p := NewPool(cfg, nioproxy.NewConfig(), nioproxy.DefaultSLogger())

	assert.True(t, p.TryAdmit())
	assert.False(t, p.TryAdmit(), "budget of 1 must be exhausted after first admit")

	p.Release()
	assert.True(t, p.TryAdmit())
}
