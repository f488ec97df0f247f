// SPDX-License-Identifier: GPL-3.0-or-later

package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultExpiredConnCheckPeriod, cfg.ExpiredConnCheckPeriod)
	assert.Equal(t, DefaultConnIdleTimeout, cfg.ConnIdleTimeout)
	assert.Greater(t, cfg.Workers, 0)
}

func TestClampFillsZeroWithDefaults(t *testing.T) {
	cfg := (&Config{}).clamp()
	assert.Equal(t, DefaultExpiredConnCheckPeriod, cfg.ExpiredConnCheckPeriod)
	assert.Equal(t, DefaultConnIdleTimeout, cfg.ConnIdleTimeout)
	assert.Greater(t, cfg.Workers, 0)
	assert.Equal(t, defaultQueueSize, cfg.QueueSize)
}

func TestClampEnforcesBounds(t *testing.T) {
	cfg := (&Config{
		ExpiredConnCheckPeriod: 1 * time.Second,
		ConnIdleTimeout:        999999 * time.Second,
	}).clamp()
	assert.Equal(t, MinExpiredConnCheckPeriod, cfg.ExpiredConnCheckPeriod)
	assert.Equal(t, MaxConnIdleTimeout, cfg.ConnIdleTimeout)
}

func TestFDBudgetFloorsAtOne(t *testing.T) {
	cfg := &Config{RLimitNoFile: 5}
	assert.Equal(t, int64(1), cfg.fdBudget())

	cfg2 := &Config{RLimitNoFile: 1024}
	assert.Equal(t, int64(1014), cfg2.fdBudget())
}
