// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSwitchTarget struct {
	freedChildren       bool
	clearedSrvdst       bool
	closedDst           bool
	closeDstErr         error
	releasedProtoState  bool
	tag                 Tag
	scheduledReconnect  bool
}

func (f *fakeSwitchTarget) FreeChildren()          { f.freedChildren = true }
func (f *fakeSwitchTarget) ClearSrvdstCallbacks()   { f.clearedSrvdst = true }
func (f *fakeSwitchTarget) CloseDst() error         { f.closedDst = true; return f.closeDstErr }
func (f *fakeSwitchTarget) ReleaseProtoState()      { f.releasedProtoState = true }
func (f *fakeSwitchTarget) SetTag(tag Tag)          { f.tag = tag }
func (f *fakeSwitchTarget) ScheduleReconnect()      { f.scheduledReconnect = true }

func TestSwitchToPassthrough(t *testing.T) {
	target := &fakeSwitchTarget{}
	s := &Switcher{}

	err := s.SwitchToPassthrough(target)
	require.NoError(t, err)

	assert.True(t, target.freedChildren)
	assert.True(t, target.clearedSrvdst)
	assert.True(t, target.closedDst)
	assert.True(t, target.releasedProtoState)
	assert.Equal(t, Passthrough, target.tag)
	assert.True(t, target.scheduledReconnect)
}

func TestSwitchToPassthroughCloseDstError(t *testing.T) {
	target := &fakeSwitchTarget{closeDstErr: errors.New("boom")}
	s := &Switcher{}

	err := s.SwitchToPassthrough(target)
	assert.Error(t, err)
	assert.False(t, target.scheduledReconnect, "teardown stops once closing dst fails")
}

func TestAutosslProbe(t *testing.T) {
	record := buildClientHello(t, "example.com")
	name, ok := AutosslProbe(record)
	assert.True(t, ok)
	assert.Equal(t, "example.com", name)
}

func TestAutosslProbeNotFound(t *testing.T) {
	_, ok := AutosslProbe([]byte("not a clienthello"))
	assert.False(t, ok)
}
