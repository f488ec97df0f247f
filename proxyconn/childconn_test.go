// SPDX-License-Identifier: GPL-3.0-or-later

package proxyconn

import (
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartChildListenerIsIdempotent(t *testing.T) {
	c := newTestConn(t)
	a1, err := c.StartChildListener()
	require.NoError(t, err)
	a2, err := c.StartChildListener()
	require.NoError(t, err)
	assert.Equal(t, a1.String(), a2.String())
	c.childListener.Close()
}

func TestAcceptChildFirstInheritsSrvdst(t *testing.T) {
	c := newTestConn(t)
	c.srvdst = newEndpoint(srvdstEndpoint, &netstub.FuncConn{CloseFunc: func() error { return nil }})

	child := c.AcceptChild(&netstub.FuncConn{CloseFunc: func() error { return nil }})
	assert.True(t, child.InheritedSrvdst)
	assert.Nil(t, c.srvdst, "parent must give up ownership of srvdst")
	assert.Len(t, c.Children, 1)
}

func TestAcceptChildSecondDoesNotInherit(t *testing.T) {
	c := newTestConn(t)
	c.srvdst = newEndpoint(srvdstEndpoint, &netstub.FuncConn{CloseFunc: func() error { return nil }})

	first := c.AcceptChild(&netstub.FuncConn{CloseFunc: func() error { return nil }})
	second := c.AcceptChild(&netstub.FuncConn{CloseFunc: func() error { return nil }})
	assert.True(t, first.InheritedSrvdst)
	assert.False(t, second.InheritedSrvdst)
	assert.Len(t, c.Children, 2)
}

func TestDestroyChildListenerWaitsForChildren(t *testing.T) {
	c := newTestConn(t)
	_, err := c.StartChildListener()
	require.NoError(t, err)
	c.Children = []*ChildConn{{Parent: c}}

	c.destroyChildListenerIfAny()
	assert.NotNil(t, c.childListener, "must not destroy listener while children remain")

	c.Children = nil
	c.destroyChildListenerIfAny()
	assert.Nil(t, c.childListener)
}

func TestChildConnCloseClosesBothEndpoints(t *testing.T) {
	var srcClosed, dstClosed bool
	child := &ChildConn{
		src: newEndpoint(srcEndpoint, &netstub.FuncConn{CloseFunc: func() error { srcClosed = true; return nil }}),
		dst: newEndpoint(dstEndpoint, &netstub.FuncConn{CloseFunc: func() error { dstClosed = true; return nil }}),
	}
	require.NoError(t, child.close())
	assert.True(t, srcClosed)
	assert.True(t, dstClosed)
}
