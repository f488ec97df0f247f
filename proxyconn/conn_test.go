// SPDX-License-Identifier: GPL-3.0-or-later

package proxyconn

import (
	"net"
	"net/netip"
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/nioproxy"
	"github.com/bassosimone/nioproxy/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	cfg := nioproxy.NewConfig()
	src := &netstub.FuncConn{
		CloseFunc: func() error { return nil },
	}
	return NewConn(1, netip.MustParseAddrPort("10.0.0.1:5000"),
		netip.MustParseAddrPort("93.184.216.34:443"), src, cfg, nioproxy.DefaultSLogger())
}

func TestNewConnStartsAccepted(t *testing.T) {
	c := newTestConn(t)
	assert.Equal(t, Accepted, c.State())
	assert.NotEmpty(t, c.SpanID)
	assert.False(t, c.Time.Accept.IsZero())
}

func TestSetStateHappyPath(t *testing.T) {
	c := newTestConn(t)
	require.NoError(t, c.SetState(ProtocolChosen))
	assert.Equal(t, ProtocolChosen, c.State())
}

func TestSetStateRejectsIllegalEdge(t *testing.T) {
	c := newTestConn(t)
	err := c.SetState(Connected)
	assert.Error(t, err)
	assert.Equal(t, Accepted, c.State(), "state must not change on a rejected transition")
}

func TestOnReadableAssertsConnected(t *testing.T) {
	c := newTestConn(t)
	assert.Panics(t, func() {
		c.OnReadable(srcEndpoint, []byte("hello"))
	})
}

func TestOnReadableAccountsBytesAndDelegates(t *testing.T) {
	c := newTestConn(t)
	c.Connected = true

	var seen []byte
	c.ReadHandler = func(conn *Conn, kind endpointKind, data []byte) ([]byte, error) {
		seen = data
		return data, nil
	}

	err := c.OnReadable(srcEndpoint, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), c.BytesInbound)
	assert.Equal(t, "hello", string(seen))
	assert.False(t, c.Time.LastByteReceived.IsZero())
}

func TestOnReadableFreesOnTerm(t *testing.T) {
	c := newTestConn(t)
	c.Connected = true
	c.ReadHandler = func(conn *Conn, kind endpointKind, data []byte) ([]byte, error) {
		conn.Term = true
		return nil, nil
	}

	require.NoError(t, c.OnReadable(srcEndpoint, []byte("x")))
	assert.Equal(t, Freed, c.State())
}

func TestOnWritablePropagatesCloseAndTerminates(t *testing.T) {
	c := newTestConn(t)
	var srvdstClosed bool
	c.srvdst = newEndpoint(srvdstEndpoint, &netstub.FuncConn{
		CloseFunc: func() error { srvdstClosed = true; return nil },
	})
	c.src.closed = true // peer already gone
	c.srvdst.outstanding = 0

	err := c.OnWritable(srvdstEndpoint, srcEndpoint)
	require.NoError(t, err)
	assert.True(t, srvdstClosed)
	assert.True(t, c.Term, "both endpoints closed must set Term")
}

func TestOnWritableNoopWhenPeerStillOpen(t *testing.T) {
	c := newTestConn(t)
	c.srvdst = newEndpoint(srvdstEndpoint, nil)

	err := c.OnWritable(srvdstEndpoint, srcEndpoint)
	require.NoError(t, err)
	assert.False(t, c.Term)
}

func TestOnEOFClosesAndTerminatesWhenAllClosed(t *testing.T) {
	c := newTestConn(t)
	c.src.closed = true

	err := c.OnEOF(srcEndpoint)
	require.NoError(t, err)
	assert.True(t, c.Term)
}

func TestFreeOrdersChildrenBeforeParentAndDestroysListener(t *testing.T) {
	c := newTestConn(t)
	addr, err := c.StartChildListener()
	require.NoError(t, err)
	require.NotNil(t, addr)

	var childClosed bool
	child := c.AcceptChild(&netstub.FuncConn{
		CloseFunc: func() error { childClosed = true; return nil },
	})
	require.NotNil(t, child)

	require.NoError(t, c.Free())
	assert.True(t, childClosed)
	assert.Empty(t, c.Children)
	assert.Equal(t, Freed, c.State())
}

func TestFreeIsIdempotent(t *testing.T) {
	c := newTestConn(t)
	require.NoError(t, c.Free())
	require.NoError(t, c.Free())
	assert.Equal(t, Freed, c.State())
}

func TestSwitchTargetFreeChildren(t *testing.T) {
	c := newTestConn(t)
	c.Children = []*ChildConn{{Parent: c}}
	c.FreeChildren()
	assert.Empty(t, c.Children)
}

func TestSwitchTargetClearSrvdstCallbacks(t *testing.T) {
	c := newTestConn(t)
	c.ReadHandler = func(*Conn, endpointKind, []byte) ([]byte, error) { return nil, nil }
	c.ClearSrvdstCallbacks()
	assert.Nil(t, c.ReadHandler)
}

func TestSwitchTargetCloseDst(t *testing.T) {
	c := newTestConn(t)
	var closed bool
	c.SetDst(&netstub.FuncConn{CloseFunc: func() error { closed = true; return nil }})
	require.NoError(t, c.CloseDst())
	assert.True(t, closed)
}

func TestSwitchTargetReleaseProtoStateAndSetTag(t *testing.T) {
	c := newTestConn(t)
	c.Proto = &HttpCtx{}
	c.ReleaseProtoState()
	assert.IsType(t, &PassthroughCtx{}, c.Proto)

	c.SetTag(protocol.Passthrough)
	assert.Equal(t, protocol.Passthrough, c.Tag)
}

func TestSwitchTargetScheduleReconnect(t *testing.T) {
	c := newTestConn(t)
	c.state = Terminating
	c.ScheduleReconnect()
	assert.Equal(t, ConnectingUpstream, c.State())
}

func TestConnStringer(t *testing.T) {
	c := newTestConn(t)
	s := c.String()
	assert.Contains(t, s, "accepted")
}

var _ net.Conn = &netstub.FuncConn{}
