// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxyconn.c (ephemeral per-Conn child
// listener and ChildConn lifecycle in divert mode).
//

package proxyconn

import (
	"fmt"
	"net"
)

// ChildConn is a child connection created when a downstream consumer
// program connects back to the parent [Conn]'s ephemeral listener, per
// spec §3 "ChildConn". It holds a non-owning back-reference to the
// parent (spec §9: avoid reference cycles by having the parent own the
// children list and ChildConn hold a plain pointer back).
type ChildConn struct {
	Parent *Conn

	SrcAddr net.Addr
	DstAddr net.Addr

	src *endpoint
	dst *endpoint

	// InheritedSrvdst is true for the first child, which inherits
	// ownership of the parent's srvdst endpoint (spec §3 "the first
	// child inherits ownership of the parent's srvdst endpoint").
	InheritedSrvdst bool
}

// StartChildListener opens an ephemeral loopback listener for divert
// mode and returns its address, to be embedded in the routing header
// (spec §4.6 "Child listener"). Calling it again while the listener is
// open returns the same address.
func (c *Conn) StartChildListener() (net.Addr, error) {
	if c.childListener != nil {
		return c.childListener.Addr(), nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("proxyconn: start child listener: %w", err)
	}
	c.childListener = ln
	return ln.Addr(), nil
}

// AcceptChild wraps a freshly accepted downstream connection into a
// [*ChildConn], attaches it to the parent's children list, and arranges
// for the first child to inherit the parent's srvdst endpoint (spec §3).
func (c *Conn) AcceptChild(conn net.Conn) *ChildConn {
	child := &ChildConn{
		Parent:  c,
		SrcAddr: conn.RemoteAddr(),
		dst:     newEndpoint(dstEndpoint, conn),
	}
	if len(c.Children) == 0 && c.srvdst != nil {
		child.src = c.srvdst
		child.InheritedSrvdst = true
		c.srvdst = nil
	}
	c.Children = append(c.Children, child)
	return child
}

// close tears a single child down without touching the parent's
// children slice (the caller, typically [Conn.FreeChildren] or
// [Conn.destroyChildListenerIfAny]'s caller, owns slice maintenance).
func (cc *ChildConn) close() error {
	var firstErr error
	if cc.src != nil {
		if err := cc.src.close(); err != nil {
			firstErr = err
		}
	}
	if cc.dst != nil {
		if err := cc.dst.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// destroyChildListenerIfAny closes the ephemeral listener, per spec
// §4.6 "The listener is destroyed when no child remains and the parent
// is terminating."
func (c *Conn) destroyChildListenerIfAny() {
	if c.childListener == nil {
		return
	}
	if len(c.Children) > 0 {
		return
	}
	c.childListener.Close()
	c.childListener = nil
}
