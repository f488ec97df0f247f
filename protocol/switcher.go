// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/proto.c (protocol hot-switch to
// passthrough, and the AUTOSSL overlay upgrade).
//

package protocol

import "fmt"

// SwitchTarget is the minimal surface a connection object must expose for
// [Switcher] to drive a protocol hot-switch. proxyconn.Conn implements
// this; protocol does not import proxyconn to avoid a cycle (proxyconn
// imports protocol, not the reverse).
type SwitchTarget interface {
	// FreeChildren frees every [ChildConn] attached to the connection.
	FreeChildren()

	// ClearSrvdstCallbacks nulls the srvdst protocol callbacks while
	// retaining the underlying byte stream if it is the sole upstream.
	ClearSrvdstCallbacks()

	// CloseDst closes the dst (divert child-listener-facing) endpoint.
	CloseDst() error

	// ReleaseProtoState releases the protocol-specific extension record
	// (HttpCtx/SslCtx/...) via its destructor.
	ReleaseProtoState()

	// SetTag updates the connection's protocol tag.
	SetTag(Tag)

	// ScheduleReconnect schedules a new upstream connect attempt.
	ScheduleReconnect()
}

// Switcher drives the one-way hot-switch to [Passthrough] and the AUTOSSL
// overlay upgrade (spec §4.4).
type Switcher struct{}

// SwitchToPassthrough performs the one-way transition to [Passthrough]
// described in spec §4.4: every child is freed, srvdst callbacks are
// nulled (retaining the byte stream), dst is closed, protocol state is
// released, the tag becomes Passthrough, and a new connect is scheduled.
// Protocol-specific callbacks must be re-installed by the caller
// afterwards; this function only performs the teardown/relabel.
func (s *Switcher) SwitchToPassthrough(target SwitchTarget) error {
	target.FreeChildren()
	target.ClearSrvdstCallbacks()
	if err := target.CloseDst(); err != nil {
		return fmt.Errorf("protocol: switch to passthrough: %w", err)
	}
	target.ReleaseProtoState()
	target.SetTag(Passthrough)
	target.ScheduleReconnect()
	return nil
}

// AutosslProbe re-runs [ParseClientHelloSNI] opportunistically against
// bytes observed on an otherwise-plain-TCP AUTOSSL connection (spec §4.4:
// "on every client read check for a TLS ClientHello"). ok is true only
// when a complete ClientHello was found; a truncated one is treated the
// same as "not found yet" because AUTOSSL's search budget is a single
// attempt per read, not a retry loop (spec §9 design note).
func AutosslProbe(buf []byte) (sni string, ok bool) {
	name, err := ParseClientHelloSNI(buf)
	if err != nil {
		return "", false
	}
	return name, true
}
