// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxyconn.c, preconn.c (connection identity,
// endpoints, callback contracts, resource accounting).
//

// Package proxyconn implements the per-connection state machine driving
// one intercepted TCP connection from acceptance to free: the three
// logical endpoints (src/dst/srvdst), watermark-gated buffer pumps, the
// child-listener lifecycle for divert mode, and the read/write/event
// callback contracts of spec §4.6.
package proxyconn

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/nioproxy"
	"github.com/bassosimone/nioproxy/filter"
	"github.com/bassosimone/nioproxy/pkt"
	"github.com/bassosimone/nioproxy/protocol"
	"github.com/bassosimone/runtimex"
)

// LogToggles mirrors spec §3's five independent sub-log enables.
type LogToggles struct {
	Connect     bool
	MasterSecret bool
	Certificate bool
	Content     bool
	Pcap        bool
}

// Timestamps mirrors spec §3's microsecond-resolution timestamp set.
// Stored with [time.Time]'s native resolution; callers needing
// microsecond granularity truncate at the logging boundary.
type Timestamps struct {
	Accept           time.Time
	ConnectStart     time.Time
	ConnectEnd       time.Time
	FirstByteSent    time.Time
	LastByteSent     time.Time
	FirstByteReceived time.Time
	LastByteReceived  time.Time
	Close            time.Time
}

// Conn represents one intercepted TCP connection plus its upstream leg,
// per spec §3 "Connection (Conn)".
//
// The zero value is not ready to use; construct with [NewConn]. Exactly
// one worker goroutine may ever call methods on a given Conn after it is
// attached to a worker (spec §3 invariant); this package does not enforce
// that itself, it is a contract upheld by workerpool.
type Conn struct {
	// ID is a monotonically assigned connection identity.
	ID uint64

	// SpanID correlates this connection's log lines (replaces the
	// original's raw thread-local connection pointer).
	SpanID string

	// WorkerID is the owning worker's index, set by workerpool on attach.
	WorkerID int

	SrcAddr  netip.AddrPort
	DstAddr  netip.AddrPort

	src    *endpoint
	dst    *endpoint
	srvdst *endpoint

	Tag protocol.Tag

	Connected           bool
	SentSSLProxyHeader  bool

	// Divert/Pass/Term/Enomem/TermRequestor mirror spec §3's filter state
	// bits.
	Divert        bool
	Pass          bool
	Term          bool
	Enomem        bool
	TermRequestor bool

	// FilterState tracks the precedence-guard and deferred-action
	// invariants (spec §4.3 steps 6-7); reused from the filter package
	// rather than reimplemented here.
	FilterState filter.State

	// Options is the effective connection-option bundle, possibly
	// replaced in place by a matching filter rule's overrides (spec §4.3
	// step 7).
	Options *filter.ConnOptions

	Log LogToggles

	Time Timestamps

	BytesInbound  uint64
	BytesOutbound uint64

	// AccessTime is the timestamp of the most recent I/O activity,
	// checked by the workerpool idle sweep against ConnIdleTimeout (spec
	// §4.7 "terminating Conns whose atime is older than
	// conn_idle_timeout").
	AccessTime time.Time

	Proto ProtoCtx

	Children []*ChildConn

	// childListener is the ephemeral loopback listener opened in divert
	// mode (spec §4.6 "Child listener").
	childListener net.Listener

	state State

	Logger        nioproxy.SLogger
	ErrClassifier nioproxy.ErrClassifier
	TimeNow       func() time.Time

	// ReadHandler is the protocol-specific read delegate invoked by
	// [Conn.OnReadable] after accounting and the connected-assertion
	// (spec §4.6 read callback contract step 3). It returns the bytes that
	// should actually be relayed to the peer endpoint (the original data
	// for a passthrough/no-op protocol, the rewritten line buffer for
	// HTTP, or nil to drop the chunk entirely, e.g. while draining an
	// OCSP-denied request). nil is a no-op that relays data unchanged.
	ReadHandler func(c *Conn, kind endpointKind, data []byte) ([]byte, error)

	// Switcher performs the one-way hot-switch to passthrough (spec
	// §4.4); kept as a field so tests can substitute a fake.
	Switcher *protocol.Switcher

	// pcapCtx and pcapWriter, when both set via [Conn.EnablePcap], make
	// every forwarded byte and every close event also emit a synthetic
	// PCAP record (spec §4.1, §8 "sum of per-direction sequence-number
	// deltas... matches bytes relayed").
	pcapCtx    *pkt.Ctx
	pcapWriter *pkt.Writer
}

// NewConn constructs a [*Conn] freshly accepted on srcConn, in state
// [Accepted].
func NewConn(id uint64, srcAddr, dstAddr netip.AddrPort, srcConn net.Conn, cfg *nioproxy.Config, logger nioproxy.SLogger) *Conn {
	now := cfg.TimeNow()
	return &Conn{
		ID:            id,
		SpanID:        nioproxy.NewSpanID(),
		SrcAddr:       srcAddr,
		DstAddr:       dstAddr,
		src:           newEndpoint(srcEndpoint, srcConn),
		state:         Accepted,
		Time:          Timestamps{Accept: now},
		AccessTime:    now,
		Logger:        logger,
		ErrClassifier: cfg.ErrClassifier,
		TimeNow:       cfg.TimeNow,
		Switcher:      &protocol.Switcher{},
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	return c.state
}

// SetState attempts a guarded transition; it returns an error (and leaves
// the state unchanged) if the edge is not legal per spec §4.6's state
// diagram.
func (c *Conn) SetState(to State) error {
	if !transition(c.state, to) {
		return errIllegalTransition(c.state, to)
	}
	from := c.state
	c.state = to
	c.Logger.Info("connStateTransition",
		"spanID", c.SpanID,
		"from", from.String(),
		"to", to.String(),
	)
	return nil
}

// SetSrvdst installs the upstream connection as the srvdst endpoint.
func (c *Conn) SetSrvdst(conn net.Conn) {
	c.srvdst = newEndpoint(srvdstEndpoint, conn)
}

// SetDst installs the divert child-listener-facing connection (or, in
// split mode, a second reference to the same srvdst conn) as dst.
func (c *Conn) SetDst(conn net.Conn) {
	c.dst = newEndpoint(dstEndpoint, conn)
}

// EnablePcap attaches a shared [*pkt.Writer] and a fresh per-connection
// [*pkt.Ctx] to c: every byte this Conn forwards from now on, and its
// eventual close, is also recorded as a synthetic PCAP frame (spec §4.1).
func (c *Conn) EnablePcap(w *pkt.Writer, ctx *pkt.Ctx) {
	c.pcapWriter = w
	c.pcapCtx = ctx
}

// OnReadable implements spec §4.6's read callback contract: account bytes
// to the in/out counters (no content log is written), assert
// Connected, delegate to [Conn.ReadHandler] for protocol-specific
// mutation, relay whatever it hands back to the peer endpoint (recording
// a PCAP payload along the way), then free the Conn if term or enomem
// became set.
func (c *Conn) OnReadable(kind endpointKind, data []byte) error {
	c.accountBytes(kind, len(data))

	runtimex.Assert(c.Connected)

	out, err := data, error(nil)
	if c.ReadHandler != nil {
		out, err = c.ReadHandler(c, kind, data)
	}
	if err == nil && len(out) > 0 {
		err = c.forward(kind, out)
	}

	if c.Term || c.Enomem {
		c.Free()
	}
	return err
}

// forwardTarget returns the endpoint that bytes read from kind should be
// relayed to: src forwards to dst in divert mode (the child-listener leg,
// spec "Divert mode") or straight to srvdst otherwise (spec "Split
// mode"); dst/srvdst always forward back to src.
func (c *Conn) forwardTarget(from endpointKind) *endpoint {
	switch from {
	case srcEndpoint:
		if c.Divert {
			return c.dst
		}
		return c.srvdst
	case dstEndpoint, srvdstEndpoint:
		return c.src
	default:
		return nil
	}
}

// forward relays data from the endpoint kind to its [Conn.forwardTarget],
// then (when pcap recording is enabled) records it as a synthetic PCAP
// payload in the matching direction. A connection with no forwarding
// target yet (e.g. divert mode before the first child attaches) is a
// silent no-op, matching a buffered-but-not-yet-deliverable write.
func (c *Conn) forward(from endpointKind, data []byte) error {
	target := c.forwardTarget(from)
	if target == nil {
		return nil
	}
	if err := target.write(data); err != nil {
		return err
	}
	c.recordPcap(from, data)
	return nil
}

// recordPcap emits a synthetic PCAP payload for data observed flowing out
// of endpoint kind, if pcap recording is enabled for this connection and
// the Pcap log toggle is set.
func (c *Conn) recordPcap(kind endpointKind, data []byte) {
	if c.pcapWriter == nil || c.pcapCtx == nil || !c.Log.Pcap || len(data) == 0 {
		return
	}
	dir := pkt.Request
	if kind != srcEndpoint {
		dir = pkt.Response
	}
	_ = c.pcapWriter.WritePayload(c.pcapCtx, dir, data)
}

func (c *Conn) accountBytes(kind endpointKind, n int) {
	now := c.TimeNow()
	if kind == srcEndpoint {
		c.BytesInbound += uint64(n)
	} else {
		c.BytesOutbound += uint64(n)
	}
	if c.Time.FirstByteReceived.IsZero() {
		c.Time.FirstByteReceived = now
	}
	c.Time.LastByteReceived = now
	c.AccessTime = now
}

// OnWritable implements spec §4.6's write callback contract: advance
// watermarks between the two endpoints of a pump, propagate closes when
// a peer has gone away and this side has drained, and terminate once
// both sides of a pump are closed.
func (c *Conn) OnWritable(reader, writer endpointKind) error {
	r, w := c.endpointByKind(reader), c.endpointByKind(writer)
	if r == nil || w == nil {
		return nil
	}
	watermarkPair(r, w)

	if w.closed && r.outstanding == 0 {
		if err := r.close(); err != nil {
			return err
		}
	}
	if r.closed && w.closed {
		c.Term = true
	}
	return nil
}

func (c *Conn) endpointByKind(kind endpointKind) *endpoint {
	switch kind {
	case srcEndpoint:
		return c.src
	case dstEndpoint:
		return c.dst
	case srvdstEndpoint:
		return c.srvdst
	default:
		return nil
	}
}

// OnEOF implements spec §4.6's EOF/Error event contract: if the opposite
// side still has buffered data it is drained once (represented here by
// the caller having already flushed it before calling OnEOF), then this
// side is closed; if both sides are closed the Conn is terminated.
func (c *Conn) OnEOF(kind endpointKind) error {
	e := c.endpointByKind(kind)
	if e == nil {
		return nil
	}
	if err := e.close(); err != nil {
		return err
	}
	if c.allEndpointsClosed() {
		c.Term = true
	}
	return nil
}

func (c *Conn) allEndpointsClosed() bool {
	for _, e := range []*endpoint{c.src, c.dst, c.srvdst} {
		if e != nil && !e.closed {
			return false
		}
	}
	return true
}

// Free tears the Conn down: children are freed first (spec §9 "children
// first, then parent"), then the child listener (if any) is destroyed,
// then all endpoints are closed, then the state transitions to Freed.
func (c *Conn) Free() error {
	if c.state == Freed {
		return nil
	}
	if c.state != Terminating {
		if err := c.SetState(Terminating); err != nil {
			return err
		}
	}

	c.FreeChildren()
	c.destroyChildListenerIfAny()

	var firstErr error
	for _, e := range []*endpoint{c.src, c.dst, c.srvdst} {
		if e == nil {
			continue
		}
		if err := e.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.pcapWriter != nil && c.pcapCtx != nil && c.Log.Pcap {
		_ = c.pcapWriter.WriteClose(c.pcapCtx, pkt.Request)
	}

	c.Time.Close = c.TimeNow()
	if err := c.SetState(Freed); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// pumpBufferSize is the read buffer size for [Conn.PumpSrc],
// [Conn.PumpDst] and [Conn.PumpSrvdst].
const pumpBufferSize = 32 * 1024

// PumpSrc reads from the src endpoint until EOF or error, feeding every
// chunk through [Conn.OnReadable] and finishing with [Conn.OnEOF]. It
// blocks; callers run it in its own goroutine (spec §5's one
// goroutine-per-endpoint-stream reading model).
func (c *Conn) PumpSrc() error { return c.pump(srcEndpoint) }

// PumpDst is [Conn.PumpSrc] for the dst (divert child-listener-facing)
// endpoint.
func (c *Conn) PumpDst() error { return c.pump(dstEndpoint) }

// PumpSrvdst is [Conn.PumpSrc] for the srvdst (upstream) endpoint.
func (c *Conn) PumpSrvdst() error { return c.pump(srvdstEndpoint) }

func (c *Conn) pump(kind endpointKind) error {
	e := c.endpointByKind(kind)
	if e == nil || e.conn == nil {
		return nil
	}
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			if cbErr := c.OnReadable(kind, buf[:n]); cbErr != nil {
				return cbErr
			}
		}
		if err != nil {
			return c.OnEOF(kind)
		}
	}
}

var _ protocol.SwitchTarget = &Conn{}

// FreeChildren implements [protocol.SwitchTarget].
func (c *Conn) FreeChildren() {
	for _, child := range c.Children {
		child.close()
	}
	c.Children = nil
}

// ClearSrvdstCallbacks implements [protocol.SwitchTarget]: it nulls the
// protocol-specific read handler while retaining the underlying srvdst
// byte stream, per spec §4.4's hot-switch semantics.
func (c *Conn) ClearSrvdstCallbacks() {
	c.ReadHandler = nil
}

// CloseDst implements [protocol.SwitchTarget].
func (c *Conn) CloseDst() error {
	if c.dst == nil {
		return nil
	}
	return c.dst.close()
}

// ReleaseProtoState implements [protocol.SwitchTarget].
func (c *Conn) ReleaseProtoState() {
	if c.Proto != nil {
		c.Proto.Release()
	}
	c.Proto = &PassthroughCtx{}
}

// SetTag implements [protocol.SwitchTarget].
func (c *Conn) SetTag(tag protocol.Tag) {
	c.Tag = tag
}

// ScheduleReconnect implements [protocol.SwitchTarget]. The actual dial
// is driven by the worker's event loop; this method only marks the
// connection as needing one, matching the narrow responsibility of
// [protocol.Switcher] (teardown/relabel only).
func (c *Conn) ScheduleReconnect() {
	c.state = ConnectingUpstream
}

// String implements [fmt.Stringer] for debug logging.
func (c *Conn) String() string {
	return fmt.Sprintf("Conn{id=%d tag=%s state=%s}", c.ID, c.Tag, c.state)
}
