// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxyconn.c (per-endpoint buffer bookkeeping
// and watermark policy).
//

package proxyconn

import "net"

// Watermark thresholds from spec §4.6: when the opposite endpoint's
// output buffer exceeds highWatermark, reads are disabled on this
// endpoint; they resume once the opposite buffer drains below
// lowWatermark.
const (
	highWatermark = 128 * 1024
	lowWatermark  = 64 * 1024
)

// endpointKind identifies which of the three logical byte-streams of a
// [Conn] an [endpoint] represents (spec §3 "Endpoints").
type endpointKind int

const (
	srcEndpoint endpointKind = iota
	dstEndpoint
	srvdstEndpoint
)

func (k endpointKind) String() string {
	switch k {
	case srcEndpoint:
		return "src"
	case dstEndpoint:
		return "dst"
	case srvdstEndpoint:
		return "srvdst"
	default:
		return "unknown"
	}
}

// endpoint is one of the three logical byte-streams making up a [Conn]:
// src (client-facing), dst (divert child-listener-facing), srvdst
// (upstream original destination).
type endpoint struct {
	kind   endpointKind
	conn   net.Conn
	closed bool

	// readsDisabled is set when the opposite endpoint's output buffer
	// crossed highWatermark; cleared when it drains below lowWatermark.
	readsDisabled bool

	// outstanding is this endpoint's pending output buffer size, as
	// tracked by the caller via [endpoint.noteOutstanding]. The dispatcher
	// (not this package) is responsible for actually queuing writes; this
	// field only drives the watermark policy.
	outstanding int
}

// newEndpoint wraps conn as an endpoint of the given kind. conn may be nil
// for endpoints not yet established (e.g. dst before divert-mode connect).
func newEndpoint(kind endpointKind, conn net.Conn) *endpoint {
	return &endpoint{kind: kind, conn: conn}
}

// close marks the endpoint closed and closes the underlying [net.Conn] if
// set. Safe to call more than once.
func (e *endpoint) close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// noteOutstanding records this endpoint's current output buffer size, which
// [watermarkPair] compares against the watermarks to decide whether the
// opposite endpoint disables or re-enables its reads.
func (e *endpoint) noteOutstanding(n int) {
	e.outstanding = n
}

// write forwards data to this endpoint's underlying connection, the
// mechanism by which C5's rewritten output (and every other endpoint's
// raw relayed bytes) actually reaches the opposite side of the pump
// (spec §4.6 "relay data between endpoints"). A closed endpoint, or one
// with no connection yet (dst before a divert child has attached), is a
// silent no-op.
//
// net.Conn.Write either writes all of data or returns an error (short
// writes on a stream socket signal a write error per the interface
// contract); the residual is only ever non-zero in that error case, and
// is recorded so [watermarkPair] can still see backpressure building up
// on this endpoint.
func (e *endpoint) write(data []byte) error {
	if e.closed || e.conn == nil || len(data) == 0 {
		return nil
	}
	n, err := e.conn.Write(data)
	e.noteOutstanding(len(data) - n)
	return err
}

// watermarkPair evaluates the watermark policy for a (reader, writer)
// pair: reader's reads should be disabled once writer.outstanding exceeds
// highWatermark, and re-enabled once it drops below lowWatermark. A
// no-op in the dead zone between the two thresholds preserves hysteresis.
func watermarkPair(reader, writer *endpoint) {
	switch {
	case writer.outstanding > highWatermark:
		reader.readsDisabled = true
	case writer.outstanding < lowWatermark:
		reader.readsDisabled = false
	}
}
