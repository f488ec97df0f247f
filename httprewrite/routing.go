// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/protohttp.c (sslproxy routing header
// injection in divert mode).
//

package httprewrite

import "fmt"

// routingHeaderName is the internal header injected in divert mode,
// carrying the metadata a downstream consumer needs to correlate the
// diverted stream with its original connection. It is always stripped on
// the way in (see [Rewriter.processRequestHeader]) so a client can never
// forge or observe it.
const routingHeaderName = "X-Proxy-Routing"

const routingHeaderNameLower = "x-proxy-routing"

// RoutingHeader describes the fields spec's "Routing header injected in
// divert mode" section lists: child listener address, original source
// and destination endpoints, a single-character mode flag, and an
// optional user id.
type RoutingHeader struct {
	ChildListenerAddr string
	OriginalSrcAddr   string
	OriginalDstAddr   string
	Mode              byte
	UserID            string
}

// Encode formats h as the single routing header line, without a trailing
// CRLF (the caller's line writer appends it, matching every other header
// line).
func (h RoutingHeader) Encode() string {
	line := fmt.Sprintf("%s: %s,%s,%s,%c",
		routingHeaderName, h.ChildListenerAddr, h.OriginalSrcAddr, h.OriginalDstAddr, h.Mode)
	if h.UserID != "" {
		line += "," + h.UserID
	}
	return line
}

// InjectRoutingHeader returns the line to write immediately before the
// end-of-headers blank line, or nil if nothing should be injected
// (divert mode is off, or the header was already sent for this
// message).
func (r *Rewriter) InjectRoutingHeader(h RoutingHeader) []byte {
	if !r.Policy.Divert || r.RoutingHeaderSent {
		return nil
	}
	r.RoutingHeaderSent = true
	return []byte(h.Encode())
}
