// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxyconn.c (the per-protocol read callback
// dispatch table installed on a freshly accepted Conn).
//

package proxyconn

import (
	"bytes"
	"context"

	"github.com/bassosimone/nioproxy"
	"github.com/bassosimone/nioproxy/filter"
	"github.com/bassosimone/nioproxy/httprewrite"
	"github.com/bassosimone/nioproxy/protocol"
)

// Dispatcher wires the standalone filter/protocol/httprewrite packages
// into a [Conn.ReadHandler], playing the role of the per-protocol
// callback table the original installs on proto_ctx_new (spec §4.6
// "dispatch reads to the protocol-specific read handler").
//
// A single Dispatcher is shared read-only across every Conn owned by one
// worker; it holds no per-connection state itself.
type Dispatcher struct {
	Filter *filter.Engine
	Detect *protocol.DetectFunc
	Logger nioproxy.SLogger
}

// NewDispatcher returns a [*Dispatcher] backed by the given filter engine
// and protocol detector.
func NewDispatcher(filterEngine *filter.Engine, detect *protocol.DetectFunc, logger nioproxy.SLogger) *Dispatcher {
	return &Dispatcher{Filter: filterEngine, Detect: detect, Logger: logger}
}

// Install sets c.ReadHandler to d.handleRead, bound to this Dispatcher.
func (d *Dispatcher) Install(c *Conn) {
	c.ReadHandler = d.handleRead
}

// handleRead implements spec §4.6's read-callback protocol dispatch: it
// classifies an as-yet-untagged connection, probes AUTOSSL connections
// opportunistically for a ClientHello, runs the HTTP header rewriter in
// both directions for HTTP/HTTPS connections (evaluating the filter tree
// once the Host/URI fields are known), and counts POP3/SMTP command
// confirmations. It returns the bytes [Conn.OnReadable] should relay to
// the peer endpoint: the original chunk for every protocol that does not
// mutate the stream, or the rewritten line buffer for HTTP.
//
// Classification runs on the same chunk that is then (re-)dispatched
// against the now-current tag, so the very first client bytes — which
// double as both the protocol sniff and the first HTTP request line —
// are rewritten and forwarded in the same call rather than only on a
// second read (spec §4.4 "peek the first bytes to pick a protocol").
func (d *Dispatcher) handleRead(c *Conn, kind endpointKind, data []byte) ([]byte, error) {
	switch c.Tag {
	case protocol.TCP:
		if kind != srcEndpoint {
			return data, nil
		}
		if err := d.classify(c, data); err != nil {
			return nil, err
		}
	case protocol.Autossl:
		if kind == srcEndpoint {
			d.probeAutossl(c, data)
		}
		return data, nil
	case protocol.POP3, protocol.SMTP:
		if kind == srcEndpoint {
			d.countCommand(c, data)
		}
		return data, nil
	}

	if c.Tag == protocol.HTTP || c.Tag == protocol.HTTPS {
		return d.rewriteHTTP(c, kind, data)
	}
	return data, nil
}

// classify runs the protocol detector over an untagged connection's first
// bytes and, once a decision is reached, sets the tag, evaluates the
// pre-TLS filter phase against whatever identity fields are already known
// (spec §4.4, §4.3 step 6), and installs the matching [ProtoCtx] so later
// reads on this Conn dispatch into the right protocol-specific state
// (spec §4.6 "install the per-protocol extension record").
func (d *Dispatcher) classify(c *Conn, data []byte) error {
	if d.Detect == nil {
		return nil
	}
	res, err := d.Detect.Call(context.Background(), protocol.DetectRequest{Peeked: data})
	if err != nil || !res.Matched {
		return err
	}
	c.SetTag(res.Tag)

	if d.Filter != nil {
		fields := map[filter.Field]string{}
		if sni, ok := protocol.AutosslProbe(data); ok {
			fields[filter.FieldSNI] = sni
		}
		result := d.Filter.Evaluate(filter.PhasePreTLS, &c.FilterState, c.SrcAddr.Addr().String(), fields, "")
		d.applyFilterResult(c, result)
	}

	policy := d.httpPolicy(c)
	c.Proto = NewProtoCtxForTag(res.Tag, policy, policy)
	return nil
}

// httpPolicy derives the [httprewrite.Policy] a freshly classified Conn's
// request/response rewriters should use from its current filter state:
// divert mode (possibly just set by the pre-TLS filter evaluation above)
// and any per-rule DenyOCSP override (spec §6 "connection option keys").
func (d *Dispatcher) httpPolicy(c *Conn) httprewrite.Policy {
	p := httprewrite.DefaultPolicy()
	p.Divert = c.Divert
	if c.Options != nil && c.Options.DenyOCSP != nil {
		p.DenyOCSP = *c.Options.DenyOCSP
	}
	return p
}

// routingHeader builds the divert-mode routing header for c, per spec §6
// "Routing header injected in divert mode": the child listener's address,
// the original source/destination endpoints, and a mode flag ('s' for a
// TLS-terminated HTTPS connection, 'p' for plain HTTP).
func (d *Dispatcher) routingHeader(c *Conn) httprewrite.RoutingHeader {
	mode := byte('p')
	if ctx, ok := c.Proto.(*HttpCtx); ok && ctx.TLS != nil {
		mode = 's'
	}
	var addr string
	if c.childListener != nil {
		addr = c.childListener.Addr().String()
	}
	return httprewrite.RoutingHeader{
		ChildListenerAddr: addr,
		OriginalSrcAddr:   c.SrcAddr.String(),
		OriginalDstAddr:   c.DstAddr.String(),
		Mode:              mode,
	}
}

// probeAutossl re-checks every client read on an AUTOSSL connection for a
// TLS ClientHello (spec §4.4's AUTOSSL overlay) and hot-switches to SSL
// handling once one is found.
func (d *Dispatcher) probeAutossl(c *Conn, data []byte) {
	sni, ok := protocol.AutosslProbe(data)
	if !ok {
		return
	}
	if ctx, isAutossl := c.Proto.(*AutosslCtx); isAutossl {
		ctx.Upgraded = true
		ctx.SNIHostname = sni
	}
	c.SetTag(protocol.SSL)
}

// rewriteHTTP feeds data, split on CRLF boundaries, through the request
// or response [httprewrite.Rewriter] held by the Conn's [HttpCtx],
// reassembling whatever each call keeps into the buffer [Conn.OnReadable]
// relays downstream (spec §4.5's "mutate the byte stream... per header
// line"). It injects the divert-mode routing header just before the
// end-of-headers blank line, evaluates the filter tree once Host/URI are
// known (spec §4.3 step 7), and denies GET-based OCSP requests with the
// canned tryLater response (spec §4.5 OCSP denial).
func (d *Dispatcher) rewriteHTTP(c *Conn, kind endpointKind, data []byte) ([]byte, error) {
	ctx, ok := c.Proto.(*HttpCtx)
	if !ok {
		return data, nil
	}
	rewriter := ctx.Request
	if kind != srcEndpoint {
		rewriter = ctx.Response
	}
	if rewriter == nil {
		return data, nil
	}

	var forward []byte
	for _, line := range bytes.Split(bytes.TrimSuffix(data, []byte("\r\n")), []byte("\r\n")) {
		out, headerDone, err := rewriter.ProcessLine(line)
		if err != nil {
			c.Term = true
			return nil, err
		}

		if headerDone && kind == srcEndpoint {
			if hdr := rewriter.InjectRoutingHeader(d.routingHeader(c)); hdr != nil {
				forward = appendCRLFLine(forward, hdr)
			}
		}
		if out != nil {
			forward = appendCRLFLine(forward, out)
		}

		if !headerDone {
			continue
		}

		if kind != srcEndpoint {
			ctx.SeenRespHeader = true
			break
		}

		ctx.SeenReqHeader = true
		ctx.ObserveKeyword()
		if d.Filter != nil {
			fields := map[filter.Field]string{
				filter.FieldHost: rewriter.Host,
				filter.FieldURI:  rewriter.URI,
			}
			result := d.Filter.Evaluate(filter.PhaseHTTP, &c.FilterState, c.SrcAddr.Addr().String(), fields, "")
			d.applyFilterResult(c, result)
		}
		if rewriter.IsOCSPRequest(nil) {
			ctx.OCSPDenied = true
			c.Term = true
			return httprewrite.CannedDenialResponse(), nil
		}
		break
	}
	return forward, nil
}

// appendCRLFLine appends line plus its terminating CRLF to buf, matching
// the framing [bytes.Split] on "\r\n" stripped away from the incoming
// chunk.
func appendCRLFLine(buf, line []byte) []byte {
	buf = append(buf, line...)
	return append(buf, '\r', '\n')
}

// countCommand tracks POP3/SMTP consecutive-command confirmation via the
// detector's retained counters (spec §4.4's "two recognised commands in a
// row").
func (d *Dispatcher) countCommand(c *Conn, data []byte) {
	word, ok := firstWord(data)
	if !ok {
		return
	}
	switch ctx := c.Proto.(type) {
	case *Pop3Ctx:
		if protocol.IsPOP3Command(word) {
			ctx.ConsecutiveCommands++
			ctx.Valid = ctx.Valid || ctx.ConsecutiveCommands >= 2
		} else {
			ctx.ConsecutiveCommands = 0
		}
	case *SmtpCtx:
		if protocol.IsSMTPCommand(word) {
			ctx.ConsecutiveCommands++
			ctx.Valid = ctx.Valid || ctx.ConsecutiveCommands >= 2
		} else {
			ctx.ConsecutiveCommands = 0
		}
	}
}

func firstWord(data []byte) (string, bool) {
	end := bytes.IndexAny(data, " \r\n")
	if end <= 0 {
		return "", false
	}
	return string(data[:end]), true
}

// applyFilterResult honors a filter evaluation's action, per the
// precedence-guard invariant: only an Applied result may change the
// connection's pass/block/divert bits (spec §4.3 step 7).
func (d *Dispatcher) applyFilterResult(c *Conn, result filter.Result) {
	if !result.Matched || !result.Applied {
		return
	}
	if result.Action.Block {
		c.Term = true
	}
	if result.Action.Pass {
		c.Pass = true
	}
	if result.Action.Divert {
		c.Divert = true
	}
}
