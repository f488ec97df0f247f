// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/proto.c (the tagged union of
// per-protocol extension records).
//

package proxyconn

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/bassosimone/nioproxy/httprewrite"
	"github.com/bassosimone/nioproxy/protocol"
)

// ProtoCtx is the per-protocol extension record attached to a [Conn].
// Spec §3 describes this as a tagged union containing HttpCtx, SslCtx,
// AutosslCtx, Pop3Ctx, SmtpCtx, PassthroughCtx; this module implements
// the union as a Go interface plus a type switch at the handful of call
// sites that need protocol-specific behavior (spec §9 design note).
type ProtoCtx interface {
	// Tag returns the protocol tag this extension record belongs to.
	Tag() protocol.Tag

	// Release is the destructor invoked when the Conn switches protocol
	// or is freed (spec §4.4 hot-switch, §4.6 Free).
	Release()
}

// SslCtx holds forged-leaf bookkeeping for one TLS (or HTTPS, or AUTOSSL
// overlay) connection, per spec §3 "SslCtx".
type SslCtx struct {
	// SNIHostname is the hostname observed in the client's ClientHello.
	SNIHostname string

	// PeerCertificate is the original upstream leaf certificate, if the
	// handshake with srvdst has completed.
	PeerCertificate *x509.Certificate

	// OriginalFingerprint and UsedFingerprint are the SHA-256 fingerprints
	// of the original peer leaf and of the certificate actually served to
	// the client (which may be a forged or preloaded target leaf).
	OriginalFingerprint string
	UsedFingerprint     string

	// SubjectAltNames caches a comma-separated CN/SAN list for logging.
	SubjectAltNames string

	// ClientVersion/ClientCipher and UpstreamVersion/UpstreamCipher record
	// the negotiated TLS version and cipher suite on each side.
	ClientVersion, ClientCipher     string
	UpstreamVersion, UpstreamCipher string

	// HaveSSLErr is set when a TLS error was observed on either leg.
	HaveSSLErr bool

	// Reconnected is set once a reconnect-after-SSL-error has happened.
	Reconnected bool

	// ImmutableCert is set when the active leaf came from a preloaded
	// target (spec §4.2 step 1/2): such leaves are never re-forged even
	// if the observed SNI later disagrees with it.
	ImmutableCert bool

	// ActiveLeaf is the certificate currently bound to the src-facing TLS
	// config; swapped in place if SNI mismatch + AllowWrongHost triggers
	// a re-forge (spec §4.2 last paragraph).
	ActiveLeaf *tls.Certificate
}

var _ ProtoCtx = &SslCtx{}

func (c *SslCtx) Tag() protocol.Tag { return protocol.SSL }
func (c *SslCtx) Release()          {}

// SetActiveLeaf installs a forged or preloaded leaf certificate as the
// one bound to the src-facing TLS config (spec §4.2). AutosslCtx embeds
// SslCtx and therefore satisfies the same leaf-setting interface used by
// the certificate-forging call site.
func (c *SslCtx) SetActiveLeaf(leaf *tls.Certificate) {
	c.ActiveLeaf = leaf
}

// AutosslCtx extends SslCtx with the plain-TCP-then-overlay bookkeeping
// AUTOSSL needs (spec §4.4 "start as plain TCP... on every client read
// check for a TLS ClientHello").
type AutosslCtx struct {
	SslCtx

	// Upgraded is set once a ClientHello has been found on the stream.
	// Setting it does not install a TLS overlay on either side.
	Upgraded bool
}

var _ ProtoCtx = &AutosslCtx{}

func (c *AutosslCtx) Tag() protocol.Tag { return protocol.Autossl }

// HttpCtx is the incremental HTTP parser state of spec §3 "HttpCtx". It
// wraps one [httprewrite.Rewriter] per direction plus the keyword-count
// promotion and not_valid tracking the original layers on top of the raw
// per-header rewrite table.
type HttpCtx struct {
	Request  *httprewrite.Rewriter
	Response *httprewrite.Rewriter

	// TLS is non-nil only when this HttpCtx backs an HTTPS (TLS-terminated
	// with a forged leaf) connection rather than plain HTTP; it carries
	// the same forged-certificate bookkeeping [SslCtx] tracks for a
	// non-HTTP TLS connection.
	TLS *SslCtx

	// SeenReqHeader/SeenRespHeader mirror Request/Response.SeenHeader for
	// callers that only hold a *HttpCtx.
	SeenReqHeader  bool
	SeenRespHeader bool

	// SentHTTPConnClose records that a "Connection: close" header was sent.
	// Nothing in this package sets it; the rewriter keeps its own flag in
	// Request.SentConnectionClose.
	SentHTTPConnClose bool

	// OCSPDenied is set once the rewriter has written the canned denial
	// response (spec §4.5 OCSP denial).
	OCSPDenied bool

	// NotValid records that a first line failed to parse as an HTTP
	// message (spec §4.4 "proto validation"). Nothing in this package sets
	// it; each [httprewrite.Rewriter] keeps its own NotValid flag.
	NotValid bool

	// ByteCount is a count of header bytes consumed on this connection.
	// Nothing in this package updates it or compares it with a maximum
	// header size.
	ByteCount int

	// KeywordCount counts recognised header keywords seen so far; the
	// connection is promoted to "valid" once this crosses a threshold
	// (spec §3 "keyword-count... promotes the connection to is_valid").
	KeywordCount int
}

var _ ProtoCtx = &HttpCtx{}

func (c *HttpCtx) Tag() protocol.Tag {
	if c.TLS != nil {
		return protocol.HTTPS
	}
	return protocol.HTTP
}
func (c *HttpCtx) Release() {}

// SetActiveLeaf implements the same leaf-setting interface as
// [SslCtx.SetActiveLeaf], for an HTTPS connection's embedded TLS state.
// A no-op if this HttpCtx was constructed for plain (non-TLS) HTTP.
func (c *HttpCtx) SetActiveLeaf(leaf *tls.Certificate) {
	if c.TLS != nil {
		c.TLS.ActiveLeaf = leaf
	}
}

// httpValidKeywordThreshold is the number of recognised header keywords
// required before a connection is considered a valid HTTP conversation,
// following the original's conservative default of two (method line plus
// one recognised header).
const httpValidKeywordThreshold = 2

// NewHttpCtx constructs an [*HttpCtx] with request/response rewriters
// configured by policy.
func NewHttpCtx(reqPolicy, respPolicy httprewrite.Policy) *HttpCtx {
	return &HttpCtx{
		Request:  httprewrite.NewRewriter(httprewrite.RequestDirection, reqPolicy),
		Response: httprewrite.NewRewriter(httprewrite.ResponseDirection, respPolicy),
	}
}

// ObserveKeyword increments the keyword counter and reports whether the
// connection just crossed the validity threshold.
func (c *HttpCtx) ObserveKeyword() (justValid bool) {
	c.KeywordCount++
	return c.KeywordCount == httpValidKeywordThreshold
}

// Pop3Ctx is the per-connection state for POP3/POP3S detection validation
// (spec §3, §4.4: "two recognised commands in a row confirm validity").
type Pop3Ctx struct {
	ConsecutiveCommands int
	Valid               bool
	tls                 bool
}

// NewPop3Ctx returns a [*Pop3Ctx] tagged POP3S when secure is true, POP3
// otherwise.
func NewPop3Ctx(secure bool) *Pop3Ctx { return &Pop3Ctx{tls: secure} }

var _ ProtoCtx = &Pop3Ctx{}

func (c *Pop3Ctx) Tag() protocol.Tag {
	if c.tls {
		return protocol.POP3S
	}
	return protocol.POP3
}
func (c *Pop3Ctx) Release() {}

// SmtpCtx is the per-connection state for SMTP/SMTPS detection
// validation, symmetric to [Pop3Ctx].
type SmtpCtx struct {
	ConsecutiveCommands int
	Valid               bool
	tls                 bool
}

// NewSmtpCtx returns a [*SmtpCtx] tagged SMTPS when secure is true, SMTP
// otherwise.
func NewSmtpCtx(secure bool) *SmtpCtx { return &SmtpCtx{tls: secure} }

var _ ProtoCtx = &SmtpCtx{}

func (c *SmtpCtx) Tag() protocol.Tag {
	if c.tls {
		return protocol.SMTPS
	}
	return protocol.SMTP
}
func (c *SmtpCtx) Release() {}

// PassthroughCtx marks a connection relaying bytes verbatim in both
// directions with no protocol-specific interpretation.
type PassthroughCtx struct{}

var _ ProtoCtx = &PassthroughCtx{}

func (c *PassthroughCtx) Tag() protocol.Tag { return protocol.Passthrough }
func (c *PassthroughCtx) Release()          {}

// NewProtoCtxForTag constructs the concrete [ProtoCtx] matching tag, once
// protocol detection (or a statically configured listener tag) has
// settled on it (spec §4.4/§4.6 "install the per-protocol extension
// record"). Unrecognised tags (TCP, Passthrough) get [PassthroughCtx].
func NewProtoCtxForTag(tag protocol.Tag, reqPolicy, respPolicy httprewrite.Policy) ProtoCtx {
	switch tag {
	case protocol.SSL:
		return &SslCtx{}
	case protocol.Autossl:
		return &AutosslCtx{}
	case protocol.HTTP:
		return NewHttpCtx(reqPolicy, respPolicy)
	case protocol.HTTPS:
		ctx := NewHttpCtx(reqPolicy, respPolicy)
		ctx.TLS = &SslCtx{}
		return ctx
	case protocol.POP3:
		return NewPop3Ctx(false)
	case protocol.POP3S:
		return NewPop3Ctx(true)
	case protocol.SMTP:
		return NewSmtpCtx(false)
	case protocol.SMTPS:
		return NewSmtpCtx(true)
	default:
		return &PassthroughCtx{}
	}
}
