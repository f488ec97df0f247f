// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/proto.c (the top-level first-bytes
// sniffer dispatching to the per-protocol parsers).
//

package protocol

import (
	"bytes"
	"context"
	"time"

	nioproxy "github.com/bassosimone/nioproxy"
)

// MaxPeek is the largest number of bytes the detector will look at to
// classify a connection (spec §4.4: "sniff the first client packet, up
// to 1024 bytes").
const MaxPeek = 1024

// DefaultClientHelloMaxRetries and DefaultClientHelloRetryDelay are the
// retry-with-backoff budget for a truncated ClientHello (spec §4.4: "may
// require retry up to 50 times with 100ms backoff").
const (
	DefaultClientHelloMaxRetries = 50
	DefaultClientHelloRetryDelay = 100 * time.Millisecond
)

// Peeker reads more bytes into a growing buffer without consuming them
// from the underlying connection (a non-destructive read, e.g. backed by
// a buffered reader's Peek).
type Peeker interface {
	Peek(ctx context.Context, n int) ([]byte, error)
}

// DetectRequest is the input to [*DetectFunc.Call].
type DetectRequest struct {
	// Peeked is the bytes observed so far (may be fewer than MaxPeek).
	Peeked []byte

	// SawPOP3Command and SawSMTPCommand count how many recognised
	// commands have been seen so far, across multiple DetectFunc calls
	// for the same connection: "two recognised commands in a row confirm
	// validity" (spec §4.4).
	SawPOP3Command int
	SawSMTPCommand int
}

// DetectResult is the outcome of one classification attempt.
type DetectResult struct {
	// Tag is the detected protocol. When [DetectResult.Matched] is false,
	// more bytes are needed before a decision can be made, and Tag is the
	// zero [Tag] or, after a first POP3/SMTP command, the tentative protocol.
	Tag Tag

	// Matched reports whether a decision was reached.
	Matched bool

	// ConnectHTTPTunnel is true when Tag == HTTPS because the request
	// line was "CONNECT ...": per spec §4.4, a synthetic
	// "HTTP/1.0 200 Connection established" must be written back and the
	// HTTP tunnel envelope is then discarded.
	ConnectHTTPTunnel bool
}

// DetectFunc classifies a new connection's protocol from its first bytes.
//
// All fields are safe to modify after construction but before first use.
type DetectFunc struct {
	// MaxPeek bounds how many bytes Call will consider.
	MaxPeek int

	// Logger is the [nioproxy.SLogger] to use.
	Logger nioproxy.SLogger

	// TimeNow returns the current time.
	TimeNow func() time.Time
}

// NewDetectFunc returns a [*DetectFunc] with [MaxPeek] and the given
// logger.
func NewDetectFunc(logger nioproxy.SLogger) *DetectFunc {
	return &DetectFunc{MaxPeek: MaxPeek, Logger: logger, TimeNow: time.Now}
}

var _ nioproxy.Func[DetectRequest, DetectResult] = &DetectFunc{}

// Call implements [nioproxy.Func]. It never blocks on I/O itself: callers
// peek progressively more bytes (up to [DetectFunc.MaxPeek]) across
// repeated calls. A truncated TLS ClientHello yields Matched == false; Call
// does not retry or wait, and no code in this module consults
// [DefaultClientHelloMaxRetries] or [DefaultClientHelloRetryDelay].
func (d *DetectFunc) Call(ctx context.Context, req DetectRequest) (DetectResult, error) {
	peeked := req.Peeked
	if len(peeked) == 0 {
		return DetectResult{}, nil
	}

	if sni, err := ParseClientHelloSNI(peeked); err == nil {
		_ = sni
		return DetectResult{Tag: SSL, Matched: true}, nil
	} else if err == ErrTruncatedClientHello {
		return DetectResult{}, nil
	}

	if tag, tunnel, ok := detectHTTP(peeked); ok {
		return DetectResult{Tag: tag, Matched: true, ConnectHTTPTunnel: tunnel}, nil
	}

	if word, ok := firstToken(peeked); ok {
		if IsPOP3Command(word) {
			return DetectResult{Tag: POP3, Matched: req.SawPOP3Command+1 >= 2}, nil
		}
		if IsSMTPCommand(word) {
			return DetectResult{Tag: SMTP, Matched: req.SawSMTPCommand+1 >= 2}, nil
		}
	}

	if len(peeked) >= d.peekLimit() {
		return DetectResult{Tag: TCP, Matched: true}, nil
	}
	return DetectResult{}, nil
}

func (d *DetectFunc) peekLimit() int {
	if d.MaxPeek > 0 {
		return d.MaxPeek
	}
	return MaxPeek
}

// detectHTTP checks whether peeked starts with a recognised HTTP request
// line ("METHOD SP target SP HTTP/x.y").
func detectHTTP(peeked []byte) (tag Tag, connectTunnel bool, ok bool) {
	line := peeked
	if i := bytes.IndexByte(peeked, '\n'); i >= 0 {
		line = peeked[:i]
	}
	line = bytes.TrimRight(line, "\r")

	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return 0, false, false
	}
	method := string(parts[0])
	if !IsHTTPMethod(method) {
		return 0, false, false
	}
	if !bytes.HasPrefix(parts[2], []byte("HTTP/")) {
		return 0, false, false
	}

	if method == "CONNECT" {
		return HTTPS, true, true
	}
	return HTTP, false, true
}

func firstToken(peeked []byte) (string, bool) {
	end := bytes.IndexAny(peeked, " \r\n")
	if end < 0 {
		if len(peeked) > 16 {
			return "", false
		}
		return "", false
	}
	return string(peeked[:end]), true
}
