// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/protohttp.c (ocsp_is_valid_uri and
// its canned tryLater response companion).
//

package httprewrite

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/ocsp"
)

// IsOCSPRequest reports whether this message (already captured by
// [Rewriter.ProcessLine]) looks like an OCSP request per spec §4.5:
// either a GET whose URI tail quacks like a base64url-encoded DER
// OCSPRequest, or a POST with Content-Type application/ocsp-request.
//
// For the GET case, body is ignored: the tail after the last '/' of the
// captured URI is URL-unescaped, base64-decoded and parsed here. For POST,
// body is the request body.
func (r *Rewriter) IsOCSPRequest(body []byte) bool {
	if !r.denyOCSPEnabled() {
		return false
	}

	switch r.Method {
	case "GET":
		return isOCSPGetURI(r.URI)
	case "POST":
		return strings.EqualFold(r.ContentType, "application/ocsp-request") && looksLikeOCSPRequest(body)
	default:
		return false
	}
}

// denyOCSPEnabled is a method (rather than a Policy field check inline)
// so a future connection-option wiring point (DenyOCSP from
// filter.ConnOptions) has one place to plug into.
func (r *Rewriter) denyOCSPEnabled() bool {
	return r.Policy.DenyOCSP
}

// isOCSPGetURI applies the original's two-phase check: a cheap heuristic
// pre-filter (starts with 'M' or '%', no query string, at least 32 bytes)
// before the expensive URL+base64+ASN.1 decode.
func isOCSPGetURI(uri string) bool {
	tail := uri
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		tail = uri[i+1:]
	}
	if len(tail) < 32 {
		return false
	}
	if tail[0] != 'M' && tail[0] != '%' {
		return false
	}
	if strings.ContainsRune(tail, '?') {
		return false
	}

	unescaped, err := url.QueryUnescape(tail)
	if err != nil {
		return false
	}
	der, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil {
		der, err = base64.URLEncoding.DecodeString(unescaped)
		if err != nil {
			return false
		}
	}
	return looksLikeOCSPRequest(der)
}

func looksLikeOCSPRequest(der []byte) bool {
	_, err := ocsp.ParseRequest(der)
	return err == nil
}

// tryLaterResponse is the canned OCSP response returned when a request is
// denied: status tryLater (3) in the OCSP response itself, not the HTTP
// status line, matching the original's fixed canned-byte-buffer denial
// (a full signed response is not meaningful without the original
// responder's key).
//
// DER encoding of a bare OCSPResponse with responseStatus = tryLater and
// no responseBytes, per RFC 6960 §4.2.1.
var tryLaterResponse = []byte{0x30, 0x03, 0x0a, 0x01, 0x03}

// CannedDenialResponse returns the full HTTP/1.0 response to write back
// to the client and drain the connection with, per spec §4.5.
func CannedDenialResponse() []byte {
	body := tryLaterResponse
	header := "HTTP/1.0 200 OK\r\n" +
		"Content-Type: application/ocsp-response\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n"
	return append([]byte(header), body...)
}
