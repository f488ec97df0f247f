// SPDX-License-Identifier: GPL-3.0-or-later

package httprewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessLineRequestFirstLine(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())

	out, done, err := r.ProcessLine([]byte("GET /index.html HTTP/1.1"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "GET /index.html HTTP/1.1", string(out))
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "/index.html", r.URI)
	assert.False(t, r.NotValid)
}

func TestProcessLineRequestFirstLineInvalid(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, err := r.ProcessLine([]byte("not a request line"))
	require.NoError(t, err)
	assert.True(t, r.NotValid)
}

func TestProcessLineCapturesHost(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, err := r.ProcessLine([]byte("Host: example.com"))
	require.NoError(t, err)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, "Host: example.com", string(out))
}

func TestProcessLineRewritesConnectionHeader(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, err := r.ProcessLine([]byte("Connection: keep-alive"))
	require.NoError(t, err)
	assert.Equal(t, "Connection: close", string(out))
	assert.True(t, r.SentConnectionClose)
}

func TestProcessLineDropsAcceptEncodingByDefault(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, err := r.ProcessLine([]byte("Accept-Encoding: gzip"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestProcessLineKeepsAcceptEncodingWhenDisabled(t *testing.T) {
	policy := DefaultPolicy()
	policy.RemoveAcceptEncoding = false
	r := NewRewriter(RequestDirection, policy)
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, err := r.ProcessLine([]byte("Accept-Encoding: gzip"))
	require.NoError(t, err)
	assert.Equal(t, "Accept-Encoding: gzip", string(out))
}

func TestProcessLineDropsUpgradeAndKeepAlive(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, _ := r.ProcessLine([]byte("Upgrade: websocket"))
	assert.Nil(t, out)

	out, _, _ = r.ProcessLine([]byte("Keep-Alive: timeout=5"))
	assert.Nil(t, out)
}

func TestProcessLineDropsViaOnlyForChildConn(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, _ := r.ProcessLine([]byte("Via: 1.1 proxy"))
	assert.Equal(t, "Via: 1.1 proxy", string(out))

	policy := DefaultPolicy()
	policy.ChildConn = true
	r2 := NewRewriter(RequestDirection, policy)
	_, _, _ = r2.ProcessLine([]byte("GET / HTTP/1.1"))
	out2, _, _ := r2.ProcessLine([]byte("Via: 1.1 proxy"))
	assert.Nil(t, out2)
}

func TestProcessLineDropsRoutingHeaderOnTheWayIn(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, _, err := r.ProcessLine([]byte("X-Proxy-Routing: forged,1,2,3"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestProcessLineEndOfHeaders(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))

	out, done, err := r.ProcessLine(nil)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "", string(out))
	assert.True(t, r.SeenHeader)
}

func TestProcessLineAfterHeaderDoneErrors(t *testing.T) {
	r := NewRewriter(RequestDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("GET / HTTP/1.1"))
	_, _, _ = r.ProcessLine(nil)

	_, _, err := r.ProcessLine([]byte("Host: example.com"))
	assert.Error(t, err)
}

func TestProcessLineResponseFirstLine(t *testing.T) {
	r := NewRewriter(ResponseDirection, DefaultPolicy())
	out, _, err := r.ProcessLine([]byte("HTTP/1.1 200 OK"))
	require.NoError(t, err)
	assert.Equal(t, 200, r.StatusCode)
	assert.Equal(t, "OK", r.StatusText)
	assert.Equal(t, "HTTP/1.1 200 OK", string(out))
}

func TestProcessLineResponseDropsPinningHeaders(t *testing.T) {
	r := NewRewriter(ResponseDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("HTTP/1.1 200 OK"))

	for _, h := range []string{
		"Public-Key-Pins: max-age=5",
		"Public-Key-Pins-Report-Only: max-age=5",
		"Strict-Transport-Security: max-age=5",
		"Expect-CT: max-age=5",
		"Alternate-Protocol: 443:npn-spdy/2",
		"Upgrade: h2c",
	} {
		out, _, err := r.ProcessLine([]byte(h))
		require.NoError(t, err)
		assert.Nil(t, out, h)
	}
}

func TestProcessLineResponsePassesThroughOtherHeaders(t *testing.T) {
	r := NewRewriter(ResponseDirection, DefaultPolicy())
	_, _, _ = r.ProcessLine([]byte("HTTP/1.1 200 OK"))

	out, _, err := r.ProcessLine([]byte("Content-Type: text/html"))
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: text/html", string(out))
}
