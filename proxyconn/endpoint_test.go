// SPDX-License-Identifier: GPL-3.0-or-later

package proxyconn

import (
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointCloseIsIdempotent(t *testing.T) {
	var closeCount int
	conn := &netstub.FuncConn{
		CloseFunc: func() error {
			closeCount++
			return nil
		},
	}
	e := newEndpoint(srcEndpoint, conn)

	require.NoError(t, e.close())
	require.NoError(t, e.close())
	assert.Equal(t, 1, closeCount)
	assert.True(t, e.closed)
}

func TestEndpointCloseNilConn(t *testing.T) {
	e := newEndpoint(dstEndpoint, nil)
	assert.NoError(t, e.close())
	assert.True(t, e.closed)
}

func TestWatermarkPairDisablesReadsAboveHigh(t *testing.T) {
	reader := newEndpoint(srcEndpoint, nil)
	writer := newEndpoint(srvdstEndpoint, nil)
	writer.noteOutstanding(highWatermark + 1)

	watermarkPair(reader, writer)
	assert.True(t, reader.readsDisabled)
}

func TestWatermarkPairReenablesReadsBelowLow(t *testing.T) {
	reader := newEndpoint(srcEndpoint, nil)
	reader.readsDisabled = true
	writer := newEndpoint(srvdstEndpoint, nil)
	writer.noteOutstanding(lowWatermark - 1)

	watermarkPair(reader, writer)
	assert.False(t, reader.readsDisabled)
}

func TestWatermarkPairHysteresisDeadZone(t *testing.T) {
	reader := newEndpoint(srcEndpoint, nil)
	reader.readsDisabled = true
	writer := newEndpoint(srvdstEndpoint, nil)
	writer.noteOutstanding((highWatermark + lowWatermark) / 2)

	watermarkPair(reader, writer)
	assert.True(t, reader.readsDisabled, "dead zone must preserve prior state")
}

func TestEndpointKindString(t *testing.T) {
	assert.Equal(t, "src", srcEndpoint.String())
	assert.Equal(t, "dst", dstEndpoint.String())
	assert.Equal(t, "srvdst", srvdstEndpoint.String())
	assert.Equal(t, "unknown", endpointKind(99).String())
}
