// SPDX-License-Identifier: GPL-3.0-or-later

package certcache

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCacheLookupMiss(t *testing.T) {
	c := NewMapCache()
	cert, ok := c.Lookup("example.com")
	assert.False(t, ok)
	assert.Nil(t, cert)
}

func TestMapCacheInsertAndLookup(t *testing.T) {
	c := NewMapCache()
	want := &tls.Certificate{}
	c.Insert("example.com", want)

	got, ok := c.Lookup("example.com")
	assert.True(t, ok)
	assert.Same(t, want, got)
}

func TestMapCacheInsertOverwrites(t *testing.T) {
	c := NewMapCache()
	first := &tls.Certificate{}
	second := &tls.Certificate{}

	c.Insert("example.com", first)
	c.Insert("example.com", second)

	got, ok := c.Lookup("example.com")
	assert.True(t, ok)
	assert.Same(t, second, got)
}

func TestMapCacheRemove(t *testing.T) {
	c := NewMapCache()
	c.Insert("example.com", &tls.Certificate{})
	c.Remove("example.com")

	_, ok := c.Lookup("example.com")
	assert.False(t, ok)
}

func TestMapCacheRemoveMissingIsNoop(t *testing.T) {
	c := NewMapCache()
	assert.NotPanics(t, func() { c.Remove("example.com") })
}
