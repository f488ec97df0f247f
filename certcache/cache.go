// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/protossl.c (cachemgr_fkcrt_*/cachemgr_tgcrt_* call sites).
//

// Package certcache implements the forged-leaf certificate cache and
// forger: given the real peer certificate observed on the upstream
// connection and the SNI hostname the client presented, it produces a
// leaf certificate that mimics the original, signed by a locally trusted
// CA, suitable for terminating the client-facing TLS connection.
package certcache

import (
	"crypto/tls"
	"sync"
)

// Cache is a thread-safe key/value store for [*tls.Certificate] values,
// shared across worker threads.
//
// Implementations must serialize writes; concurrent reads for distinct
// keys must not block each other (spec: "Access is read-mostly; writes
// are serialised per map.").
type Cache interface {
	// Lookup returns the cached certificate for key, if any.
	Lookup(key string) (*tls.Certificate, bool)

	// Insert stores cert under key, overwriting any previous value.
	//
	// Concurrent Insert calls for the same key race; the last writer wins
	// and the loser's certificate is simply discarded (never an error).
	Insert(key string, cert *tls.Certificate)

	// Remove deletes key from the cache, if present.
	Remove(key string)
}

// NewMapCache returns a [Cache] backed by a read/write-mutex-guarded map.
//
// This is the cache implementation used for both fkcrt (keyed by original
// leaf fingerprint) and tgcrt (keyed by SNI host pattern).
func NewMapCache() Cache {
	return &mapCache{entries: make(map[string]*tls.Certificate)}
}

type mapCache struct {
	mu      sync.RWMutex
	entries map[string]*tls.Certificate
}

var _ Cache = &mapCache{}

func (c *mapCache) Lookup(key string) (*tls.Certificate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cert, ok := c.entries[key]
	return cert, ok
}

func (c *mapCache) Insert(key string, cert *tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cert
}

func (c *mapCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
