// SPDX-License-Identifier: GPL-3.0-or-later

package certcache

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTargetPEM generates a throwaway self-signed leaf and returns its
// PEM-encoded certificate and PKCS#1 private key, as an operator-supplied
// [Target] would provide them.
func newTestTargetPEM(t *testing.T, commonName string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(4),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

// LoadTargets inserts every well-formed target under its normalized pattern.
func TestLoadTargets(t *testing.T) {
	certPEM, keyPEM := newTestTargetPEM(t, "shop.example.com")

	cache := NewMapCache()
	err := LoadTargets(cache, []Target{
		{Pattern: "Shop.Example.com", CertPEM: certPEM, KeyPEM: keyPEM},
	})
	require.NoError(t, err)

	got, ok := cache.Lookup("shop.example.com")
	assert.True(t, ok)
	require.NotNil(t, got)
	assert.NotNil(t, got.Leaf)
}

// LoadTargets reports an error for a malformed entry without panicking.
func TestLoadTargetsMalformed(t *testing.T) {
	cache := NewMapCache()
	err := LoadTargets(cache, []Target{
		{Pattern: "broken.example.com", CertPEM: []byte("not a cert"), KeyPEM: []byte("not a key")},
	})
	assert.Error(t, err)
}

// LoadTargets stores multiple targets independently under their patterns.
func TestLoadTargetsMultiple(t *testing.T) {
	cert1, key1 := newTestTargetPEM(t, "a.example.com")
	cert2, key2 := newTestTargetPEM(t, "b.example.com")

	cache := NewMapCache()
	err := LoadTargets(cache, []Target{
		{Pattern: "a.example.com", CertPEM: cert1, KeyPEM: key1},
		{Pattern: "*.b.example.com", CertPEM: cert2, KeyPEM: key2},
	})
	require.NoError(t, err)

	_, ok := cache.Lookup("a.example.com")
	assert.True(t, ok)

	_, ok = cache.Lookup("*.b.example.com")
	assert.True(t, ok)
}
