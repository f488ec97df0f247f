// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/protossl.c (forged-leaf lookup order,
// around the cachemgr_tgcrt_get/cachemgr_fkcrt_get call sites) and
// NIOMan/Classes/utils/genca.c (CA-signing helpers).
//

package certcache

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/net/idna"

	nioproxy "github.com/bassosimone/nioproxy"
)

// ErrCannotIntercept is returned by [*ForgeFunc.Call] when no forged,
// preloaded, or default leaf certificate is available for a connection.
// The caller (the protocol switcher, spec §4.2 step 5) must then either
// fall back to passthrough, if policy allows, or terminate the connection.
var ErrCannotIntercept = errors.New("certcache: cannot produce a leaf certificate for this connection")

// Request describes one forged-certificate lookup.
type Request struct {
	// SNI is the hostname observed in the ClientHello, normalized to ASCII
	// (punycode) form before this struct is built.
	SNI string

	// Peer is the real certificate presented by the original destination,
	// or nil if the upstream handshake has not completed yet.
	Peer *x509.Certificate
}

// CA holds the signing material used to mint forged leaves.
type CA struct {
	// Cert and Key sign every forged leaf.
	Cert *x509.Certificate
	Key  *rsa.PrivateKey

	// LeafKey is the RSA key pair embedded in every forged leaf. The
	// original reuses a single leaf key across all forgeries and only the
	// CA signature differs per certificate; this module preserves that.
	LeafKey *rsa.PrivateKey

	// CRLURL is the CRL distribution point to inject into forged leaves,
	// or empty to omit it (spec §4.2 step 3: "optionally inject a CRL
	// distribution point").
	CRLURL string
}

// ForgeFunc resolves a [Request] into a [*tls.Certificate] following the
// lookup order of spec §4.2:
//
//  1. exact SNI match in the preloaded target-certificate cache (tgcrt),
//  2. wildcarded SNI match in tgcrt,
//  3. forge-or-reuse from the fkcrt cache, keyed by the peer cert's
//     fingerprint, when a CA is configured and a peer cert is available,
//  4. a configured default leaf certificate,
//  5. otherwise, [ErrCannotIntercept].
//
// All fields are safe to modify after construction but before first use.
type ForgeFunc struct {
	// Targets is the tgcrt cache: SNI host pattern -> preloaded chain.
	Targets Cache

	// Forged is the fkcrt cache: peer fingerprint -> forged leaf.
	Forged Cache

	// CA is the signing material. Nil disables step 3 (forging).
	CA *CA

	// Default is returned when no other step produces a certificate, or
	// nil to disable step 4.
	Default *tls.Certificate

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier nioproxy.ErrClassifier

	// Logger is the [nioproxy.SLogger] to use.
	Logger nioproxy.SLogger

	// TimeNow returns the current time (configurable for testing).
	TimeNow func() time.Time
}

var _ nioproxy.Func[Request, *tls.Certificate] = &ForgeFunc{}

// Call implements [nioproxy.Func].
func (f *ForgeFunc) Call(ctx context.Context, req Request) (*tls.Certificate, error) {
	t0 := f.TimeNow()
	f.logStart(req, t0)

	cert, source, err := f.resolve(req)

	f.logDone(req, t0, source, err)
	return cert, err
}

func (f *ForgeFunc) resolve(req Request) (*tls.Certificate, string, error) {
	sni := normalizeHost(req.SNI)

	if f.Targets != nil {
		if cert, ok := f.Targets.Lookup(sni); ok {
			return cert, "tgcrt-exact", nil
		}
		if wildcard := wildcardOf(sni); wildcard != "" {
			if cert, ok := f.Targets.Lookup(wildcard); ok {
				return cert, "tgcrt-wildcard", nil
			}
		}
	}

	if f.CA != nil && req.Peer != nil {
		fp := fingerprint(req.Peer)
		if f.Forged != nil {
			if cert, ok := f.Forged.Lookup(fp); ok {
				return cert, "fkcrt-hit", nil
			}
		}
		cert, err := f.forge(req.Peer, sni)
		if err != nil {
			return nil, "fkcrt-forge-error", err
		}
		if f.Forged != nil {
			f.Forged.Insert(fp, cert)
		}
		return cert, "fkcrt-forge", nil
	}

	if f.Default != nil {
		return f.Default, "default", nil
	}

	return nil, "none", ErrCannotIntercept
}

// forge mints a leaf that copies the peer's subject and SAN list, adds sni
// as an additional SAN if not already present, optionally injects a CRL
// distribution point, and signs with the configured CA and shared leaf key.
func (f *ForgeFunc) forge(peer *x509.Certificate, sni string) (*tls.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	dnsNames := append([]string(nil), peer.DNSNames...)
	if sni != "" && !containsFold(dnsNames, sni) {
		dnsNames = append(dnsNames, sni)
	}

	template := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        peer.Subject,
		NotBefore:      peer.NotBefore,
		NotAfter:       peer.NotAfter,
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:       dnsNames,
		IPAddresses:    peer.IPAddresses,
		EmailAddresses: peer.EmailAddresses,
	}
	if f.CA.CRLURL != "" {
		template.CRLDistributionPoints = []string{f.CA.CRLURL}
	}
	if template.Subject.CommonName == "" {
		template.Subject = pkix.Name{CommonName: sni}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, f.CA.Cert, &f.CA.LeafKey.PublicKey, f.CA.Key)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, f.CA.Cert.Raw},
		PrivateKey:  f.CA.LeafKey,
		Leaf:        template,
	}, nil
}

func (f *ForgeFunc) logStart(req Request, t0 time.Time) {
	f.Logger.Info(
		"certForgeStart",
		slog.String("sni", req.SNI),
		slog.Bool("havePeerCert", req.Peer != nil),
		slog.Time("t", t0),
	)
}

func (f *ForgeFunc) logDone(req Request, t0 time.Time, source string, err error) {
	f.Logger.Info(
		"certForgeDone",
		slog.Any("err", err),
		slog.String("errClass", f.ErrClassifier.Classify(err)),
		slog.String("sni", req.SNI),
		slog.String("source", source),
		slog.Time("t0", t0),
		slog.Time("t", f.TimeNow()),
	)
}

// fingerprint returns the hex SHA-256 digest of cert.Raw, used as the fkcrt
// cache key.
func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// normalizeHost lowercases and punycode-normalizes host so that rule
// matching and cache keys are stable regardless of how the client or an
// operator wrote a non-ASCII hostname (SPEC_FULL §3.3).
func normalizeHost(host string) string {
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return strings.ToLower(host)
	}
	return ascii
}

// wildcardOf replaces the leftmost DNS label of host with "*", matching
// protossl.c's is_wildcard_match behavior. Returns "" if host has no dot.
func wildcardOf(host string) string {
	i := strings.IndexByte(host, '.')
	if i < 0 {
		return ""
	}
	return "*" + host[i:]
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
