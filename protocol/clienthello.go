// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/proto/protossl.c (sni_parse, the raw
// ClientHello byte-level scanner used before TLS termination begins).
//

package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrTruncatedClientHello is returned by [ParseClientHelloSNI] when the
// buffer appears to be a TLS record but does not yet contain a complete
// ClientHello; the caller should retry with more bytes.
var ErrTruncatedClientHello = errors.New("protocol: truncated ClientHello")

// ErrNotTLS is returned by [ParseClientHelloSNI] when buf's first byte is
// not a TLS handshake record type, i.e. this is not a TLS connection at
// all (the AUTOSSL detector uses this to keep treating the stream as
// plain TCP).
var ErrNotTLS = errors.New("protocol: not a TLS ClientHello")

const (
	recordTypeHandshake  = 0x16
	handshakeTypeClient  = 0x01
	extensionServerName  = 0
	serverNameTypeDNS    = 0
)

// ParseClientHelloSNI extracts the SNI hostname from a raw byte buffer
// that begins at a TLS record boundary, without owning or consuming the
// underlying connection (the standard library's [crypto/tls.Conn] cannot
// do this mid-handshake: by the time application code can observe the
// ClientHello, the handshake has already been dispatched to a fixed
// [crypto/tls.Config]).
//
// Returns [ErrNotTLS] if buf does not start with a handshake record,
// [ErrTruncatedClientHello] if buf is a plausible but incomplete
// ClientHello (the caller should read more and retry), or the extracted
// hostname (possibly empty, if the ClientHello has no SNI extension).
func ParseClientHelloSNI(buf []byte) (string, error) {
	if len(buf) < 5 {
		return "", ErrTruncatedClientHello
	}
	if buf[0] != recordTypeHandshake {
		return "", ErrNotTLS
	}

	recordLen := int(binary.BigEndian.Uint16(buf[3:5]))
	if len(buf) < 5+recordLen {
		return "", ErrTruncatedClientHello
	}
	record := buf[5 : 5+recordLen]

	if len(record) < 4 || record[0] != handshakeTypeClient {
		return "", ErrNotTLS
	}
	helloLen := int(record[1])<<16 | int(record[2])<<8 | int(record[3])
	if len(record) < 4+helloLen {
		return "", ErrTruncatedClientHello
	}
	hello := record[4 : 4+helloLen]

	// ProtocolVersion(2) + Random(32)
	pos := 34
	if pos+1 > len(hello) {
		return "", ErrTruncatedClientHello
	}

	// session_id
	sessionIDLen := int(hello[pos])
	pos++
	pos += sessionIDLen
	if pos+2 > len(hello) {
		return "", ErrTruncatedClientHello
	}

	// cipher_suites
	cipherSuitesLen := int(binary.BigEndian.Uint16(hello[pos : pos+2]))
	pos += 2 + cipherSuitesLen
	if pos+1 > len(hello) {
		return "", ErrTruncatedClientHello
	}

	// compression_methods
	compressionLen := int(hello[pos])
	pos++
	pos += compressionLen
	if pos+2 > len(hello) {
		// No extensions block present; this is a valid ClientHello with no SNI.
		return "", nil
	}

	extensionsLen := int(binary.BigEndian.Uint16(hello[pos : pos+2]))
	pos += 2
	if pos+extensionsLen > len(hello) {
		return "", ErrTruncatedClientHello
	}
	extensions := hello[pos : pos+extensionsLen]

	for len(extensions) >= 4 {
		extType := binary.BigEndian.Uint16(extensions[0:2])
		extLen := int(binary.BigEndian.Uint16(extensions[2:4]))
		if len(extensions) < 4+extLen {
			return "", ErrTruncatedClientHello
		}
		extData := extensions[4 : 4+extLen]
		extensions = extensions[4+extLen:]

		if extType != extensionServerName {
			continue
		}

		name, err := parseServerNameList(extData)
		if err != nil {
			return "", err
		}
		return name, nil
	}

	return "", nil
}

func parseServerNameList(data []byte) (string, error) {
	if len(data) < 2 {
		return "", ErrTruncatedClientHello
	}
	listLen := int(binary.BigEndian.Uint16(data[0:2]))
	data = data[2:]
	if len(data) < listLen {
		return "", ErrTruncatedClientHello
	}
	data = data[:listLen]

	for len(data) >= 3 {
		nameType := data[0]
		nameLen := int(binary.BigEndian.Uint16(data[1:3]))
		if len(data) < 3+nameLen {
			return "", ErrTruncatedClientHello
		}
		name := data[3 : 3+nameLen]
		data = data[3+nameLen:]

		if nameType == serverNameTypeDNS {
			return string(name), nil
		}
	}
	return "", nil
}
