// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxyconn.c (srvdst connect setup), composed
// here using the ambient nioproxy.Compose* pipeline idiom.
//

package proxyconn

import (
	"crypto/tls"
	"net"
	"net/netip"

	"github.com/bassosimone/nioproxy"
)

// NewUpstreamDialFunc composes the ambient Connect/CancelWatch/Observe
// pipeline into the single [nioproxy.Func] used to establish the srvdst
// endpoint (spec §4.6 "ConnectingUpstream"): dial, bind the connection's
// lifetime to the context, then wrap it for I/O observability.
func NewUpstreamDialFunc(cfg *nioproxy.Config, logger nioproxy.SLogger) nioproxy.Func[netip.AddrPort, net.Conn] {
	connect := nioproxy.NewConnectFunc(cfg, "tcp", logger)
	cancelWatch := nioproxy.NewCancelWatchFunc()
	observe := nioproxy.NewObserveConnFunc(cfg, logger)
	return nioproxy.Compose3[netip.AddrPort, net.Conn, net.Conn, net.Conn](connect, cancelWatch, observe)
}

// NewUpstreamTLSDialFunc extends [NewUpstreamDialFunc] with a TLS
// handshake, for Https/Ssl/Smtps/Pop3s srvdst connections (spec §4.2
// "original peer certificate" is obtained from the resulting
// [nioproxy.TLSConn]'s connection state).
func NewUpstreamTLSDialFunc(cfg *nioproxy.Config, tlsConfig *tls.Config, logger nioproxy.SLogger) nioproxy.Func[netip.AddrPort, nioproxy.TLSConn] {
	dial := NewUpstreamDialFunc(cfg, logger)
	handshake := nioproxy.NewTLSHandshakeFunc(cfg, tlsConfig, logger)
	return nioproxy.Compose2[netip.AddrPort, net.Conn, nioproxy.TLSConn](dial, handshake)
}
