// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/log/logpkt.c (pcap frame fabrication).
//

// Package pkt synthesises pcap-format TCP conversations from the connect,
// payload, and close events the proxy engine observes on a relayed
// connection, without ever seeing or needing a real network interface.
//
// The emitted frames are standard libpcap 2.4, little-endian, Ethernet-II +
// IPv4/IPv6 + TCP, with correct IP and TCP (pseudo-header) checksums,
// produced via [github.com/google/gopacket] and
// [github.com/google/gopacket/pcapgo] rather than hand-rolled byte layout.
package pkt

import (
	"fmt"
	"io"
	"math/rand"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// MTU is the largest layer-3 packet size this package will fabricate,
// matching the original's fixed constant.
const MTU = 1500

// mssIPv4 and mssIPv6 are the maximum TCP segment sizes that fit a single
// IPv4/IPv6 frame at [MTU], assuming no IP options and no IPv6 extension
// headers.
const (
	mssIPv4 = MTU - 20 - 20
	mssIPv6 = MTU - 40 - 20
)

// Direction identifies which side of the conversation a payload flows in.
type Direction int

const (
	// Request is the client-to-server direction.
	Request Direction = iota

	// Response is the server-to-client direction.
	Response
)

func (d Direction) other() Direction {
	if d == Request {
		return Response
	}
	return Request
}

// Ctx holds the per-connection, per-direction sequence-number state needed
// to fabricate a coherent TCP conversation.
//
// The zero value is not ready to use; construct with [NewCtx].
type Ctx struct {
	srcMAC, dstMAC   []byte
	srcAddr, dstAddr netip.AddrPort
	srcSeq, dstSeq   uint32
	mss              int
	timeNow          func() time.Time
	randUint32       func() uint32
}

// NewCtx initializes a [*Ctx] for one connection.
//
// srcAddr/dstAddr determine the IP version (both must agree); mtu is
// typically [MTU]. Sequence numbers start at zero, which signals
// [Writer.WritePayload] to fabricate the initial SYN handshake on first use.
func NewCtx(srcMAC, dstMAC []byte, srcAddr, dstAddr netip.AddrPort, mtu int) *Ctx {
	mss := mssIPv4 - (MTU - mtu)
	if srcAddr.Addr().Is6() && !srcAddr.Addr().Is4In6() {
		mss = mssIPv6 - (MTU - mtu)
	}
	return &Ctx{
		srcMAC:  append([]byte(nil), srcMAC...),
		dstMAC:  append([]byte(nil), dstMAC...),
		srcAddr: srcAddr,
		dstAddr: dstAddr,
		mss:     mss,
		timeNow: time.Now,
		randUint32: func() uint32 {
			return rand.Uint32()
		},
	}
}

// Writer fabricates pcap records for one or more [Ctx] conversations onto a
// single underlying file.
type Writer struct {
	w   *pcapgo.Writer
	out io.Writer
}

// Open prepares dst for pcap writing, following the original's three-way
// contract: if the file is empty, a global pcap header is written; if it
// already begins with the pcap magic, the writer appends (seeking to end);
// otherwise the file is truncated and re-initialized. dst must be seekable;
// re-initializing non-empty content also needs a Truncate(int64) error
// method (as [*os.File] has), and Open fails without one.
func Open(dst io.ReadWriteSeeker) (*Writer, error) {
	size, err := dst.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("pkt: dst is not seekable: %w", err)
	}

	const magicLen = 4
	fresh := size == 0
	if !fresh {
		if size < magicLen {
			fresh = true
		} else {
			var magic [magicLen]byte
			if _, err := dst.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			if _, err := io.ReadFull(dst, magic[:]); err != nil {
				return nil, err
			}
			fresh = magic != [magicLen]byte{0xd4, 0xc3, 0xb2, 0xa1} &&
				magic != [magicLen]byte{0xa1, 0xb2, 0xc3, 0xd4}
		}
	}

	if fresh {
		if size > 0 {
			t, ok := dst.(interface{ Truncate(size int64) error })
			if !ok {
				return nil, fmt.Errorf("pkt: dst holds foreign content and cannot be truncated")
			}
			if err := t.Truncate(0); err != nil {
				return nil, err
			}
		}
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		w := pcapgo.NewWriter(dst)
		if err := w.WriteFileHeader(MTU+14, layers.LinkTypeEthernet); err != nil {
			return nil, err
		}
		return &Writer{w: w, out: dst}, nil
	}

	if _, err := dst.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return &Writer{w: pcapgo.NewWriter(dst), out: dst}, nil
}

// WritePayload emits the TCP segments needed to carry payload in direction
// dir, fabricating the SYN handshake first if this is the first payload on
// ctx, slicing payload into segments no larger than ctx.mss (each PSH|ACK),
// and finishing with a bare ACK in the opposite direction.
func (w *Writer) WritePayload(ctx *Ctx, dir Direction, payload []byte) error {
	if ctx.srcSeq == 0 {
		if err := w.writeSYNHandshake(ctx); err != nil {
			return err
		}
	}

	for len(payload) > 0 {
		n := len(payload)
		if n > ctx.mss {
			n = ctx.mss
		}
		if err := w.writeSegment(ctx, dir, layers.TCPFlagPSH|layers.TCPFlagACK, payload[:n]); err != nil {
			return err
		}
		w.advance(ctx, dir, uint32(n))
		payload = payload[n:]
	}

	return w.writeSegment(ctx, dir.other(), layers.TCPFlagACK, nil)
}

// WriteClose emits the FIN/FIN-ACK/ACK teardown sequence in the given
// direction, fabricating the SYN handshake first if none was emitted yet.
func (w *Writer) WriteClose(ctx *Ctx, dir Direction) error {
	if ctx.srcSeq == 0 {
		if err := w.writeSYNHandshake(ctx); err != nil {
			return err
		}
	}

	flags := uint8(layers.TCPFlagFIN | layers.TCPFlagACK)
	if err := w.writeSegment(ctx, dir, flags, nil); err != nil {
		return err
	}
	w.advance(ctx, dir, 1)

	other := dir.other()
	if err := w.writeSegment(ctx, other, flags, nil); err != nil {
		return err
	}
	w.advance(ctx, other, 1)

	return w.writeSegment(ctx, dir, layers.TCPFlagACK, nil)
}

func (w *Writer) writeSYNHandshake(ctx *Ctx) error {
	ctx.srcSeq = ctx.randUint32()
	if ctx.srcSeq == 0 {
		ctx.srcSeq = 1
	}
	if err := w.writeSegment(ctx, Request, layers.TCPFlagSYN, nil); err != nil {
		return err
	}
	ctx.srcSeq++

	ctx.dstSeq = ctx.randUint32()
	if err := w.writeSegment(ctx, Response, layers.TCPFlagSYN|layers.TCPFlagACK, nil); err != nil {
		return err
	}
	ctx.dstSeq++

	return w.writeSegment(ctx, Request, layers.TCPFlagACK, nil)
}

func (w *Writer) advance(ctx *Ctx, dir Direction, n uint32) {
	if dir == Request {
		ctx.srcSeq += n
	} else {
		ctx.dstSeq += n
	}
}

func (w *Writer) writeSegment(ctx *Ctx, dir Direction, flags uint8, payload []byte) error {
	var srcAddr, dstAddr netip.AddrPort
	var srcMAC, dstMAC []byte
	var seq, ack uint32

	if dir == Request {
		srcAddr, dstAddr = ctx.srcAddr, ctx.dstAddr
		srcMAC, dstMAC = ctx.srcMAC, ctx.dstMAC
		seq, ack = ctx.srcSeq, ctx.dstSeq
	} else {
		srcAddr, dstAddr = ctx.dstAddr, ctx.srcAddr
		srcMAC, dstMAC = ctx.dstMAC, ctx.srcMAC
		seq, ack = ctx.dstSeq, ctx.srcSeq
	}

	buf, err := buildFrame(srcMAC, dstMAC, srcAddr, dstAddr, flags, seq, ack, payload)
	if err != nil {
		return err
	}

	now := ctx.timeNow()
	return w.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     now,
		CaptureLength: len(buf),
		Length:        len(buf),
	}, buf)
}

func buildFrame(
	srcMAC, dstMAC []byte,
	srcAddr, dstAddr netip.AddrPort,
	flags uint8, seq, ack uint32,
	payload []byte,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC: srcMAC,
		DstMAC: dstMAC,
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcAddr.Port()),
		DstPort: layers.TCPPort(dstAddr.Port()),
		Seq:     seq,
		Ack:     ack,
		DataOffset: 5,
		Window:  32767,
		Urgent:  0,
	}
	tcp.FIN = flags&layers.TCPFlagFIN != 0
	tcp.SYN = flags&layers.TCPFlagSYN != 0
	tcp.RST = flags&layers.TCPFlagRST != 0
	tcp.PSH = flags&layers.TCPFlagPSH != 0
	tcp.ACK = flags&layers.TCPFlagACK != 0

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	srcIP, dstIP := srcAddr.Addr(), dstAddr.Addr()
	if srcIP.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip4 := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    srcIP.AsSlice(),
			DstIP:    dstIP.AsSlice(),
		}
		if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, err
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip4, tcp, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	eth.EthernetType = layers.EthernetTypeIPv6
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   255,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      srcIP.AsSlice(),
		DstIP:      dstIP.AsSlice(),
	}
	if err := tcp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, err
	}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip6, tcp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
