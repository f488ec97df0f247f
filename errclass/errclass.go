//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass classifies network errors into short, platform-independent
// strings suitable for structured logging and forensic analysis.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Exported error classes. These are stable strings: they appear verbatim in
// structured log output (the errClass field) and in PCAP-adjacent forensic
// records, so they must not change across releases.
const (
	EAddrNotAvail   = "EADDRNOTAVAIL"
	EAddrInUse      = "EADDRINUSE"
	EConnAborted    = "ECONNABORTED"
	EConnRefused    = "ECONNREFUSED"
	EConnReset      = "ECONNRESET"
	EHostUnreach    = "EHOSTUNREACH"
	EInval          = "EINVAL"
	EIntr           = "EINTR"
	ENetDown        = "ENETDOWN"
	ENetUnreach     = "ENETUNREACH"
	ENoBufs         = "ENOBUFS"
	ENotConn        = "ENOTCONN"
	EProtoNoSupport = "EPROTONOSUPPORT"
	ETimedOut       = "ETIMEDOUT"
	EEOF            = "EOF"
	ECanceled       = "ECANCELED"
	EGeneric        = "EGENERIC"
)

// New classifies err into one of the exported classes above, or the empty
// string if err is nil.
//
// Classification order: context errors first (canceled, deadline exceeded),
// then io.EOF, then platform errno (via errors.As into [syscall.Errno], using
// the per-platform table in unix.go/windows.go), then the generic
// [net.Error] timeout signal, falling back to [EGeneric] for anything else.
func New(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ECanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ETimedOut
	case errors.Is(err, io.EOF):
		return EEOF
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class, ok := classifyErrno(errno); ok {
			return class
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETimedOut
	}

	return EGeneric
}

func classifyErrno(errno syscall.Errno) (string, bool) {
	switch errno {
	case errEADDRNOTAVAIL:
		return EAddrNotAvail, true
	case errEADDRINUSE:
		return EAddrInUse, true
	case errECONNABORTED:
		return EConnAborted, true
	case errECONNREFUSED:
		return EConnRefused, true
	case errECONNRESET:
		return EConnReset, true
	case errEHOSTUNREACH:
		return EHostUnreach, true
	case errEINVAL:
		return EInval, true
	case errEINTR:
		return EIntr, true
	case errENETDOWN:
		return ENetDown, true
	case errENETUNREACH:
		return ENetUnreach, true
	case errENOBUFS:
		return ENoBufs, true
	case errENOTCONN:
		return ENotConn, true
	case errEPROTONOSUPPORT:
		return EProtoNoSupport, true
	case errETIMEDOUT:
		return ETimedOut, true
	default:
		return "", false
	}
}
