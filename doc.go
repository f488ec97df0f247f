// SPDX-License-Identifier: GPL-3.0-or-later

// Package nioproxy provides composable primitives for building a transparent,
// certificate-forging TLS/TCP intercepting proxy.
//
// # Core Abstraction
//
// The package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic network operation with exactly one success
// mode and one failure mode. This design enables type-safe composition via
// [Compose2], [Compose3], etc., where the compiler verifies that outputs
// match inputs across pipeline stages. The per-connection engine in
// [proxyconn] composes these primitives into the accept-to-free lifecycle
// of one intercepted connection.
//
// # Available Primitives
//
// Connection establishment:
//   - [ConnectFunc]: dials the resolved original-destination endpoint
//   - [TLSHandshakeFunc]: performs a TLS handshake over an existing connection,
//     used both for the client-facing forged-leaf handshake and for the
//     upstream handshake against the original destination
//   - [ObserveConnFunc]: observes connections for logging I/O operations; it
//     does not feed a content log or the PCAP writer ([pkt])
//   - [CancelWatchFunc]: closes connection on context cancellation; used by
//     the upstream dial pipeline of [proxyconn], not by [workerpool]
//
// Composition utilities:
//   - [Compose2] through [Compose8]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func for ad-hoc custom behavior
//   - [Apply]: bind a fixed input to a Func
//   - [ConstFunc]: lift a pure value into a Func
//
// # Connection Lifecycle
//
// Dial operations ([ConnectFunc], [TLSHandshakeFunc]) create connections and
// transfer ownership to the next stage on success. On error, they close the
// connection, matching the resource-cleanup contract of [Func].
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled. The five sub-log enables on
// a connection (connect, master-secret, certificate, content, pcap — see
// [proxyconn.Conn]) do not filter what reaches the configured logger; only
// the pcap enable is consulted, to gate PCAP recording. Error
// classification is configurable via
// [ErrClassifier]; the default uses the [errclass] subpackage.
//
// Primitives emit span events (*Start/*Done pairs) carrying localAddr,
// remoteAddr, protocol, and t/t0 timestamp fields, at [slog.LevelInfo] for
// lifecycle events and [slog.LevelDebug] for per-I/O events.
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for
// each connection, then attach it to the logger with [*slog.Logger.With] so
// every event for that connection can be correlated.
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context
// they receive. [CancelWatchFunc] binds the context lifecycle to the
// connection: when the context is done, the connection is closed
// immediately, causing any in-progress I/O to fail.
//
// # Design Boundaries
//
// This package, together with its subpackages, implements the per-connection
// proxy engine only. Command-line/config-file parsing, the privilege-
// separation helper process, OS DNS resolution, text-file logging sinks,
// signal handling, and daemonisation are external collaborators and are not
// implemented here.
package nioproxy
