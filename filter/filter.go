// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/filter/filter.c and
// NIOMan/Classes/filter/filter.h (precedence bitfield layout).
//

// Package filter implements the three-level filter tree and evaluation
// engine: source identity, destination field (DstIP/SNI/CN/Host/URI), and
// destination port, each matched exact-first, then substring, then
// catch-all, combined by precedence into a connection action.
package filter

// Field identifies which destination attribute a [Match] applies to.
type Field int

const (
	FieldDstIP Field = iota
	FieldSNI
	FieldCN
	FieldHost
	FieldURI
)

func (f Field) String() string {
	switch f {
	case FieldDstIP:
		return "dstip"
	case FieldSNI:
		return "sni"
	case FieldCN:
		return "cn"
	case FieldHost:
		return "host"
	case FieldURI:
		return "uri"
	default:
		return "unknown"
	}
}

// MatchKind selects how a [Match] compares against an observed value.
type MatchKind int

const (
	// MatchAll matches any value (the catch-all entry).
	MatchAll MatchKind = iota

	// MatchExact matches only an identical value.
	MatchExact

	// MatchSubstring matches when Value appears anywhere inside the
	// observed value.
	MatchSubstring
)

// Match is one matching clause: either catch-all, an exact string, or a
// substring pattern, matched via the three-stage lookup of spec §4.3.
type Match struct {
	Kind  MatchKind
	Value string
}

// LogToggle is the tri-state a rule may set a log category to.
type LogToggle int

const (
	// LogUnchanged leaves the current log setting untouched.
	LogUnchanged LogToggle = iota
	LogDisable
	LogEnable
)

// Action is the bitset a matching rule contributes, translated per spec
// §4.3 step 5.
type Action struct {
	// Divert and Split select the connection's relay mode; mutually
	// exclusive (Divert takes precedence if both are set, which Insert
	// never itself produces but a malformed rule set could).
	Divert, Split bool

	// Pass engages passthrough unless already engaged.
	Pass bool

	// Block terminates the connection.
	Block bool

	// Match is a no-op used only to raise logging bits.
	Match bool

	LogConnect, LogMaster, LogCert, LogContent, LogPcap LogToggle

	// Options, when non-nil, replaces the per-connection option bundle
	// from the point this action is applied onwards.
	Options *ConnOptions
}

// merge combines the log toggles and option override of other into a,
// leaving a's relay-mode/pass/block/match bits untouched (those are
// decided by whichever single rule won precedence, not merged).
func (a Action) merge(other Action) Action {
	if other.LogConnect != LogUnchanged {
		a.LogConnect = other.LogConnect
	}
	if other.LogMaster != LogUnchanged {
		a.LogMaster = other.LogMaster
	}
	if other.LogCert != LogUnchanged {
		a.LogCert = other.LogCert
	}
	if other.LogContent != LogUnchanged {
		a.LogContent = other.LogContent
	}
	if other.LogPcap != LogUnchanged {
		a.LogPcap = other.LogPcap
	}
	if other.Options != nil {
		a.Options = other.Options
	}
	return a
}

// Rule is one filter rule: a source match, zero or more destination field
// matches (all of which must match for the rule to apply), an optional
// port match, an action, and a precomputed precedence.
type Rule struct {
	Source     Match
	Dest       map[Field]Match
	Port       *Match
	Action     Action
	Precedence uint32
}

// Precedence computes the precedence of a rule as the count of pinned
// (non-catch-all) dimensions: source, each destination field, and port.
// This mirrors the original's FILTER_PRECEDENCE accumulator (filter.h's
// low byte of the bitfield layout).
func Precedence(source Match, dest map[Field]Match, port *Match) uint32 {
	var p uint32
	if source.Kind != MatchAll {
		p++
	}
	for _, m := range dest {
		if m.Kind != MatchAll {
			p++
		}
	}
	if port != nil && port.Kind != MatchAll {
		p++
	}
	return p
}
