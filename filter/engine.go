// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/filter/filter.c (deferred pass/block
// handling around the pre-TLS and HTTP evaluation call sites).
//

package filter

import "github.com/bassosimone/runtimex"

// Phase identifies which evaluation point spec §4.3 step 6 is describing:
// only certain actions may be deferred at each phase.
type Phase int

const (
	// PhasePreTLS is evaluation before the TLS accept callback (only
	// pass/block are deferrable).
	PhasePreTLS Phase = iota

	// PhaseHTTP is evaluation at HTTP header completion (only block is
	// deferrable).
	PhaseHTTP
)

// State carries the per-connection filter state that must survive across
// multiple [*Engine.Evaluate] calls over the life of one connection: the
// precedence already applied (the guard invariant) and any action that
// was deferred for later application.
//
// The zero value is ready to use for a new connection.
type State struct {
	AppliedPrecedence uint32
	DeferredBlock     bool
	DeferredPass      bool
}

// Result is the outcome of one [*Engine.Evaluate] call.
type Result struct {
	// Action is the winning rule's action, or the zero [Action] if Matched
	// is false.
	Action Action

	// Precedence is the winning rule's precedence.
	Precedence uint32

	// Matched reports whether any rule matched at all.
	Matched bool

	// Applied reports whether Action's non-log effects may be applied now.
	// When false (Precedence < State.AppliedPrecedence), only the log
	// toggles may be honored; the relay-mode/pass/block/match bits must be
	// ignored, per the invariant that a higher-precedence rule already in
	// effect may not be overridden by a lower-precedence one.
	Applied bool
}

// Engine wraps a [*Tree] with the deferred-action and precedence-guard
// semantics of spec §4.3 steps 6-7.
type Engine struct {
	Tree *Tree
}

// NewEngine returns an [*Engine] backed by a fresh, empty [*Tree].
func NewEngine() *Engine {
	return &Engine{Tree: NewTree()}
}

// Evaluate runs one filter lookup for the given phase and input, updating
// st in place, and returns the resulting [Result].
func (e *Engine) Evaluate(phase Phase, st *State, srcIP string, fields map[Field]string, port string) Result {
	action, precedence, matched := e.Tree.Eval(srcIP, fields, port)
	if !matched {
		return Result{}
	}

	before := st.AppliedPrecedence
	applied := precedence >= before
	if applied {
		st.AppliedPrecedence = precedence
	}
	// AppliedPrecedence must never decrease: a later, lower-precedence
	// match cannot un-apply an earlier higher-precedence one.
	runtimex.Assert(st.AppliedPrecedence >= before)

	if applied && action.Block {
		deferrable := phase == PhasePreTLS || phase == PhaseHTTP
		if deferrable {
			st.DeferredBlock = true
		}
	}
	if applied && action.Pass && phase == PhasePreTLS {
		st.DeferredPass = true
	}

	return Result{Action: action, Precedence: precedence, Matched: true, Applied: applied}
}

// ResolveBlock reports whether a deferred block is pending and clears it.
// A deferred block survives any number of subsequent non-block matches
// and must be applied at the next opportunity (spec §4.3 step 6).
func (st *State) ResolveBlock() bool {
	pending := st.DeferredBlock
	st.DeferredBlock = false
	return pending
}

// ResolvePass reports whether a deferred pass is pending and clears it.
// A deferred pass is applied at SSL setup time.
func (st *State) ResolvePass() bool {
	pending := st.DeferredPass
	st.DeferredPass = false
	return pending
}
