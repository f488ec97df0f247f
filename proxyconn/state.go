// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/pxyconn.c, preconn.c (implicit state,
// made explicit here as a guarded enum).
//

package proxyconn

import "fmt"

// State is the explicit connection lifecycle state. The original has no
// state enum: a connection's phase is implicit in which callback fields
// are non-nil. This module makes the states and their legal transitions
// explicit.
type State int

const (
	Accepted State = iota
	ProtocolChosen
	ConnectingUpstream
	Connected
	RelayingOrFiltering
	Terminating
	Freed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case ProtocolChosen:
		return "protocolChosen"
	case ConnectingUpstream:
		return "connectingUpstream"
	case Connected:
		return "connected"
	case RelayingOrFiltering:
		return "relayingOrFiltering"
	case Terminating:
		return "terminating"
	case Freed:
		return "freed"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates the edges of the state machine described in
// spec §4.6: Accepted -> ProtocolChosen -> ConnectingUpstream ->
// Connected -> RelayingOrFiltering -> Terminating -> Freed. Any earlier state
// may jump directly to Terminating (fatal errors, filter block, idle sweep).
var legalTransitions = map[State]map[State]bool{
	Accepted:            {ProtocolChosen: true, Terminating: true},
	ProtocolChosen:      {ConnectingUpstream: true, Terminating: true},
	ConnectingUpstream:  {Connected: true, Terminating: true},
	Connected:           {RelayingOrFiltering: true, Terminating: true},
	RelayingOrFiltering: {Terminating: true},
	Terminating:         {Freed: true},
	Freed:                {},
}

// transition reports whether moving from `from` to `to` is a legal edge of
// the state machine.
func transition(from, to State) bool {
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// errIllegalTransition is returned by [Conn.SetState] on a guard failure.
func errIllegalTransition(from, to State) error {
	return fmt.Errorf("proxyconn: illegal state transition %s -> %s", from, to)
}
