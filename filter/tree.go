// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/filter/filter.c (filter_rule_translate,
// filter tree lookup/combine).
//

package filter

import (
	"fmt"
	"sort"
	"sync"
)

// Tree is the three-level filter lookup structure of spec's "Filter tree"
// section: source identity, destination field, destination port.
//
// The zero value is not ready to use; construct with [NewTree].
type Tree struct {
	mu     sync.RWMutex
	source *fieldIndex
	dest   map[Field]*fieldIndex
	port   *fieldIndex
	byKey  map[string]*Rule
}

// NewTree returns an empty [*Tree].
func NewTree() *Tree {
	return &Tree{
		source: newFieldIndex(),
		dest:   make(map[Field]*fieldIndex),
		port:   newFieldIndex(),
		byKey:  make(map[string]*Rule),
	}
}

// Insert adds r under its natural key (source match + destination matches
// + port match). Re-insertion under the same natural key updates the
// stored leaf in place iff r.Precedence >= the stored precedence,
// otherwise it is silently discarded (spec invariant).
func (t *Tree) Insert(r Rule) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := naturalKey(r)
	if existing, ok := t.byKey[key]; ok {
		if r.Precedence < existing.Precedence {
			return
		}
		existing.Action = r.Action
		existing.Precedence = r.Precedence
		return
	}

	stored := &Rule{
		Source:     r.Source,
		Dest:       copyDest(r.Dest),
		Port:       copyPort(r.Port),
		Action:     r.Action,
		Precedence: r.Precedence,
	}
	t.byKey[key] = stored

	t.source.insert(stored.Source, stored)
	for field, m := range stored.Dest {
		idx, ok := t.dest[field]
		if !ok {
			idx = newFieldIndex()
			t.dest[field] = idx
		}
		idx.insert(m, stored)
	}
	if stored.Port != nil {
		t.port.insert(*stored.Port, stored)
	}
}

// Eval evaluates srcIP, the currently-known destination fields, and
// (optionally) the destination port, and returns the combined highest
// precedence action. ok is false if no rule matched at all.
//
// Only rules whose destination-field constraints are all satisfiable by
// fields (and whose port constraint, if any, is satisfiable by port) are
// considered, matching spec §4.3 steps 1-4. On a precedence tie, the
// earlier-inserted rule wins (spec: "on ties, later rules lose").
func (t *Tree) Eval(srcIP string, fields map[Field]string, port string) (Action, uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	candidates := t.source.match(srcIP)

	var best *Rule
	for _, r := range candidates {
		if !t.destSatisfied(r, fields) {
			continue
		}
		if r.Port != nil {
			if port == "" || !t.portSatisfied(r, port) {
				continue
			}
		}
		if best == nil || r.Precedence > best.Precedence {
			best = r
		}
	}

	if best == nil {
		return Action{}, 0, false
	}
	return best.Action, best.Precedence, true
}

// destSatisfied reports whether every destination field constraint on r is
// met by fields, using the field's registered index to honor exact ->
// substring -> catch-all precedence for membership.
func (t *Tree) destSatisfied(r *Rule, fields map[Field]string) bool {
	for field := range r.Dest {
		value, ok := fields[field]
		if !ok {
			return false
		}
		idx := t.dest[field]
		if idx == nil || !ruleIn(idx.match(value), r) {
			return false
		}
	}
	return true
}

func (t *Tree) portSatisfied(r *Rule, port string) bool {
	return ruleIn(t.port.match(port), r)
}

func ruleIn(rules []*Rule, want *Rule) bool {
	for _, r := range rules {
		if r == want {
			return true
		}
	}
	return false
}

func copyDest(dest map[Field]Match) map[Field]Match {
	if dest == nil {
		return nil
	}
	out := make(map[Field]Match, len(dest))
	for k, v := range dest {
		out[k] = v
	}
	return out
}

func copyPort(port *Match) *Match {
	if port == nil {
		return nil
	}
	m := *port
	return &m
}

// naturalKey deterministically encodes a rule's matching clauses so that
// re-inserting the "same" rule (same source/dest/port shape) updates
// rather than duplicates.
func naturalKey(r Rule) string {
	fields := make([]Field, 0, len(r.Dest))
	for f := range r.Dest {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	key := fmt.Sprintf("src:%d:%s", r.Source.Kind, r.Source.Value)
	for _, f := range fields {
		m := r.Dest[f]
		key += fmt.Sprintf("|%s:%d:%s", f, m.Kind, m.Value)
	}
	if r.Port != nil {
		key += fmt.Sprintf("|port:%d:%s", r.Port.Kind, r.Port.Value)
	}
	return key
}
