// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/filter/filter.c (per-level exact +
// substring + catch-all lookup).
//

package filter

import "github.com/cloudflare/ahocorasick"

// fieldIndex is one level's two parallel lookup structures (spec: "two
// parallel indexes") plus a catch-all bucket. Matching a value returns
// the union of every rule registered against a pattern that matches it.
//
// The substring automaton is rebuilt whenever a new pattern is inserted.
// This is O(rule-count) per reload, which is acceptable: filter rules are
// loaded at startup or on an explicit reload, never on the per-connection
// hot path that calls match.
type fieldIndex struct {
	exact        map[string][]*Rule
	patterns     []string
	patternRules [][]*Rule
	catchAll     []*Rule
	matcher      *ahocorasick.Matcher
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{exact: make(map[string][]*Rule)}
}

// insert registers r under m, rebuilding the substring matcher immediately
// if m introduces a new pattern.
func (fi *fieldIndex) insert(m Match, r *Rule) {
	switch m.Kind {
	case MatchExact:
		fi.exact[m.Value] = append(fi.exact[m.Value], r)
	case MatchSubstring:
		idx := -1
		for i, p := range fi.patterns {
			if p == m.Value {
				idx = i
				break
			}
		}
		if idx < 0 {
			fi.patterns = append(fi.patterns, m.Value)
			fi.patternRules = append(fi.patternRules, nil)
			idx = len(fi.patterns) - 1
			fi.matcher = ahocorasick.NewStringMatcher(fi.patterns)
		}
		fi.patternRules[idx] = append(fi.patternRules[idx], r)
	case MatchAll:
		fi.catchAll = append(fi.catchAll, r)
	}
}

// match returns every rule registered under an exact, substring, or
// catch-all pattern that matches value, in that order.
func (fi *fieldIndex) match(value string) []*Rule {
	var out []*Rule
	if rs, ok := fi.exact[value]; ok {
		out = append(out, rs...)
	}
	if fi.matcher != nil {
		for _, idx := range fi.matcher.Match([]byte(value)) {
			out = append(out, fi.patternRules[idx]...)
		}
	}
	out = append(out, fi.catchAll...)
	return out
}
