// SPDX-License-Identifier: GPL-3.0-or-later

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeEvalNoMatch(t *testing.T) {
	tree := NewTree()
	action, precedence, ok := tree.Eval("10.0.0.1", nil, "")
	assert.False(t, ok)
	assert.Zero(t, precedence)
	assert.Equal(t, Action{}, action)
}

func TestTreeEvalCatchAll(t *testing.T) {
	tree := NewTree()
	tree.Insert(Rule{
		Source:     Match{Kind: MatchAll},
		Action:     Action{Block: true},
		Precedence: 0,
	})

	action, precedence, ok := tree.Eval("10.0.0.1", nil, "")
	require.True(t, ok)
	assert.True(t, action.Block)
	assert.Zero(t, precedence)
}

func TestTreeEvalExactSourceBeatsCatchAll(t *testing.T) {
	tree := NewTree()
	tree.Insert(Rule{Source: Match{Kind: MatchAll}, Action: Action{Pass: true}, Precedence: 0})
	tree.Insert(Rule{Source: Match{Kind: MatchExact, Value: "10.0.0.1"}, Action: Action{Block: true}, Precedence: 1})

	action, precedence, ok := tree.Eval("10.0.0.1", nil, "")
	require.True(t, ok)
	assert.True(t, action.Block)
	assert.EqualValues(t, 1, precedence)
}

func TestTreeEvalSubstringSource(t *testing.T) {
	tree := NewTree()
	tree.Insert(Rule{Source: Match{Kind: MatchSubstring, Value: "10.0."}, Action: Action{Block: true}, Precedence: 1})

	action, _, ok := tree.Eval("10.0.0.1", nil, "")
	require.True(t, ok)
	assert.True(t, action.Block)

	_, _, ok = tree.Eval("192.168.0.1", nil, "")
	assert.False(t, ok)
}

func TestTreeEvalRequiresAllDestFields(t *testing.T) {
	tree := NewTree()
	tree.Insert(Rule{
		Source: Match{Kind: MatchAll},
		Dest: map[Field]Match{
			FieldSNI: {Kind: MatchExact, Value: "example.com"},
			FieldCN:  {Kind: MatchExact, Value: "example.com"},
		},
		Action:     Action{Block: true},
		Precedence: 2,
	})

	_, _, ok := tree.Eval("10.0.0.1", map[Field]string{FieldSNI: "example.com"}, "")
	assert.False(t, ok, "CN field missing from evaluation input")

	_, _, ok = tree.Eval("10.0.0.1", map[Field]string{
		FieldSNI: "example.com",
		FieldCN:  "example.com",
	}, "")
	assert.True(t, ok)
}

func TestTreeEvalPortOverridesSiteAction(t *testing.T) {
	tree := NewTree()
	port := Match{Kind: MatchExact, Value: "8080"}
	tree.Insert(Rule{
		Source: Match{Kind: MatchAll},
		Dest:   map[Field]Match{FieldDstIP: {Kind: MatchExact, Value: "10.0.0.1"}},
		Port:   &port,
		Action: Action{Block: true}, Precedence: 2,
	})

	_, _, ok := tree.Eval("1.2.3.4", map[Field]string{FieldDstIP: "10.0.0.1"}, "")
	assert.False(t, ok, "port required but not supplied")

	action, _, ok := tree.Eval("1.2.3.4", map[Field]string{FieldDstIP: "10.0.0.1"}, "8080")
	require.True(t, ok)
	assert.True(t, action.Block)

	_, _, ok = tree.Eval("1.2.3.4", map[Field]string{FieldDstIP: "10.0.0.1"}, "443")
	assert.False(t, ok)
}

func TestTreeInsertReplacesOnEqualPrecedence(t *testing.T) {
	tree := NewTree()
	src := Match{Kind: MatchExact, Value: "10.0.0.1"}
	tree.Insert(Rule{Source: src, Action: Action{Pass: true}, Precedence: 1})
	tree.Insert(Rule{Source: src, Action: Action{Block: true}, Precedence: 1})

	action, _, ok := tree.Eval("10.0.0.1", nil, "")
	require.True(t, ok)
	assert.True(t, action.Block, "equal-or-higher precedence re-insertion replaces the leaf")
	assert.False(t, action.Pass)
}

func TestTreeInsertIgnoresLowerPrecedence(t *testing.T) {
	tree := NewTree()
	src := Match{Kind: MatchExact, Value: "10.0.0.1"}
	tree.Insert(Rule{Source: src, Action: Action{Block: true}, Precedence: 2})
	tree.Insert(Rule{Source: src, Action: Action{Pass: true}, Precedence: 1})

	action, precedence, ok := tree.Eval("10.0.0.1", nil, "")
	require.True(t, ok)
	assert.True(t, action.Block)
	assert.EqualValues(t, 2, precedence)
}

func TestPrecedenceCountsPinnedDimensions(t *testing.T) {
	assert.EqualValues(t, 0, Precedence(Match{Kind: MatchAll}, nil, nil))
	assert.EqualValues(t, 1, Precedence(Match{Kind: MatchExact, Value: "x"}, nil, nil))

	dest := map[Field]Match{FieldSNI: {Kind: MatchExact, Value: "x"}, FieldHost: {Kind: MatchAll}}
	port := Match{Kind: MatchExact, Value: "80"}
	assert.EqualValues(t, 3, Precedence(Match{Kind: MatchExact, Value: "x"}, dest, &port))
}
