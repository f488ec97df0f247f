// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: NIOMan/Classes/filter/filterparse.c (rule line tokenizer
// and macro expansion).
//

package filter

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// ParseRules parses a filter rules DSL document (spec's "Filter rules
// DSL" section) into a slice of [Rule], in document order, with
// [Precedence] already computed for each.
//
// Grammar, one rule per line:
//
//	<action> [from (ip <ip>|user <u>|desc <d>|*)] \
//	         [to (ip|sni|cn|host|uri) <site> [port <p>]]... \
//	         [log (connect|master|cert|content|pcap|!connect|...|*|!*)...] \
//	         [{ <yaml flow mapping> }]
//
// Lines starting with "#" are comments; blank lines are ignored. A line of
// the form "$name value..." defines a macro; any later "$name" token is
// replaced inline by that value list before parsing continues.
//
// Only the "ip"/"*" source kinds are modeled as a [Match] (the "user" and
// "desc" source kinds select on proxy-auth identity, which has no
// representation in [Rule.Source]; they parse successfully but always
// produce [MatchAll], deferring identity-based filtering to a future
// extension). SNI and Host destination values are normalized through
// [golang.org/x/net/idna] before being stored, so rules written with
// Unicode hostnames match ASCII (punycode) ClientHello/Host values.
func ParseRules(src string) ([]Rule, error) {
	macros := make(map[string][]string)
	var rules []Rule

	for lineNo, rawLine := range strings.Split(src, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "$") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, fmt.Errorf("filter: line %d: malformed macro definition", lineNo+1)
			}
			macros[fields[0][1:]] = fields[1:]
			continue
		}

		tokens, err := tokenize(line, macros)
		if err != nil {
			return nil, fmt.Errorf("filter: line %d: %w", lineNo+1, err)
		}

		r, err := parseRuleTokens(tokens)
		if err != nil {
			return nil, fmt.Errorf("filter: line %d: %w", lineNo+1, err)
		}
		rules = append(rules, r)
	}

	return rules, nil
}

// tokenize splits line on whitespace, keeping quoted strings and
// brace-delimited blocks as single tokens, and expands any "$name" token
// by substituting macros[name] inline.
func tokenize(line string, macros map[string][]string) ([]string, error) {
	var tokens []string
	i, n := 0, len(line)

	for i < n {
		for i < n && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= n {
			break
		}

		switch line[i] {
		case '"':
			j := i + 1
			for j < n && line[j] != '"' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unterminated quoted string")
			}
			tokens = append(tokens, line[i+1:j])
			i = j + 1

		case '{':
			depth := 1
			j := i + 1
			for j < n && depth > 0 {
				switch line[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				j++
			}
			if depth != 0 {
				return nil, fmt.Errorf("unterminated brace block")
			}
			tokens = append(tokens, line[i:j])
			i = j

		default:
			j := i
			for j < n && line[j] != ' ' && line[j] != '\t' {
				j++
			}
			word := line[i:j]
			if strings.HasPrefix(word, "$") {
				expansion, ok := macros[word[1:]]
				if !ok {
					return nil, fmt.Errorf("undefined macro %q", word)
				}
				tokens = append(tokens, expansion...)
			} else {
				tokens = append(tokens, word)
			}
			i = j
		}
	}

	return tokens, nil
}

func parseRuleTokens(tokens []string) (Rule, error) {
	if len(tokens) == 0 {
		return Rule{}, fmt.Errorf("empty rule")
	}

	var r Rule
	r.Dest = make(map[Field]Match)

	switch strings.ToLower(tokens[0]) {
	case "divert":
		r.Action.Divert = true
	case "split":
		r.Action.Split = true
	case "pass":
		r.Action.Pass = true
	case "block":
		r.Action.Block = true
	case "match":
		r.Action.Match = true
	default:
		return Rule{}, fmt.Errorf("unknown action %q", tokens[0])
	}
	r.Source = Match{Kind: MatchAll}

	i := 1
	for i < len(tokens) {
		switch strings.ToLower(tokens[i]) {
		case "from":
			var err error
			i, err = parseFrom(tokens, i+1, &r)
			if err != nil {
				return Rule{}, err
			}

		case "to":
			var err error
			i, err = parseTo(tokens, i+1, &r)
			if err != nil {
				return Rule{}, err
			}

		case "log":
			var err error
			i, err = parseLog(tokens, i+1, &r)
			if err != nil {
				return Rule{}, err
			}

		default:
			if strings.HasPrefix(tokens[i], "{") {
				opts, err := ParseConnOptions(tokens[i])
				if err != nil {
					return Rule{}, fmt.Errorf("options block: %w", err)
				}
				r.Action.Options = opts
				i++
				continue
			}
			return Rule{}, fmt.Errorf("unexpected token %q", tokens[i])
		}
	}

	r.Precedence = Precedence(r.Source, r.Dest, r.Port)
	return r, nil
}

func parseFrom(tokens []string, i int, r *Rule) (int, error) {
	if i >= len(tokens) {
		return i, fmt.Errorf("from: expected a clause")
	}
	switch tokens[i] {
	case "*":
		r.Source = Match{Kind: MatchAll}
		return i + 1, nil
	case "ip":
		if i+1 >= len(tokens) {
			return i, fmt.Errorf("from ip: expected a value")
		}
		r.Source = matchFor(tokens[i+1])
		return i + 2, nil
	case "user", "desc":
		if i+1 >= len(tokens) {
			return i, fmt.Errorf("from %s: expected a value", tokens[i])
		}
		r.Source = Match{Kind: MatchAll}
		return i + 2, nil
	default:
		return i, fmt.Errorf("from: unknown source kind %q", tokens[i])
	}
}

func parseTo(tokens []string, i int, r *Rule) (int, error) {
	if i+1 >= len(tokens) {
		return i, fmt.Errorf("to: expected a kind and a value")
	}
	field, err := fieldFor(tokens[i])
	if err != nil {
		return i, err
	}
	value := tokens[i+1]
	if field == FieldSNI || field == FieldHost {
		value = normalizeHostValue(value)
	}
	r.Dest[field] = matchFor(value)
	i += 2

	if i+1 < len(tokens) && strings.ToLower(tokens[i]) == "port" {
		m := matchFor(tokens[i+1])
		r.Port = &m
		i += 2
	}

	return i, nil
}

func parseLog(tokens []string, i int, r *Rule) (int, error) {
	for i < len(tokens) {
		tok := tokens[i]
		if strings.HasPrefix(tok, "{") || tok == "from" || tok == "to" {
			break
		}

		enable := true
		name := tok
		if strings.HasPrefix(name, "!") {
			enable = false
			name = name[1:]
		}

		toggle := LogEnable
		if !enable {
			toggle = LogDisable
		}

		switch strings.ToLower(name) {
		case "*":
			r.Action.LogConnect = toggle
			r.Action.LogMaster = toggle
			r.Action.LogCert = toggle
			r.Action.LogContent = toggle
			r.Action.LogPcap = toggle
		case "connect":
			r.Action.LogConnect = toggle
		case "master":
			r.Action.LogMaster = toggle
		case "cert":
			r.Action.LogCert = toggle
		case "content":
			r.Action.LogContent = toggle
		case "pcap":
			r.Action.LogPcap = toggle
		default:
			return i, fmt.Errorf("log: unknown category %q", name)
		}
		i++
	}
	return i, nil
}

func fieldFor(kind string) (Field, error) {
	switch strings.ToLower(kind) {
	case "ip":
		return FieldDstIP, nil
	case "sni":
		return FieldSNI, nil
	case "cn":
		return FieldCN, nil
	case "host":
		return FieldHost, nil
	case "uri":
		return FieldURI, nil
	default:
		return 0, fmt.Errorf("to: unknown destination kind %q", kind)
	}
}

// matchFor classifies a DSL value token: "*" is catch-all, a value
// wrapped in "~...~" is a substring pattern, anything else is exact.
func matchFor(value string) Match {
	if value == "*" {
		return Match{Kind: MatchAll}
	}
	if strings.HasPrefix(value, "~") && strings.HasSuffix(value, "~") && len(value) >= 2 {
		return Match{Kind: MatchSubstring, Value: value[1 : len(value)-1]}
	}
	return Match{Kind: MatchExact, Value: value}
}

func normalizeHostValue(host string) string {
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return strings.ToLower(host)
	}
	return ascii
}
