// Package parser turns a catalog search string into a query plan.
//
// A query is a list of clauses separated by whitespace. A clause is either a
// bare term, matched against the default field, or field:term. Terms may be
// double quoted to keep spaces or a colon. AND and OR set how positive
// clauses combine (AND is the default, the last operator wins) and NOT or a
// leading '-' excludes the next clause.
package parser

import (
	"strings"
	"unicode"
)

// QueryType says how the terms of a plan combine.
type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// Term is one field query.
type Term struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// QueryPlan is a parsed query string.
type QueryPlan struct {
	Terms        []Term
	Type         QueryType
	ExcludeTerms []Term
	RawQuery     string
}

// Empty reports whether the plan has nothing to match.
func (p *QueryPlan) Empty() bool { return len(p.Terms) == 0 }

// Parse splits query into terms. Words without a field prefix match
// defaultField. NOT or a leading - excludes the next term; OR makes the plan
// a disjunction.
func Parse(query, defaultField string) *QueryPlan {
	plan := &QueryPlan{
		Terms:        make([]Term, 0),
		ExcludeTerms: make([]Term, 0),
		Type:         QueryAND,
		RawQuery:     query,
	}
	excludeNext := false
	for _, w := range split(query) {
		if !w.quoted {
			switch strings.ToUpper(w.text) {
			case "AND":
				plan.Type = QueryAND
				continue
			case "OR":
				plan.Type = QueryOR
				continue
			case "NOT":
				excludeNext = true
				continue
			}
		}
		exclude := excludeNext
		excludeNext = false
		if w.negated {
			exclude = true
		}
		term := Term{Field: w.field, Text: w.text}
		if term.Field == "" {
			term.Field = defaultField
		}
		if strings.TrimSpace(term.Text) == "" {
			continue
		}
		if exclude {
			plan.ExcludeTerms = append(plan.ExcludeTerms, term)
		} else {
			plan.Terms = append(plan.Terms, term)
		}
	}
	return plan
}

type word struct {
	field   string
	text    string
	quoted  bool
	negated bool
}

// split scans the query into clauses. An unterminated quote runs to the end
// of the input.
func split(query string) []word {
	var (
		words   []word
		cur     word
		buf     strings.Builder
		open    bool
		started bool
	)
	flush := func() {
		if started {
			cur.text = buf.String()
			words = append(words, cur)
		}
		cur, started = word{}, false
		buf.Reset()
	}
	for _, r := range query {
		switch {
		case open:
			if r == '"' {
				open = false
				continue
			}
			buf.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case r == '"':
			open, started, cur.quoted = true, true, true
		case r == '-' && !started:
			cur.negated = true
		case r == ':' && cur.field == "" && !cur.quoted && isFieldName(buf.String()):
			cur.field = buf.String()
			buf.Reset()
		default:
			started = true
			buf.WriteRune(r)
		}
	}
	flush()
	return words
}

func isFieldName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
