// Package tokenizer analyzes free text for the segmented index. It
// lower-cases input, splits on non-alphanumeric boundaries, removes
// stop-words, and applies a simple suffix-based stemmer. Queries and
// documents go through the same analysis so their terms line up.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "with": {},
	"this": {}, "but": {}, "which": {}, "if": {}, "not": {}, "no": {},
}

// Token is one analyzed term and its position among the kept terms.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into stemmed, lowercased Tokens with stop-words
// removed. Single letters are dropped, single digits are kept since
// catalog text is full of version and edition numbers.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if len(word) < 2 && !unicode.IsDigit(rune(word[0])) {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		stemmed := stem(word)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, Token{Term: stemmed, Position: pos})
		pos++
	}
	return tokens
}

// Terms returns the distinct analyzed terms of text in first-seen order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]bool, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t.Term] {
			seen[t.Term] = true
			terms = append(terms, t.Term)
		}
	}
	return terms
}

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem strips the first matching suffix. Words made only of digits are
// returned unchanged.
func stem(word string) string {
	if strings.IndexFunc(word, unicode.IsLetter) < 0 {
		return word
	}
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
