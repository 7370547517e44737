// Package textnorm holds the tokenizer shared by the classifier and the
// hashing embedder, so both see the same tokens for the same text.
package textnorm

import (
	"strings"
	"unicode"
)

var apostrophes = strings.NewReplacer("'", "", "’", "")

// Tokenize lowercases text, drops apostrophes and splits on anything that is
// not a letter or digit.
func Tokenize(text string) []string {
	text = strings.ToLower(apostrophes.Replace(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTokens is Tokenize without stopwords.
func ContentTokens(text string) []string {
	toks := Tokenize(text)
	out := toks[:0]
	for _, t := range toks {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// Stem strips one common English suffix. It is deliberately crude: it only
// has to map "orders" and "order" (or "refunded" and "refund") together.
func Stem(tok string) string {
	for _, suf := range []string{"ing", "ed", "es", "s"} {
		if len(tok) > len(suf)+2 && strings.HasSuffix(tok, suf) {
			return strings.TrimSuffix(tok, suf)
		}
	}
	return tok
}

// IsStopword reports whether tok carries no topical signal.
func IsStopword(tok string) bool {
	return stopwords[tok]
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"i": true, "me": true, "my": true, "we": true, "our": true, "you": true, "your": true,
	"it": true, "its": true, "this": true, "that": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "with": true, "at": true, "by": true,
	"from": true, "do": true, "does": true, "did": true, "can": true, "could": true,
	"how": true, "what": true, "when": true, "where": true, "why": true, "which": true,
	"have": true, "has": true, "had": true, "am": true, "im": true, "so": true,
	"if": true, "about": true, "as": true, "not": true, "no": true, "please": true,
}
