package vector

import (
	"strings"
	"unicode"
)

// stopWords are dropped from sparse indexing and queries. Keeping the
// list short avoids hurting recall on technical content.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "with": {},
}

// Tokenize lowercases and splits text on non-alphanumeric runes,
// filtering stop words. Both indexing and querying use it so sparse
// matching stays symmetric.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// matchQuery builds an FTS5 MATCH expression from free text. Terms are
// quoted to neutralize FTS5 operators and OR-joined for recall; the
// bm25 ranking sorts multi-term hits above single-term ones.
func matchQuery(text string) string {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, ``) + `"`
	}
	return strings.Join(quoted, " OR ")
}
