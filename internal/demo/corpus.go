package demo

import (
	"slices"
	"strings"
	"unicode"
)

// Document is a retrievable passage.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Corpus is the built-in knowledge base for the qa workflow.
var Corpus = []Document{
	{ID: "shared-state", Text: "Shared state is a key value map that every node in one invocation reads and writes. It is reference counted and guarded by a mutex."},
	{ID: "flow", Text: "A flow is a graph of named nodes. After each node the action label selects the outgoing edge, and the flow halts when no edge matches."},
	{ID: "batch", Text: "A parallel batch runs one node over many independent states at once and returns the results in input order."},
	{ID: "retry", Text: "A retry node splits work into prep, exec and post. Only exec is retried, with a wait between attempts and an optional fallback."},
	{ID: "agent", Text: "An agent wraps a node and retries it until it succeeds or the attempt limit is reached."},
}

// Retrieve returns up to k documents sharing the most words with query,
// best match first. Documents with no overlap are skipped.
func Retrieve(docs []Document, query string, k int) []Document {
	terms := words(query)
	type scored struct {
		doc   Document
		score int
	}
	var hits []scored
	for _, d := range docs {
		score := 0
		docWords := words(d.Text)
		for t := range terms {
			if _, ok := docWords[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: d, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return b.score - a.score })

	out := make([]Document, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, h.doc)
	}
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "it": {}, "of": {}, "and": {}, "or": {},
	"in": {}, "to": {}, "what": {}, "how": {}, "does": {}, "do": {}, "when": {}, "one": {},
}

func words(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, stop := stopWords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}
