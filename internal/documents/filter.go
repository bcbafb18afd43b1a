package documents

import (
	"strings"

	"medivault/pkg/domain"
)

// Filter returns the documents whose filename contains query, ignoring case.
// The query is matched as typed, surrounding spaces included. docs is never
// modified; an empty query returns a copy of all of them.
func Filter(docs []domain.Document, query string) []domain.Document {
	query = strings.ToLower(query)
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if query == "" || strings.Contains(strings.ToLower(doc.Filename), query) {
			out = append(out, doc)
		}
	}
	return out
}
