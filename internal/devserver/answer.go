package devserver

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"medivault/pkg/ai"
	"medivault/pkg/domain"
)

const (
	NoDocumentsReply = "You haven't uploaded any documents yet."
	NotFoundReply    = "I cannot find this information in your documents."
	GreetingReply    = "Hello! How can I help you with your medical records today?"

	maxPassages = 3
)

const systemPrompt = `You are a helpful medical assistant.
- If the user's input is a greeting (like "Hi", "Hello") or general conversation, respond politely and ask how you can help with their medical records.
- For specific questions, answer based ONLY on the provided context.
- If the answer to a specific question is not in the context, say "I cannot find this information in your documents."`

var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank": {},
	"good": {}, "morning": {}, "afternoon": {}, "evening": {},
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"what": {}, "which": {}, "who": {}, "when": {}, "how": {}, "my": {}, "me": {},
	"i": {}, "of": {}, "in": {}, "on": {}, "to": {}, "for": {}, "and": {}, "or": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "it": {}, "be": {},
}

type passage struct {
	filename string
	text     string
	score    int
}

// Answerer replies to chat questions from a user's extracted document text.
// With a generator the best passages go to the model as context; without one
// the best passage is quoted.
type Answerer struct {
	generator ai.TextGenerator
}

func NewAnswerer(generator ai.TextGenerator) *Answerer {
	return &Answerer{generator: generator}
}

func (a *Answerer) Answer(ctx context.Context, question string, docs []domain.StoredDocument) (string, error) {
	if len(docs) == 0 {
		return NoDocumentsReply, nil
	}
	terms := tokenize(question)
	passages := rankPassages(docs, terms)

	if a.generator != nil {
		var sb strings.Builder
		for i, p := range passages {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(p.text)
		}
		prompt := fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n\nAnswer:", sb.String(), question)
		reply, err := a.generator.GenerateText(ctx, systemPrompt, prompt)
		if err != nil {
			return "", fmt.Errorf("generate answer: %w", err)
		}
		return strings.TrimSpace(reply), nil
	}

	if isGreeting(question) {
		return GreetingReply, nil
	}
	if len(passages) == 0 || passages[0].score == 0 {
		return NotFoundReply, nil
	}
	return fmt.Sprintf("From %s: %s", passages[0].filename, passages[0].text), nil
}

// rankPassages chunks every document and returns the highest scoring
// passages, best first. Ties keep document order.
func rankPassages(docs []domain.StoredDocument, terms []string) []passage {
	var all []passage
	for _, doc := range docs {
		text := doc.Text
		if strings.TrimSpace(text) == "" {
			text = unreadablePlaceholder(doc.Filename)
		}
		for _, chunk := range chunkText(text, chunkSize, chunkOverlap) {
			all = append(all, passage{filename: doc.Filename, text: chunk, score: score(chunk, terms)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	if len(all) > maxPassages {
		all = all[:maxPassages]
	}
	return all
}

func unreadablePlaceholder(filename string) string {
	return fmt.Sprintf("Filename: %s\n[Content unreadable - Scanned document or Image without OCR]", filepath.Base(filename))
}

func score(text string, terms []string) int {
	if len(terms) == 0 {
		return 0
	}
	words := make(map[string]int)
	for _, w := range tokenize(text) {
		words[w]++
	}
	total := 0
	for _, t := range terms {
		total += words[t]
	}
	return total
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isGreeting(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		if _, ok := greetings[w]; !ok && w != "there" && w != "you" {
			return false
		}
	}
	return true
}
