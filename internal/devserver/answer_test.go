package devserver

import (
	"context"
	"strings"
	"testing"

	"medivault/pkg/domain"
)

type recordingGenerator struct {
	system string
	prompt string
}

func (g *recordingGenerator) GenerateText(_ context.Context, system, prompt string) (string, error) {
	g.system = system
	g.prompt = prompt
	return "  Your cholesterol was 180.  ", nil
}

func storedDoc(filename, text string) domain.StoredDocument {
	return domain.StoredDocument{Document: domain.Document{Filename: filename}, Text: text}
}

func TestAnswerWithoutGenerator(t *testing.T) {
	docs := []domain.StoredDocument{
		storedDoc("labs.txt", "Cholesterol 180 mg/dL. Glucose 90 mg/dL."),
		storedDoc("scan.png", ""),
	}
	cases := []struct {
		name     string
		question string
		docs     []domain.StoredDocument
		want     string
	}{
		{name: "no documents", question: "cholesterol?", docs: nil, want: NoDocumentsReply},
		{name: "greeting", question: "Hi there!", docs: docs, want: GreetingReply},
		{name: "match", question: "What was my cholesterol?", docs: docs, want: "From labs.txt: Cholesterol 180 mg/dL. Glucose 90 mg/dL."},
		{name: "no match", question: "Any allergies?", docs: docs, want: NotFoundReply},
		{name: "unreadable file", question: "scan", docs: docs, want: "From scan.png: " + unreadablePlaceholder("scan.png")},
	}
	a := NewAnswerer(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Answer(context.Background(), tc.question, tc.docs)
			if err != nil {
				t.Fatalf("answer: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAnswerWithGeneratorSendsContext(t *testing.T) {
	gen := &recordingGenerator{}
	a := NewAnswerer(gen)
	got, err := a.Answer(context.Background(), "cholesterol?", []domain.StoredDocument{
		storedDoc("labs.txt", "Cholesterol 180 mg/dL."),
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got != "Your cholesterol was 180." {
		t.Fatalf("unexpected reply %q", got)
	}
	if !strings.Contains(gen.system, "ONLY on the provided context") {
		t.Fatalf("system prompt missing grounding rule: %q", gen.system)
	}
	if !strings.Contains(gen.prompt, "Cholesterol 180 mg/dL.") || !strings.Contains(gen.prompt, "cholesterol?") {
		t.Fatalf("prompt missing context or question: %q", gen.prompt)
	}
}

func TestRankPassagesKeepsTopThree(t *testing.T) {
	var docs []domain.StoredDocument
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		docs = append(docs, storedDoc(name, "insulin dose for "+name))
	}
	docs = append(docs, storedDoc("e.txt", "insulin insulin insulin"))
	got := rankPassages(docs, tokenize("insulin"))
	if len(got) != maxPassages {
		t.Fatalf("expected %d passages, got %d", maxPassages, len(got))
	}
	if got[0].filename != "e.txt" || got[1].filename != "a.txt" {
		t.Fatalf("unexpected ranking %+v", got)
	}
}
