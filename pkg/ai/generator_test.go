package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "llama3" || req.Stream || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": " LDL is 130 mg/dL. "}})
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "llama3", nil)
	got, err := gen.GenerateText(context.Background(), "be brief", "what is my LDL?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "LDL is 130 mg/dL." {
		t.Fatalf("reply = %q", got)
	}
}

func TestOllamaGeneratorSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model 'llama3' not found"})
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "llama3", nil).GenerateText(context.Background(), "", "hi")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestOpenAICompatGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	got, err := NewOpenAICompatGenerator(srv.URL+"/v1", "key", "m", nil).GenerateText(context.Background(), "", "hi")
	if err != nil || got != "ok" {
		t.Fatalf("generate = %q, %v", got, err)
	}
}

func TestNewGenerator(t *testing.T) {
	if gen, err := NewGenerator("", "", "", "", nil); gen != nil || err != nil {
		t.Fatalf("empty provider = %v, %v", gen, err)
	}
	if _, err := NewGenerator("claude", "", "", "m", nil); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
	if _, err := NewGenerator("gemini", "", "", "m", nil); err == nil {
		t.Fatal("expected gemini without key to fail")
	}
	gen, err := NewGenerator("Ollama", "", "", "m", nil)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, ok := gen.(*OllamaGenerator); !ok {
		t.Fatalf("generator = %T", gen)
	}
}

func TestGeminiGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" || r.URL.Query().Get("key") != "k" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		var req geminiRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SystemInstruction == nil || req.Contents[0].Parts[0].Text != "hi" {
			t.Errorf("unexpected body: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{"content": map[string]any{"parts": []map[string]string{{"text": "hello"}}}}},
		})
	}))
	defer srv.Close()

	got, err := NewGeminiGenerator(srv.URL, "k", "models/gemini-2.0-flash", nil).GenerateText(context.Background(), "sys", "hi")
	if err != nil || got != "hello" {
		t.Fatalf("generate = %q, %v", got, err)
	}
}
