package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoginSendsPasswordForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect username or password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "token_type": "bearer"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	resp, err := c.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken != "tok" {
		t.Fatalf("access token = %q", resp.AccessToken)
	}

	_, err = c.Login(context.Background(), "alice", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.Unauthorized() || apiErr.Message != "Incorrect username or password" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !IsUnauthorized(err) {
		t.Fatal("IsUnauthorized should report 401")
	}
}

func TestErrorMessageFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "detail string", body: `{"detail":"Username already registered"}`, want: "Username already registered"},
		{name: "detail list", body: `{"detail":[{"loc":["body","username"],"msg":"field required"}]}`, want: "field required"},
		{name: "error field", body: `{"error":"bad things"}`, want: "bad things"},
		{name: "empty object", body: `{}`, want: ""},
		{name: "not json", body: `<html>oops</html>`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).Register(context.Background(), RegisterRequest{Username: "u", Password: "p"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Message != tt.want {
				t.Fatalf("message = %q, want %q", apiErr.Message, tt.want)
			}
			if apiErr.Error() == "" {
				t.Fatal("Error() must never be empty")
			}
		})
	}
}

func TestDocumentsRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/documents/":
			_, _ = io.WriteString(w, `[{"id":7,"filename":"report.pdf","upload_date":"2024-05-01T10:20:30.123456","category":null}]`)
		case r.Method == http.MethodPost && r.URL.Path == "/documents/upload":
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			if header.Filename != "notes.txt" || string(data) != "hello" {
				t.Errorf("unexpected upload %q %q", header.Filename, data)
			}
			if got := r.FormValue("category"); got != "labs" {
				t.Errorf("category = %q", got)
			}
			_, _ = io.WriteString(w, `{"id":8,"filename":"notes.txt","upload_date":"2024-05-02T00:00:00"}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/documents/7":
			_, _ = io.WriteString(w, `{"message":"Document deleted"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Document not found"}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, nil)
	docs, err := c.ListDocuments(ctx, "tok")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != 7 || docs[0].Filename != "report.pdf" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	if docs[0].UploadedAt.Year() != 2024 || docs[0].UploadedAt.Nanosecond() != 123456000 {
		t.Fatalf("unexpected upload date: %v", docs[0].UploadedAt)
	}

	doc, err := c.UploadDocument(ctx, "tok", "notes.txt", strings.NewReader("hello"), UploadFields{Category: "labs"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.ID != 8 {
		t.Fatalf("uploaded id = %d", doc.ID)
	}

	if err := c.DeleteDocument(ctx, "tok", 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = c.DeleteDocument(ctx, "tok", 99)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 api error, got %v", err)
	}
	if _, err := c.ListDocuments(ctx, "other"); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestChatRejectsMalformedReply(t *testing.T) {
	reply := `{"response":"hi there"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
			t.Errorf("bad chat request: %v %+v", err, req)
		}
		_, _ = io.WriteString(w, reply)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	got, err := c.Chat(context.Background(), "tok", "hello")
	if err != nil || got != "hi there" {
		t.Fatalf("chat = %q, %v", got, err)
	}

	reply = `{"answer":"wrong field"}`
	if _, err := c.Chat(context.Background(), "tok", "hello"); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}

	reply = `not json`
	if _, err := c.Chat(context.Background(), "tok", "hello"); err == nil {
		t.Fatal("expected decode error")
	}
}
