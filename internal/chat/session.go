// Package chat runs one conversation with the assistant.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"medivault/internal/util"
	"medivault/pkg/domain"
)

const (
	DefaultGreeting = "Hello! I am your medical AI assistant. Ask me anything about your uploaded medical records."
	// Apology replaces the reply when an exchange fails.
	Apology = "Sorry, I encountered an error processing your request."
)

// State is the exchange lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateSending State = "sending"
	StateClosed  State = "closed"
)

// API is the chat endpoint.
type API interface {
	Chat(ctx context.Context, token, message string) (string, error)
}

// Authorizer runs fn with the live credential; *session.Store satisfies it.
type Authorizer interface {
	Do(ctx context.Context, fn func(token string) error) error
}

type Config struct {
	API     API
	Session Authorizer
	// Greeting defaults to DefaultGreeting.
	Greeting string
}

// ChatError records a failed exchange. It is shown through the transcript
// and never returned to the caller.
type ChatError struct {
	Message string
	Err     error
}

func (e *ChatError) Error() string { return "chat exchange failed: " + e.Err.Error() }

func (e *ChatError) Unwrap() error { return e.Err }

// Session is one conversation. The transcript only grows.
type Session struct {
	api     API
	session Authorizer

	mu         sync.Mutex
	transcript []domain.ChatMessage
	state      State
	gen        uint64
	lastErr    *ChatError
}

func New(cfg Config) (*Session, error) {
	if cfg.API == nil {
		return nil, errors.New("chat: API is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("chat: session is required")
	}
	greeting := strings.TrimSpace(cfg.Greeting)
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Session{
		api:        cfg.API,
		session:    cfg.Session,
		transcript: []domain.ChatMessage{{Role: domain.RoleAssistant, Content: greeting}},
		state:      StateIdle,
	}, nil
}

// Send appends text as a user message and blocks until the assistant's
// reply, or the apology, is appended. It returns false without touching the
// transcript when text is blank or an exchange is already running.
func (s *Session) Send(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	s.transcript = append(s.transcript, domain.ChatMessage{Role: domain.RoleUser, Content: text})
	s.state = StateSending
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	var reply string
	err := s.session.Do(ctx, func(token string) error {
		var chatErr error
		reply, chatErr = s.api.Chat(ctx, token, text)
		return chatErr
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return true
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("chat_exchange_failed", "err", err)
		s.lastErr = &ChatError{Message: Apology, Err: err}
		reply = Apology
	} else {
		s.lastErr = nil
	}
	s.transcript = append(s.transcript, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply})
	s.state = StateIdle
	return true
}

// Close discards a reply still in flight and makes later sends no-ops.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.state = StateClosed
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError is the failure of the most recent exchange, or nil.
func (s *Session) LastError() *ChatError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
