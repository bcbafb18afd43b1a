package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Identity is the authenticated user's session record.
type Identity struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Token       string `json:"-"`
}

// Profile is the account record returned by /auth/me.
type Profile struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name,omitempty"`
	ProviderInfo string `json:"provider_info,omitempty"`
}

type Document struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	UploadedAt   Timestamp `json:"upload_date"`
	Category     string    `json:"category,omitempty"`
	Description  string    `json:"description,omitempty"`
	MetadataInfo string    `json:"metadata_info,omitempty"`
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User is a stored account on the development backend.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	ProviderInfo string    `json:"provider_info,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StoredDocument is a document record on the development backend.
type StoredDocument struct {
	Document
	OwnerID     int64
	StorageKey  string
	ContentType string
	Text        string
}

// Phase is the lifecycle of one kind of request issued by a component.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseBusy  Phase = "busy"
	PhaseError Phase = "error"
)

// Status pairs a Phase with the failure that caused PhaseError.
// Err is nil unless Phase is PhaseError; use the constructors.
type Status struct {
	phase Phase
	err   error
}

func Idle() Status { return Status{phase: PhaseIdle} }

func Busy() Status { return Status{phase: PhaseBusy} }

func Failed(err error) Status {
	if err == nil {
		return Idle()
	}
	return Status{phase: PhaseError, err: err}
}

func (s Status) Phase() Phase {
	if s.phase == "" {
		return PhaseIdle
	}
	return s.phase
}

func (s Status) Err() error { return s.err }

func (s Status) Busy() bool { return s.phase == PhaseBusy }

// Timestamp decodes both zoned RFC 3339 times and the naive ISO-8601
// form the backend emits for upload dates (interpreted as UTC).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		t.Time = time.Time{}
		return nil
	}
	value := strings.TrimSpace(*raw)
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", value)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
