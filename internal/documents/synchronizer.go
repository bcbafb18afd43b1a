// Package documents keeps the local copy of the user's document collection in
// step with the backend.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"medivault/internal/apiclient"
	"medivault/internal/util"
	"medivault/pkg/domain"
)

// API is the subset of the backend the Synchronizer calls.
type API interface {
	ListDocuments(ctx context.Context, token string) ([]domain.Document, error)
	UploadDocument(ctx context.Context, token, filename string, r io.Reader, fields apiclient.UploadFields) (domain.Document, error)
	DeleteDocument(ctx context.Context, token string, id int64) error
}

// Authorizer runs fn with the live credential; *session.Store satisfies it.
type Authorizer interface {
	Do(ctx context.Context, fn func(token string) error) error
}

// FileHandle is a file picked for upload.
type FileHandle struct {
	Name         string
	Content      io.Reader
	Category     string
	Description  string
	MetadataInfo string
}

type Config struct {
	API     API
	Session Authorizer
	// AllowedExtensions defaults to DefaultExtensions.
	AllowedExtensions []string
	// MaxUploadBytes of 0 means no limit.
	MaxUploadBytes int64
}

type kind int

const (
	kindList kind = iota
	kindUpload
	kindDelete
	kindCount
)

var kindOps = [kindCount]string{"list", "upload", "delete"}

// Synchronizer owns the document collection. Each request kind has its own
// status and at most one request of a kind is in flight.
type Synchronizer struct {
	api      API
	session  Authorizer
	allowed  map[string]struct{}
	maxBytes int64

	mu     sync.Mutex
	docs   []domain.Document
	status [kindCount]domain.Status
	gen    [kindCount]uint64
	closed bool
	// stale is set when an upload lands while a refresh is already running.
	stale bool
}

func New(cfg Config) (*Synchronizer, error) {
	if cfg.API == nil {
		return nil, errors.New("documents: API is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("documents: session is required")
	}
	if cfg.MaxUploadBytes < 0 {
		return nil, errors.New("documents: max upload bytes must be >= 0")
	}
	s := &Synchronizer{
		api:      cfg.API,
		session:  cfg.Session,
		allowed:  normalizeExtensions(cfg.AllowedExtensions),
		maxBytes: cfg.MaxUploadBytes,
		docs:     []domain.Document{},
	}
	for i := range s.status {
		s.status[i] = domain.Idle()
	}
	return s, nil
}

// Refresh replaces the local collection with the server's. On failure the
// previous collection is kept and the list status records the error.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	gen, err := s.begin(kindList)
	if err != nil {
		return err
	}
	for {
		var docs []domain.Document
		err = s.session.Do(ctx, func(token string) error {
			var listErr error
			docs, listErr = s.api.ListDocuments(ctx, token)
			return listErr
		})
		s.mu.Lock()
		if err == nil && s.stale && s.gen[kindList] == gen {
			s.stale = false
			s.mu.Unlock()
			continue
		}
		out := s.settleLocked(kindList, gen, err, func() { s.docs = docs })
		s.mu.Unlock()
		return s.logFailure(ctx, kindList, out)
	}
}

// Upload validates and sends one file, then refreshes to pick up the
// server-assigned id.
func (s *Synchronizer) Upload(ctx context.Context, file FileHandle) error {
	gen, err := s.begin(kindUpload)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(file.Name)
	data, err := s.readFile(name, file.Content)
	if err == nil {
		_, err = checkKind(name, data, s.allowed)
	}
	if err == nil {
		err = s.session.Do(ctx, func(token string) error {
			_, uploadErr := s.api.UploadDocument(ctx, token, name, bytes.NewReader(data), apiclient.UploadFields{
				Category:     strings.TrimSpace(file.Category),
				Description:  strings.TrimSpace(file.Description),
				MetadataInfo: strings.TrimSpace(file.MetadataInfo),
			})
			return uploadErr
		})
	}
	if err := s.finish(ctx, kindUpload, gen, err, nil); err != nil {
		return err
	}
	util.LoggerFromContext(ctx).Info("document_uploaded", "filename", name, "bytes", len(data))
	s.refreshAfterUpload(ctx)
	return nil
}

// refreshAfterUpload asks a running refresh to fetch once more instead of
// starting a second one. A failed refresh only shows in ListStatus.
func (s *Synchronizer) refreshAfterUpload(ctx context.Context) {
	s.mu.Lock()
	if s.status[kindList].Busy() {
		s.stale = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = s.Refresh(ctx)
}

func (s *Synchronizer) readFile(name string, content io.Reader) ([]byte, error) {
	if name == "" {
		return nil, errors.New("file name is required")
	}
	if content == nil {
		return nil, ErrEmptyFile
	}
	reader := content
	if s.maxBytes > 0 {
		reader = io.LimitReader(content, s.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, s.maxBytes)
	}
	return data, nil
}

// Delete removes one document after confirm approves it. The local entry is
// dropped only once the server has accepted the delete.
func (s *Synchronizer) Delete(ctx context.Context, id int64, confirm func(domain.Document) bool) error {
	s.mu.Lock()
	doc, ok := s.findLocked(id)
	s.mu.Unlock()
	if !ok {
		return &ResourceError{Op: kindOps[kindDelete], Err: fmt.Errorf("%w: %d", ErrUnknownDocument, id)}
	}
	if confirm == nil || !confirm(doc) {
		return ErrNotConfirmed
	}

	gen, err := s.begin(kindDelete)
	if err != nil {
		return err
	}
	err = s.session.Do(ctx, func(token string) error {
		return s.api.DeleteDocument(ctx, token, id)
	})
	return s.finish(ctx, kindDelete, gen, err, func() { s.removeLocked(id) })
}

// Filter matches query against the current collection.
func (s *Synchronizer) Filter(query string) []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Filter(s.docs, query)
}

// Documents returns a copy of the collection.
func (s *Synchronizer) Documents() []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Document, len(s.docs))
	copy(out, s.docs)
	return out
}

func (s *Synchronizer) ListStatus() domain.Status   { return s.statusOf(kindList) }
func (s *Synchronizer) UploadStatus() domain.Status { return s.statusOf(kindUpload) }
func (s *Synchronizer) DeleteStatus() domain.Status { return s.statusOf(kindDelete) }

// Close discards any response still in flight and rejects new requests.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for i := range s.gen {
		s.gen[i]++
	}
}

func (s *Synchronizer) statusOf(k kind) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[k]
}

func (s *Synchronizer) begin(k kind) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.status[k].Busy() {
		return 0, ErrBusy
	}
	s.gen[k]++
	s.status[k] = domain.Busy()
	return s.gen[k], nil
}

// finish settles the status of a request and, on success, runs apply under
// the lock. Results for a superseded generation change nothing.
func (s *Synchronizer) finish(ctx context.Context, k kind, gen uint64, err error, apply func()) error {
	s.mu.Lock()
	out := s.settleLocked(k, gen, err, apply)
	s.mu.Unlock()
	return s.logFailure(ctx, k, out)
}

func (s *Synchronizer) settleLocked(k kind, gen uint64, err error, apply func()) error {
	if k == kindList {
		s.stale = false
	}
	if s.gen[k] != gen {
		if err == nil {
			return ErrClosed
		}
		return &ResourceError{Op: kindOps[k], Err: err}
	}
	if err != nil {
		out := &ResourceError{Op: kindOps[k], Err: err}
		s.status[k] = domain.Failed(out)
		return out
	}
	if apply != nil {
		apply()
	}
	s.status[k] = domain.Idle()
	return nil
}

func (s *Synchronizer) logFailure(ctx context.Context, k kind, err error) error {
	var resErr *ResourceError
	if errors.As(err, &resErr) {
		util.LoggerFromContext(ctx).Warn("documents_request_failed", "op", kindOps[k], "err", resErr.Err)
	}
	return err
}

func (s *Synchronizer) findLocked(id int64) (domain.Document, bool) {
	for _, doc := range s.docs {
		if doc.ID == id {
			return doc, true
		}
	}
	return domain.Document{}, false
}

func (s *Synchronizer) removeLocked(id int64) {
	out := make([]domain.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if doc.ID != id {
			out = append(out, doc)
		}
	}
	s.docs = out
}
