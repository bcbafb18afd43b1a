package devserver

import (
	"context"
	"sync"
	"time"

	"medivault/pkg/domain"
)

// MemoryStore keeps everything in-process. Data is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	nextUser  int64
	nextDoc   int64
	users     map[int64]domain.User
	usernames map[string]int64
	docs      map[int64]domain.StoredDocument
	order     []int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]domain.User),
		usernames: make(map[string]int64),
		docs:      make(map[int64]domain.StoredDocument),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usernames[u.Username]; exists {
		return domain.User{}, ErrUsernameTaken
	}
	m.nextUser++
	u.ID = m.nextUser
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc domain.StoredDocument) (domain.StoredDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDoc++
	doc.ID = m.nextDoc
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = domain.Timestamp{Time: time.Now().UTC()}
	}
	m.docs[doc.ID] = doc
	m.order = append(m.order, doc.ID)
	return doc, nil
}

// ListDocuments returns the owner's documents in upload order.
func (m *MemoryStore) ListDocuments(_ context.Context, ownerID int64) ([]domain.StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.StoredDocument, 0, len(m.order))
	for _, id := range m.order {
		if doc, ok := m.docs[id]; ok && doc.OwnerID == ownerID {
			res = append(res, doc)
		}
	}
	return res, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, ownerID, id int64) (domain.StoredDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return domain.StoredDocument{}, false, nil
	}
	return doc, true, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, ownerID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.docs, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}
