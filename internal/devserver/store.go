package devserver

import (
	"context"

	"medivault/pkg/domain"
)

// Store persists accounts and document metadata. Ids are assigned by the
// store and increase monotonically.
type Store interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)

	CreateDocument(ctx context.Context, doc domain.StoredDocument) (domain.StoredDocument, error)
	ListDocuments(ctx context.Context, ownerID int64) ([]domain.StoredDocument, error)
	GetDocument(ctx context.Context, ownerID, id int64) (domain.StoredDocument, bool, error)
	// DeleteDocument returns ErrNotFound when ownerID has no document id.
	DeleteDocument(ctx context.Context, ownerID, id int64) error
}
