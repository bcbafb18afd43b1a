package devserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"medivault/pkg/domain"
)

const migrateLockID int64 = 51842207

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent starts do not race.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &DocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	model := userToModel(u)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) CreateDocument(ctx context.Context, doc domain.StoredDocument) (domain.StoredDocument, error) {
	model := documentToModel(doc)
	if model.UploadedAt.IsZero() {
		model.UploadedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.StoredDocument{}, err
	}
	return documentFromModel(model), nil
}

func (s *GormStore) ListDocuments(ctx context.Context, ownerID int64) ([]domain.StoredDocument, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id asc").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.StoredDocument, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

func (s *GormStore) GetDocument(ctx context.Context, ownerID, id int64) (domain.StoredDocument, bool, error) {
	var model DocumentModel
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StoredDocument{}, false, nil
	}
	if err != nil {
		return domain.StoredDocument{}, false, err
	}
	return documentFromModel(model), true, nil
}

func (s *GormStore) DeleteDocument(ctx context.Context, ownerID, id int64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&DocumentModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		FullName:     u.FullName,
		ProviderInfo: u.ProviderInfo,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		FullName:     m.FullName,
		ProviderInfo: m.ProviderInfo,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func documentToModel(d domain.StoredDocument) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Filename:     d.Filename,
		UploadedAt:   d.UploadedAt.Time,
		Category:     d.Category,
		Description:  d.Description,
		MetadataInfo: d.MetadataInfo,
		StorageKey:   d.StorageKey,
		ContentType:  d.ContentType,
		Text:         d.Text,
	}
}

func documentFromModel(m DocumentModel) domain.StoredDocument {
	return domain.StoredDocument{
		Document: domain.Document{
			ID:           m.ID,
			Filename:     m.Filename,
			UploadedAt:   domain.Timestamp{Time: m.UploadedAt.UTC()},
			Category:     m.Category,
			Description:  m.Description,
			MetadataInfo: m.MetadataInfo,
		},
		OwnerID:     m.OwnerID,
		StorageKey:  m.StorageKey,
		ContentType: m.ContentType,
		Text:        m.Text,
	}
}
