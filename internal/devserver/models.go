package devserver

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;not null"`
	FullName     string
	ProviderInfo string
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type DocumentModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	OwnerID      int64     `gorm:"not null;index"`
	Filename     string    `gorm:"not null"`
	UploadedAt   time.Time `gorm:"not null"`
	Category     string
	Description  string
	MetadataInfo string
	StorageKey   string `gorm:"not null"`
	ContentType  string
	Text         string `gorm:"type:text"`
}
