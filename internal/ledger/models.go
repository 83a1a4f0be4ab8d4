package ledger

import "time"

// GORM models used for persistence.
type UserModel struct {
	UserID              string `gorm:"primaryKey"`
	DisplayName         string `gorm:"not null"`
	CredentialHash      string `gorm:"not null"`
	LastAuthenticatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

type UploadModel struct {
	FileID    int64     `gorm:"primaryKey;autoIncrement"`
	OwnerID   string    `gorm:"not null;index"`
	Filename  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	Available bool      `gorm:"not null;default:true"`
}

func (UploadModel) TableName() string { return "uploads" }

type EmbeddingModel struct {
	EntryID   int64  `gorm:"primaryKey;autoIncrement"`
	FileID    int64  `gorm:"not null;index"`
	VectorID  string `gorm:"not null;index"`
	Available bool   `gorm:"not null;default:true"`
}

func (EmbeddingModel) TableName() string { return "embeddings" }
