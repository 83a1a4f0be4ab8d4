package ledger

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ragserve/pkg/domain"
)

// GormStore implements Store on a relational database. Postgres is the
// production backend; SQLite is offered for single-node deployments and
// tests. Either way the driver owns the concurrency contract, not a
// check-same-thread escape hatch.
type GormStore struct {
	db *gorm.DB
}

// NewPostgresStore opens Postgres and runs auto-migrations.
func NewPostgresStore(dsn string) (*GormStore, error) {
	return newGormStore(postgres.Open(dsn))
}

// NewSQLiteStore opens a local SQLite file and runs auto-migrations.
func NewSQLiteStore(path string) (*GormStore, error) {
	return newGormStore(sqlite.Open(path))
}

func newGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &UploadModel{}, &EmbeddingModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateUser inserts a user row. Duplicate IDs surface as the driver's
// constraint-violation error.
func (s *GormStore) CreateUser(u domain.User) error {
	model := UserModel{
		UserID:              u.ID,
		DisplayName:         u.DisplayName,
		CredentialHash:      u.CredentialHash,
		LastAuthenticatedAt: u.LastAuthenticatedAt,
	}
	return s.db.Create(&model).Error
}

// GetUser looks up a user by ID.
func (s *GormStore) GetUser(userID string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return domain.User{
		ID:                  model.UserID,
		DisplayName:         model.DisplayName,
		CredentialHash:      model.CredentialHash,
		LastAuthenticatedAt: model.LastAuthenticatedAt,
	}, true, nil
}

// TouchUser refreshes the last-authenticated timestamp.
func (s *GormStore) TouchUser(userID string, now time.Time) error {
	return s.db.Model(&UserModel{}).
		Where("user_id = ?", userID).
		Update("last_authenticated_at", now).Error
}

// CreateUpload inserts a new upload row and returns its surrogate key.
// Duplicate filenames per owner are allowed on purpose.
func (s *GormStore) CreateUpload(ownerID, filename string, now time.Time) (int64, error) {
	model := UploadModel{
		OwnerID:   ownerID,
		Filename:  filename,
		CreatedAt: now,
		Available: true,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return 0, err
	}
	return model.FileID, nil
}

// ActiveUploads returns available uploads for an owner in insertion order.
func (s *GormStore) ActiveUploads(ownerID string) ([]domain.Upload, error) {
	var models []UploadModel
	err := s.db.
		Where("owner_id = ? AND available = ?", ownerID, true).
		Order("file_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return uploadsFromModels(models), nil
}

// ResolveFileID maps an active (owner, filename) pair to its surrogate key.
// When duplicates share the name, the lowest file_id wins.
func (s *GormStore) ResolveFileID(ownerID, filename string) (int64, bool, error) {
	var model UploadModel
	err := s.db.
		Where("owner_id = ? AND filename = ? AND available = ?", ownerID, filename, true).
		Order("file_id ASC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model.FileID, true, nil
}

// MarkUploadRemoved flips available to false for a row owned by ownerID and
// returns the number of rows changed. Rows already removed, or owned by
// someone else, do not match.
func (s *GormStore) MarkUploadRemoved(ownerID string, fileID int64) (int64, error) {
	res := s.db.Model(&UploadModel{}).
		Where("owner_id = ? AND file_id = ? AND available = ?", ownerID, fileID, true).
		Update("available", false)
	return res.RowsAffected, res.Error
}

// CreateEmbedding records one chunk link. No uniqueness check on vectorID.
func (s *GormStore) CreateEmbedding(fileID int64, vectorID string) error {
	model := EmbeddingModel{
		FileID:    fileID,
		VectorID:  vectorID,
		Available: true,
	}
	return s.db.Create(&model).Error
}

// ActiveVectorIDs returns the vector IDs of available embeddings for the
// given file IDs, in insertion order.
func (s *GormStore) ActiveVectorIDs(fileIDs []int64) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.Model(&EmbeddingModel{}).
		Where("file_id IN ? AND available = ?", fileIDs, true).
		Order("entry_id ASC").
		Pluck("vector_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkVectorsRemoved bulk-flips embeddings to unavailable and returns the
// number of active rows actually changed. Effects are not rolled back when
// fewer rows match than were requested.
func (s *GormStore) MarkVectorsRemoved(vectorIDs []string) (int64, error) {
	res := s.db.Model(&EmbeddingModel{}).
		Where("vector_id IN ? AND available = ?", vectorIDs, true).
		Update("available", false)
	return res.RowsAffected, res.Error
}

// UploadsOlderThan returns available uploads created strictly before cutoff,
// oldest first.
func (s *GormStore) UploadsOlderThan(ownerID string, cutoff time.Time) ([]domain.Upload, error) {
	var models []UploadModel
	err := s.db.
		Where("owner_id = ? AND available = ? AND created_at < ?", ownerID, true, cutoff).
		Order("file_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return uploadsFromModels(models), nil
}

func uploadsFromModels(models []UploadModel) []domain.Upload {
	res := make([]domain.Upload, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Upload{
			FileID:    m.FileID,
			OwnerID:   m.OwnerID,
			Filename:  m.Filename,
			CreatedAt: m.CreatedAt,
			Available: m.Available,
		})
	}
	return res
}
