package linking

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCodeNotFound is returned when a code was never issued or has been purged.
	ErrCodeNotFound = errors.New("linking: authorization code not found")
	// ErrCodeExists is returned when a code is recorded twice.
	ErrCodeExists = errors.New("linking: authorization code already recorded")
)

// CodeStore persists authorization codes.
type CodeStore interface {
	PutCode(ctx context.Context, record AuthorizationCode) error
	GetCode(ctx context.Context, code string) (AuthorizationCode, error)
	// CompareAndSetUsed flips used from false to true in one conditional write and reports whether this call won.
	CompareAndSetUsed(ctx context.Context, code string, usedAt time.Time) (bool, error)
}

// TokenStore persists bearer token to user bindings.
type TokenStore interface {
	PutToken(ctx context.Context, binding TokenBinding) error
	LookupToken(ctx context.Context, token string) (string, bool, error)
}

// GormStore implements CodeStore and TokenStore on a relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps the provided database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("linking: database connection required")
	}
	return &GormStore{db: db}, nil
}

// PutCode inserts a new code record.
func (s *GormStore) PutCode(ctx context.Context, record AuthorizationCode) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCodeExists
	}
	return nil
}

// GetCode loads a code record.
func (s *GormStore) GetCode(ctx context.Context, code string) (AuthorizationCode, error) {
	var record AuthorizationCode
	err := s.db.WithContext(ctx).Where("code = ?", code).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AuthorizationCode{}, ErrCodeNotFound
	}
	if err != nil {
		return AuthorizationCode{}, err
	}
	return record, nil
}

// CompareAndSetUsed marks the code used only if no other exchange already did.
func (s *GormStore) CompareAndSetUsed(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&AuthorizationCode{}).
		Where("code = ? AND used = ?", code, false).
		Updates(map[string]any{
			"used":      true,
			"used_at_s": usedAt.Unix(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// PutToken records a token binding.
func (s *GormStore) PutToken(ctx context.Context, binding TokenBinding) error {
	return s.db.WithContext(ctx).Create(&binding).Error
}

// LookupToken returns the user bound to token.
func (s *GormStore) LookupToken(ctx context.Context, token string) (string, bool, error) {
	var binding TokenBinding
	err := s.db.WithContext(ctx).
		Select("user_id").
		Where("token = ?", token).
		Take(&binding).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return binding.UserID, true, nil
}
