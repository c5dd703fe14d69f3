package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/identity"
)

const minPasswordLength = 8

var (
	// ErrInvalidIdentity indicates the record did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = identity.ErrInvalidCredentials
	// ErrPasswordTooShort rejects passwords below the minimum length.
	ErrPasswordTooShort = errors.New("users: password too short")
)

// ServiceConfig describes the dependencies required for user lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service reads and seeds user records.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// NewUser describes a user to seed.
type NewUser struct {
	UserID            string
	Email             string
	DisplayName       string
	Password          string
	LegacyAccessToken string
}

// Create stores a user, hashing the password with bcrypt when one is supplied.
func (s *Service) Create(ctx context.Context, input NewUser) (User, error) {
	userID := normalize(input.UserID)
	if userID == "" {
		return User{}, ErrInvalidIdentity
	}
	record := User{
		UserID:      userID,
		Email:       normalizeEmail(input.Email),
		DisplayName: normalize(input.DisplayName),
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if input.Password != "" {
		if len(input.Password) < minPasswordLength {
			return User{}, ErrPasswordTooShort
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		record.PasswordHash = string(hash)
	}
	if legacy := normalize(input.LegacyAccessToken); legacy != "" {
		record.LegacyAccessToken = &legacy
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return User{}, err
	}
	return record, nil
}

// UserIDForLegacyToken returns the user bound to an assistant token issued before token mapping existed.
func (s *Service) UserIDForLegacyToken(ctx context.Context, token string) (string, bool, error) {
	token = normalize(token)
	if token == "" {
		return "", false, nil
	}
	var record User
	err := s.db.WithContext(ctx).
		Select("user_id").
		Where("lwa_access_token = ?", token).
		Take(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return record.UserID, true, nil
}

// VerifyPassword checks an email/password pair against the stored bcrypt hash and returns the user id.
func (s *Service) VerifyPassword(ctx context.Context, email, password string) (string, error) {
	normalizedEmail := normalizeEmail(email)
	if normalizedEmail == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	var record User
	err := s.db.WithContext(ctx).
		Where("user_email = ?", normalizedEmail).
		Take(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if record.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return record.UserID, nil
}
