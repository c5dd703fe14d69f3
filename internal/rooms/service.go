package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable machine-readable code for a failed store operation.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "rooms.service.new"
	opQueryByOwner = "rooms.query_by_owner"
	opGet          = "rooms.get"
	opUpdateState  = "rooms.update_state"
	opPut          = "rooms.put"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the room store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the device store. Writers other than this gateway (telemetry ingestion) share the table.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the room store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// QueryByOwner returns every room owned by the user in store order.
func (s *Service) QueryByOwner(ctx context.Context, ownerID OwnerID) ([]Room, error) {
	if s.db == nil {
		return nil, newServiceError(opQueryByOwner, "missing_database", errMissingDatabase)
	}
	var rooms []Room
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID.String()).
		Order("created_at ASC").
		Order("room_id ASC").
		Find(&rooms).Error; err != nil {
		s.logError(opQueryByOwner, "query_failed", err, zap.String("user_id", ownerID.String()))
		return nil, newServiceError(opQueryByOwner, "query_failed", err)
	}
	return rooms, nil
}

// Get returns one room or ErrRoomNotFound.
func (s *Service) Get(ctx context.Context, roomID RoomID) (Room, error) {
	if s.db == nil {
		return Room{}, newServiceError(opGet, "missing_database", errMissingDatabase)
	}
	var room Room
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("room_id", roomID.String()))
		return Room{}, newServiceError(opGet, "query_failed", err)
	}
	return room, nil
}

// UpdateState writes a new state code. The owner never changes here.
func (s *Service) UpdateState(ctx context.Context, roomID RoomID, state int) error {
	if s.db == nil {
		return newServiceError(opUpdateState, "missing_database", errMissingDatabase)
	}
	result := s.db.WithContext(ctx).
		Model(&Room{}).
		Where("room_id = ?", roomID.String()).
		Updates(map[string]interface{}{
			"state":        state,
			"last_updated": s.clock().UTC(),
		})
	if result.Error != nil {
		s.logError(opUpdateState, "update_failed", result.Error, zap.String("room_id", roomID.String()))
		return newServiceError(opUpdateState, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// Put inserts a room or updates its name, state and monitor flag. An existing owner is kept.
func (s *Service) Put(ctx context.Context, room Room) (Room, error) {
	if s.db == nil {
		return Room{}, newServiceError(opPut, "missing_database", errMissingDatabase)
	}
	roomID, err := NewRoomID(room.RoomID)
	if err != nil {
		return Room{}, newServiceError(opPut, "invalid_room_id", err)
	}
	ownerID, err := NewOwnerID(room.OwnerUserID)
	if err != nil {
		return Room{}, newServiceError(opPut, "invalid_owner_id", err)
	}
	now := s.clock().UTC()
	room.RoomID = roomID.String()
	room.OwnerUserID = ownerID.String()
	room.CreatedAt = now
	room.UpdatedAt = now

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "state", "monitor_only", "last_updated"}),
	}).Create(&room).Error; err != nil {
		s.logError(opPut, "upsert_failed", err, zap.String("room_id", roomID.String()))
		return Room{}, newServiceError(opPut, "upsert_failed", err)
	}
	return s.Get(ctx, roomID)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("rooms service error", attrs...)
}
