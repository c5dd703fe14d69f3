package rooms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("rooms: invalid owner id")
	// ErrRoomNotFound indicates the store has no record for the room id.
	ErrRoomNotFound = errors.New("rooms: room not found")
)

// Room is one door-lock device as the assistant sees it.
type Room struct {
	RoomID      string    `gorm:"column:room_id;primaryKey;size:190;not null"`
	OwnerUserID string    `gorm:"column:user_id;size:190;not null;index"`
	Name        string    `gorm:"column:name;size:190"`
	State       int       `gorm:"column:state;not null;default:0"`
	MonitorOnly bool      `gorm:"column:monitor_only;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:last_updated;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// DisplayName returns the friendly name, falling back to the room id.
func (r Room) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return r.RoomID
}

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// OwnerID represents a validated owning user identifier.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}
