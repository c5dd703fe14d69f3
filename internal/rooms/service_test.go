package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Room{}); err != nil {
		t.Fatalf("failed to migrate room schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func mustRoomID(t *testing.T, value string) RoomID {
	t.Helper()
	id, err := NewRoomID(value)
	if err != nil {
		t.Fatalf("unexpected room id error: %v", err)
	}
	return id
}

func mustOwnerID(t *testing.T, value string) OwnerID {
	t.Helper()
	id, err := NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func TestQueryByOwnerReturnsOnlyOwnedRoomsInInsertOrder(t *testing.T) {
	tick := int64(1700000000)
	service := newTestService(t, func() time.Time {
		tick++
		return time.Unix(tick, 0)
	})
	ctx := context.Background()
	for _, room := range []Room{
		{RoomID: "r2", OwnerUserID: "U1", Name: "BACK", State: 4},
		{RoomID: "r1", OwnerUserID: "U1", Name: "FRONT", State: 1},
		{RoomID: "r3", OwnerUserID: "U2", Name: "GARAGE", State: 2},
	} {
		if _, err := service.Put(ctx, room); err != nil {
			t.Fatalf("put %s failed: %v", room.RoomID, err)
		}
	}

	rooms, err := service.QueryByOwner(ctx, mustOwnerID(t, "U1"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected two rooms, got %d", len(rooms))
	}
	if rooms[0].RoomID != "r2" || rooms[1].RoomID != "r1" {
		t.Fatalf("expected insert order r2, r1; got %s, %s", rooms[0].RoomID, rooms[1].RoomID)
	}

	empty, err := service.QueryByOwner(ctx, mustOwnerID(t, "nobody"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no rooms, got %d", len(empty))
	}
}

func TestUpdateStateWritesCode(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	if _, err := service.Put(ctx, Room{RoomID: "r2", OwnerUserID: "U1", Name: "BACK", State: 4}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := service.UpdateState(ctx, mustRoomID(t, "r2"), 1); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	room, err := service.Get(ctx, mustRoomID(t, "r2"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if room.State != 1 {
		t.Fatalf("expected state 1, got %d", room.State)
	}
	if room.OwnerUserID != "U1" {
		t.Fatalf("expected owner to be unchanged, got %s", room.OwnerUserID)
	}
}

func TestMissingRoomReportsNotFound(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	if _, err := service.Get(ctx, mustRoomID(t, "missing")); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
	if err := service.UpdateState(ctx, mustRoomID(t, "missing"), 1); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestPutKeepsOwnerOnConflict(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()
	if _, err := service.Put(ctx, Room{RoomID: "r1", OwnerUserID: "U1", Name: "FRONT", State: 1}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	room, err := service.Put(ctx, Room{RoomID: "r1", OwnerUserID: "U9", Name: "FRONT DOOR", State: 3, MonitorOnly: true})
	if err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	if room.OwnerUserID != "U1" {
		t.Fatalf("expected owner to stay U1, got %s", room.OwnerUserID)
	}
	if room.Name != "FRONT DOOR" || room.State != 3 || !room.MonitorOnly {
		t.Fatalf("expected mutable fields to update, got %+v", room)
	}
}

func TestServiceErrorsCarryCodes(t *testing.T) {
	service := &Service{}
	_, err := service.Get(context.Background(), RoomID("r1"))
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	if serviceErr.Code() != "rooms.get.missing_database" {
		t.Fatalf("unexpected code %s", serviceErr.Code())
	}
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	if (Room{RoomID: "r9"}).DisplayName() != "r9" {
		t.Fatalf("expected room id fallback")
	}
	if (Room{RoomID: "r9", Name: " FRONT "}).DisplayName() != "FRONT" {
		t.Fatalf("expected trimmed name")
	}
}
