package smarthome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/lockstate"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/rooms"
)

// uncertaintyMilliseconds is stamped on every reported property.
const uncertaintyMilliseconds = 500

const connectivityOK = "OK"

func (r *Router) reportState(ctx context.Context, call *directiveCall, userID string) (Response, error) {
	room, err := r.loadOwnedRoom(ctx, call, userID)
	if err != nil {
		return Response{}, err
	}
	return r.stateResponse(call, "StateReport", room), nil
}

func (r *Router) actuate(lock bool) handlerFunc {
	verb := "unlocked"
	if lock {
		verb = "locked"
	}
	return func(ctx context.Context, call *directiveCall, userID string) (Response, error) {
		room, err := r.loadOwnedRoom(ctx, call, userID)
		if err != nil {
			return Response{}, err
		}
		if !r.actuationEnabled {
			return Response{}, directiveError(ErrorNotSupportedInCurrentMode, messageActuationOff, nil)
		}
		if room.MonitorOnly {
			return Response{}, directiveError(ErrorNotSupportedInCurrentMode, fmt.Sprintf(messageMonitorOnly, verb), nil)
		}

		roomID := rooms.RoomID(room.RoomID)
		target := lockstate.TargetCode(lock)
		if err := r.rooms.UpdateState(ctx, roomID, int(target)); err != nil {
			return Response{}, storeError(err)
		}
		refreshed, err := r.rooms.Get(ctx, roomID)
		if err != nil {
			return Response{}, storeError(err)
		}
		r.logger.Info("room actuated",
			zap.String("room_id", room.RoomID),
			zap.String("user_id", userID),
			zap.Int("requested_state", int(target)),
			zap.Int("stored_state", refreshed.State),
		)
		return r.stateResponse(call, "Response", refreshed), nil
	}
}

func (r *Router) loadOwnedRoom(ctx context.Context, call *directiveCall, userID string) (rooms.Room, error) {
	roomID, err := rooms.NewRoomID(call.endpointID())
	if err != nil {
		return rooms.Room{}, directiveError(ErrorNoSuchEndpoint, messageNoSuchRoom, err)
	}
	room, err := r.rooms.Get(ctx, roomID)
	if err != nil {
		return rooms.Room{}, storeError(err)
	}
	if r.verifyOwnership && room.OwnerUserID != userID {
		r.logger.Warn("room owned by another user",
			zap.String("room_id", room.RoomID),
			zap.String("user_id", userID),
		)
		return rooms.Room{}, directiveError(ErrorNoSuchEndpoint, messageNoSuchRoom, nil)
	}
	return room, nil
}

func (r *Router) stateResponse(call *directiveCall, name string, room rooms.Room) Response {
	endpoint := &Endpoint{EndpointID: room.RoomID}
	if call.endpoint != nil {
		endpoint.Scope = call.endpoint.Scope
	}
	return Response{
		Context: &Context{Properties: r.properties(room, r.clock())},
		Event: Event{
			Header:   r.responseHeader(call, NamespaceAlexa, name),
			Endpoint: endpoint,
			Payload:  emptyPayload{},
		},
	}
}

func (r *Router) properties(room rooms.Room, sampledAt time.Time) []Property {
	mapping := r.codec.Map(room.State)
	timeOfSample := sampledAt.UTC().Format(time.RFC3339Nano)
	properties := []Property{{
		Namespace:                 NamespaceLockController,
		Name:                      "lockState",
		Value:                     mapping.Lock,
		TimeOfSample:              timeOfSample,
		UncertaintyInMilliseconds: uncertaintyMilliseconds,
	}}
	if r.contactSensor {
		properties = append(properties, Property{
			Namespace:                 NamespaceContactSensor,
			Name:                      "detectionState",
			Value:                     mapping.Detection,
			TimeOfSample:              timeOfSample,
			UncertaintyInMilliseconds: uncertaintyMilliseconds,
		})
	}
	return append(properties, Property{
		Namespace:                 NamespaceEndpointHealth,
		Name:                      "connectivity",
		Value:                     connectivityValue{Value: connectivityOK},
		TimeOfSample:              timeOfSample,
		UncertaintyInMilliseconds: uncertaintyMilliseconds,
	})
}

func storeError(err error) error {
	if errors.Is(err, rooms.ErrRoomNotFound) {
		return directiveError(ErrorNoSuchEndpoint, messageNoSuchRoom, err)
	}
	return directiveError(ErrorInternal, messageInternalError, err)
}
