package smarthome

import (
	"context"
	"sort"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/rooms"
)

const (
	frontDoorName       = "FRONT"
	endpointCategory    = "SMARTLOCK"
	endpointDescription = "Locksure Door"
	interfaceType       = "AlexaInterface"
	interfaceVersion    = "3"
)

func (r *Router) discover(ctx context.Context, call *directiveCall, userID string) (Response, error) {
	ownerID, err := rooms.NewOwnerID(userID)
	if err != nil {
		return Response{}, directiveError(ErrorInvalidAuthorizationCredential, messageUnknownToken, err)
	}
	owned, err := r.rooms.QueryByOwner(ctx, ownerID)
	if err != nil {
		return Response{}, directiveError(ErrorInternal, messageInternalError, err)
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].Name == frontDoorName && owned[j].Name != frontDoorName
	})

	endpoints := make([]DiscoveredEndpoint, 0, len(owned))
	for _, room := range owned {
		endpoints = append(endpoints, DiscoveredEndpoint{
			EndpointID:        room.RoomID,
			ManufacturerName:  r.manufacturerName,
			FriendlyName:      room.DisplayName(),
			Description:       endpointDescription,
			DisplayCategories: []string{endpointCategory},
			Cookie:            map[string]string{},
			Capabilities:      r.capabilities(),
		})
	}

	return Response{
		Event: Event{
			Header:  r.responseHeader(call, NamespaceDiscovery, "Discover.Response"),
			Payload: DiscoveryPayload{Endpoints: endpoints},
		},
	}, nil
}

func (r *Router) capabilities() []Capability {
	capabilities := []Capability{
		{Type: interfaceType, Interface: NamespaceAlexa, Version: interfaceVersion},
		retrievableCapability(NamespaceLockController, "lockState"),
	}
	if r.contactSensor {
		capabilities = append(capabilities, retrievableCapability(NamespaceContactSensor, "detectionState"))
	}
	return append(capabilities, retrievableCapability(NamespaceEndpointHealth, "connectivity"))
}

func retrievableCapability(namespace, property string) Capability {
	return Capability{
		Type:      interfaceType,
		Interface: namespace,
		Version:   interfaceVersion,
		Properties: &CapabilityProperties{
			Supported:           []SupportedProperty{{Name: property}},
			ProactivelyReported: false,
			Retrievable:         true,
		},
	}
}
