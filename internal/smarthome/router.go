// Package smarthome answers assistant directives for door-lock endpoints.
package smarthome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/credentials"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/lockstate"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/logging"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/rooms"
)

// OutcomeSuccess labels directives answered without an ErrorResponse.
const OutcomeSuccess = "success"

// RoomStore is the device store the handlers read and write.
type RoomStore interface {
	QueryByOwner(ctx context.Context, ownerID rooms.OwnerID) ([]rooms.Room, error)
	Get(ctx context.Context, roomID rooms.RoomID) (rooms.Room, error)
	UpdateState(ctx context.Context, roomID rooms.RoomID, state int) error
}

// CredentialResolver maps a bearer token to a user.
type CredentialResolver interface {
	Resolve(ctx context.Context, token string) (credentials.Resolution, error)
}

// DirectiveRecorder observes directive outcomes and latency.
type DirectiveRecorder interface {
	RecordDirective(directive, outcome string, elapsed time.Duration)
}

// RouterConfig wires the router.
type RouterConfig struct {
	Rooms            RoomStore
	Credentials      CredentialResolver
	Codec            lockstate.Table
	VerifyOwnership  bool
	ActuationEnabled bool
	ContactSensor    bool
	ManufacturerName string
	Recorder         DirectiveRecorder
	Clock            func() time.Time
	MessageIDs       func() string
	Logger           *zap.Logger
}

type handlerFunc func(ctx context.Context, call *directiveCall, userID string) (Response, error)

// Router dispatches directives to handlers and shapes every outcome into a response envelope.
type Router struct {
	rooms            RoomStore
	credentials      CredentialResolver
	codec            lockstate.Table
	verifyOwnership  bool
	actuationEnabled bool
	contactSensor    bool
	manufacturerName string
	recorder         DirectiveRecorder
	clock            func() time.Time
	messageIDs       func() string
	logger           *zap.Logger
	handlers         map[DirectiveKind]handlerFunc
}

// NewRouter validates the configuration and builds the dispatch table.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Rooms == nil {
		return nil, errors.New("smarthome: room store required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("smarthome: credential resolver required")
	}
	manufacturer := cfg.ManufacturerName
	if manufacturer == "" {
		manufacturer = "Locksure"
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	messageIDs := cfg.MessageIDs
	if messageIDs == nil {
		messageIDs = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := &Router{
		rooms:            cfg.Rooms,
		credentials:      cfg.Credentials,
		codec:            cfg.Codec,
		verifyOwnership:  cfg.VerifyOwnership,
		actuationEnabled: cfg.ActuationEnabled,
		contactSensor:    cfg.ContactSensor,
		manufacturerName: manufacturer,
		recorder:         recorder,
		clock:            clock,
		messageIDs:       messageIDs,
		logger:           logger,
	}
	router.handlers = map[DirectiveKind]handlerFunc{
		KindDiscover:    router.discover,
		KindReportState: router.reportState,
		KindLock:        router.actuate(true),
		KindUnlock:      router.actuate(false),
	}
	return router, nil
}

// directiveCall is one decoded inbound directive.
type directiveCall struct {
	header   Header
	endpoint *Endpoint
	payload  directivePayload
}

func (c *directiveCall) bearerToken() string {
	if c.payload.Scope != nil && c.payload.Scope.Token != "" {
		return c.payload.Scope.Token
	}
	if c.endpoint != nil && c.endpoint.Scope != nil {
		return c.endpoint.Scope.Token
	}
	return ""
}

func (c *directiveCall) endpointID() string {
	if c.endpoint != nil && c.endpoint.EndpointID != "" {
		return c.endpoint.EndpointID
	}
	return c.payload.EndpointID
}

// Handle answers one directive. It never returns an error; failures become ErrorResponse events.
func (r *Router) Handle(ctx context.Context, request Request) (response Response) {
	started := r.clock()
	call := &directiveCall{
		header:   request.Directive.Header,
		endpoint: request.Directive.Endpoint,
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("directive handler panicked",
				zap.String("namespace", call.header.Namespace),
				zap.String("name", call.header.Name),
				zap.Any("panic", recovered),
			)
			response = r.errorResponse(call, directiveError(ErrorInternal, messageInternalError, fmt.Errorf("panic: %v", recovered)))
		}
		r.recorder.RecordDirective(KindOf(call.header).String(), outcomeOf(response), r.clock().Sub(started))
	}()

	if len(request.Directive.Payload) > 0 {
		if err := json.Unmarshal(request.Directive.Payload, &call.payload); err != nil {
			return r.errorResponse(call, directiveError(ErrorInvalidDirective, "The directive payload is malformed.", err))
		}
	}

	kind := KindOf(call.header)
	if kind == KindAcceptGrant {
		return r.acceptGrant(call)
	}

	token := call.bearerToken()
	if token == "" {
		return r.errorResponse(call, directiveError(ErrorInvalidAuthorizationCredential, messageRelink, nil))
	}
	resolution, err := r.credentials.Resolve(ctx, token)
	if errors.Is(err, credentials.ErrUnresolved) {
		return r.errorResponse(call, directiveError(ErrorInvalidAuthorizationCredential, messageUnknownToken, err))
	}
	if err != nil {
		return r.errorResponse(call, directiveError(ErrorInternal, messageInternalError, err))
	}

	handler, ok := r.handlers[kind]
	if !ok {
		message := fmt.Sprintf(messageUnsupported, call.header.Namespace, call.header.Name)
		return r.errorResponse(call, directiveError(ErrorInvalidDirective, message, nil))
	}
	response, err = handler(ctx, call, resolution.UserID)
	if err != nil {
		return r.errorResponse(call, err)
	}
	r.logger.Debug("directive handled",
		zap.String("kind", kind.String()),
		zap.String("user_id", resolution.UserID),
		zap.String("source", string(resolution.Source)),
		zap.String("endpoint_id", call.endpointID()),
	)
	return response
}

func (r *Router) acceptGrant(call *directiveCall) Response {
	return Response{
		Event: Event{
			Header:  r.responseHeader(call, NamespaceAuthorization, "AcceptGrant.Response"),
			Payload: emptyPayload{},
		},
	}
}

func (r *Router) responseHeader(call *directiveCall, namespace, name string) Header {
	return Header{
		Namespace:        namespace,
		Name:             name,
		PayloadVersion:   PayloadVersion,
		MessageID:        r.messageIDs(),
		CorrelationToken: call.header.CorrelationToken,
	}
}

func (r *Router) errorResponse(call *directiveCall, err error) Response {
	var directiveErr *DirectiveError
	if !errors.As(err, &directiveErr) {
		directiveErr = directiveError(ErrorInternal, messageInternalError, err)
	}

	fields := []zap.Field{
		zap.String("namespace", call.header.Namespace),
		zap.String("name", call.header.Name),
		zap.String("type", string(directiveErr.Type)),
		logging.Secret("token", call.bearerToken()),
	}
	if directiveErr.Err != nil {
		fields = append(fields, zap.Error(directiveErr.Err))
	}
	if directiveErr.Type == ErrorInternal {
		r.logger.Error("directive failed", fields...)
	} else {
		r.logger.Info("directive rejected", fields...)
	}

	event := Event{
		Header:  r.responseHeader(call, NamespaceAlexa, "ErrorResponse"),
		Payload: ErrorPayload{Type: directiveErr.Type, Message: directiveErr.Message},
	}
	if endpointID := call.endpointID(); endpointID != "" {
		event.Endpoint = &Endpoint{EndpointID: endpointID}
	}
	return Response{Event: event}
}

func outcomeOf(response Response) string {
	if payload, ok := response.Event.Payload.(ErrorPayload); ok {
		return string(payload.Type)
	}
	return OutcomeSuccess
}

type nopRecorder struct{}

func (nopRecorder) RecordDirective(string, string, time.Duration) {}
