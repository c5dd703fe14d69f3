package smarthome

import "fmt"

// ErrorType is the payload.type of an ErrorResponse.
type ErrorType string

// Error types this gateway returns.
const (
	ErrorInvalidAuthorizationCredential ErrorType = "INVALID_AUTHORIZATION_CREDENTIAL"
	ErrorInvalidDirective               ErrorType = "INVALID_DIRECTIVE"
	ErrorNoSuchEndpoint                 ErrorType = "NO_SUCH_ENDPOINT"
	ErrorNotSupportedInCurrentMode      ErrorType = "NOT_SUPPORTED_IN_CURRENT_MODE"
	ErrorInternal                       ErrorType = "INTERNAL_ERROR"
)

const (
	messageRelink        = "No access token was supplied. Disable and re-link the Locksure skill in the Alexa app."
	messageUnknownToken  = "Unknown or expired token."
	messageNoSuchRoom    = "Room not found."
	messageMonitorOnly   = "Sorry, this lock is monitor-only and cannot be %s by Alexa. For more info, visit locksure.co.uk/help."
	messageActuationOff  = "Lock control is not enabled for this account."
	messageInternalError = "The request could not be completed."
	messageUnsupported   = "Unsupported directive %s.%s."
)

// DirectiveError is a handler failure rendered as an ErrorResponse.
type DirectiveError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DirectiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("smarthome: %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("smarthome: %s: %s", e.Type, e.Message)
}

func (e *DirectiveError) Unwrap() error {
	return e.Err
}

func directiveError(errorType ErrorType, message string, cause error) *DirectiveError {
	return &DirectiveError{Type: errorType, Message: message, Err: cause}
}
