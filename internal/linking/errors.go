package linking

import (
	"fmt"
	"net/http"
)

// Error codes returned in the "error" field of /auth and /token responses.
const (
	CodeMissingParameter     = "missing_parameter"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeMissingCode          = "missing_code"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidCode          = "invalid_code"
	CodeCodeUsed             = "code_used"
	CodeStateMismatch        = "state_mismatch"
	CodeExpiredCode          = "expired_code"
	CodeRedirectURIMismatch  = "redirect_uri_mismatch"
	CodeInvalidClient        = "invalid_client"
	CodeServerError          = "server_error"
)

// Error is a linking failure the HTTP layer can render as is.
type Error struct {
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("linking: %s: %s", e.Code, e.Description)
}

func badRequest(code, description string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: code, Description: description}
}

func serverError() *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeServerError, Description: "The request could not be completed. Try again later."}
}

// InvalidClient is returned when /token client authentication fails.
func InvalidClient() *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeInvalidClient, Description: "Client authentication failed."}
}
