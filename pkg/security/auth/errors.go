package auth

import "fmt"

// Error code strings surfaced to clients. The FASTMCP_* names match what
// MCP client SDKs expect when distinguishing authentication from
// authorization failures.
const (
	CodeAuthentication = "FASTMCP_AUTHENTICATION_ERROR"
	CodeAuthorization  = "FASTMCP_AUTHORIZATION_ERROR"
)

// Error is an authentication or authorization failure with a stable
// client-facing code. RequiredRoles carries the roles that would have
// satisfied a permission check, when known, so clients can report what
// access to request.
type Error struct {
	Code          string
	Message       string
	RequiredRoles []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAuthenticationError builds a credential failure.
func NewAuthenticationError(message string) *Error {
	return &Error{Code: CodeAuthentication, Message: message}
}

// NewAuthorizationError builds a permission failure naming the roles
// that would have been accepted.
func NewAuthorizationError(message string, requiredRoles ...string) *Error {
	return &Error{Code: CodeAuthorization, Message: message, RequiredRoles: requiredRoles}
}
