// Package apierrors defines the taxonomy of machine-readable error codes shared by the REST surface and the gateway
// wire protocol. It stands in for the teacher's external uncord-protocol/errors module, folded in-repo because this
// server has no separate protocol package to depend on.
package apierrors

// Code is a machine-readable error identifier returned to clients in both REST responses and gateway error frames.
type Code string

const (
	AuthInvalid         Code = "AUTH_INVALID"
	AuthExpired         Code = "AUTH_EXPIRED"
	ValidationError     Code = "VALIDATION_ERROR"
	NotFound            Code = "NOT_FOUND"
	Conflict            Code = "CONFLICT"
	Forbidden           Code = "FORBIDDEN"
	NotGroupMember      Code = "NOT_GROUP_MEMBER"
	MissingRecipient    Code = "MISSING_RECIPIENT"
	MissingGroup        Code = "MISSING_GROUP"
	InvalidMessageType  Code = "INVALID_MESSAGE_TYPE"
	ParseError          Code = "PARSE_ERROR"
	PersistFailed       Code = "PERSIST_FAILED"
	RateLimited         Code = "RATE_LIMITED"
	PolicyViolation     Code = "POLICY_VIOLATION"
)

// Error is a typed, taxonomy-tagged error. The business layer returns these; the transport layer (REST or gateway)
// maps Code to an HTTP status or wire error frame without needing to inspect error strings.
type Error struct {
	Code    Code
	Message string
	Details []FieldDetail
}

// FieldDetail is a single per-field validation diagnostic.
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// New returns a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of e carrying the given field-level diagnostics.
func (e *Error) WithDetails(details ...FieldDetail) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// HTTPStatus maps a Code to the HTTP status the REST surface should answer with.
func (c Code) HTTPStatus() int {
	switch c {
	case AuthInvalid, AuthExpired:
		return 401
	case Forbidden, NotGroupMember:
		return 403
	case NotFound, MissingGroup:
		return 404
	case Conflict:
		return 409
	case ValidationError, MissingRecipient, InvalidMessageType, ParseError:
		return 400
	case RateLimited:
		return 429
	case PersistFailed:
		return 502
	case PolicyViolation:
		return 409
	default:
		return 500
	}
}
