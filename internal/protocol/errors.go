package protocol

// Code is one of the stable protocol-visible error codes.
type Code string

const (
	CodeAlreadyRunning       Code = "already_running"
	CodeAgentNotFound        Code = "agent_not_found"
	CodeDuplicateAgent       Code = "duplicate_agent"
	CodeACLDenied            Code = "acl_denied"
	CodeInvalidRequest       Code = "invalid_request"
	CodeProtocolError        Code = "protocol_error"
	CodeUnsupportedOperation Code = "unsupported_operation"
	CodeInternalError        Code = "internal_error"
	CodeTimeout              Code = "timeout"
	CodeDeliveryRejected     Code = "delivery_rejected"
)

// Error is the wire shape of a failed response's "error" field.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// NewError builds an *Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
