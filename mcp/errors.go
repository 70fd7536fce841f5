package mcp

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ToolError represents a structured error from tool execution
type ToolError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Tool       string                 `json:"tool,omitempty"`
	Field      string                 `json:"field,omitempty"`
	FieldValue interface{}            `json:"field_value,omitempty"`
	Hint       string                 `json:"hint,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HttpStatus int                    `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RPCCode is the JSON-RPC error code the transport reports for e.
func (e *ToolError) RPCCode() int {
	switch e.Code {
	case ErrCodeMissingRequired, ErrCodeInvalidType, ErrCodeInvalidValue, ErrCodeValidationFailed:
		return CodeInvalidParams
	case ErrCodeUnknownOperation, ErrCodeMethodNotFound:
		return CodeMethodNotFound
	case ErrCodeSessionNotFound:
		return CodeSessionNotFound
	case ErrCodeSessionLimit:
		return CodeSessionLimit
	case ErrCodeTimeout:
		return CodeTimeout
	case ErrCodeSessionClosed:
		return CodeSessionClosed
	case ErrCodeInternalError:
		return CodeInternalError
	case ErrCodeParseError:
		return CodeParseError
	case ErrCodeInvalidRequest:
		return CodeInvalidRequest
	default:
		return CodeDelegatedFailure
	}
}

// ValidationError represents field-level validation errors
type ValidationError struct {
	Tool    string                 `json:"tool"`
	Message string                 `json:"message"`
	Fields  map[string]*FieldError `json:"fields"`
	Hint    string                 `json:"hint,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: invalid fields: %s", e.Message, strings.Join(e.fieldNames(), ", "))
}

func (e *ValidationError) fieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		names = append(names, field)
	}
	sort.Strings(names)
	return names
}

// FieldError represents validation error for a specific field
type FieldError struct {
	Value     interface{} `json:"value,omitempty"`
	Message   string      `json:"message"`
	Expected  string      `json:"expected,omitempty"`
	Required  bool        `json:"required"`
	FieldType string      `json:"type,omitempty"`
}

// Error codes carried in ToolError.Code
const (
	// Validation error codes
	ErrCodeMissingRequired  = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidType      = "INVALID_FIELD_TYPE"
	ErrCodeInvalidValue     = "INVALID_FIELD_VALUE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"

	// Dispatch error codes
	ErrCodeUnknownOperation = "UNKNOWN_OPERATION"
	ErrCodeDelegatedFailure = "DELEGATED_FAILURE"
	ErrCodeTimeout          = "TIMEOUT"

	// Session error codes
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeSessionLimit    = "SESSION_LIMIT"
	ErrCodeSessionClosed   = "SESSION_CLOSED"

	// Transport error codes
	ErrCodeParseError     = "PARSE_ERROR"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeMethodNotFound = "METHOD_NOT_FOUND"

	// Infrastructure error codes
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// JSON-RPC error codes
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeDelegatedFailure = -32000
	CodeSessionNotFound  = -32001
	CodeSessionLimit     = -32002
	CodeTimeout          = -32003
	CodeSessionClosed    = -32004
)

// NewValidationError creates a validation error for missing/invalid fields
func NewValidationError(tool, message string) *ValidationError {
	return &ValidationError{
		Tool:    tool,
		Message: message,
		Fields:  make(map[string]*FieldError),
	}
}

// AddFieldError adds a field-level validation error
func (e *ValidationError) AddFieldError(fieldName string, value interface{}, message string, required bool) {
	e.Fields[fieldName] = &FieldError{
		Value:    value,
		Message:  message,
		Required: required,
	}
}

// AddTypeError adds a type validation error
func (e *ValidationError) AddTypeError(fieldName string, value interface{}, expectedType string) {
	e.Fields[fieldName] = &FieldError{
		Value:     value,
		Message:   fmt.Sprintf("Expected type %s", expectedType),
		Expected:  expectedType,
		FieldType: "type",
	}
}

// HasErrors returns true if validation errors exist
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// ToToolError converts ValidationError to ToolError. The alphabetically
// first field becomes the primary field.
func (e *ValidationError) ToToolError() *ToolError {
	if len(e.Fields) == 0 {
		return &ToolError{
			Code:       ErrCodeValidationFailed,
			Message:    e.Message,
			Tool:       e.Tool,
			Hint:       e.Hint,
			HttpStatus: http.StatusBadRequest,
		}
	}

	firstField := e.fieldNames()[0]
	firstError := e.Fields[firstField]

	code := ErrCodeInvalidValue
	if firstError.Required {
		code = ErrCodeMissingRequired
	} else if firstError.FieldType == "type" {
		code = ErrCodeInvalidType
	}

	te := &ToolError{
		Code:       code,
		Message:    fmt.Sprintf("%s: %s", firstField, firstError.Message),
		Tool:       e.Tool,
		Field:      firstField,
		FieldValue: firstError.Value,
		Hint:       e.Hint,
		HttpStatus: http.StatusBadRequest,
	}
	if len(e.Fields) > 1 {
		te.Details = map[string]interface{}{"all_errors": e.Fields}
	}
	return te
}

// NewMissingFieldError creates an error for missing required field
func NewMissingFieldError(tool, field string) *ToolError {
	return &ToolError{
		Code:       ErrCodeMissingRequired,
		Message:    fmt.Sprintf("Field '%s' is required", field),
		Tool:       tool,
		Field:      field,
		HttpStatus: http.StatusBadRequest,
		Hint:       fmt.Sprintf("Add '%s' to your request parameters", field),
	}
}

// NewInvalidFieldError reports a value a handler could not accept.
func NewInvalidFieldError(tool, field string, value interface{}, message string) *ToolError {
	return &ToolError{
		Code:       ErrCodeInvalidValue,
		Message:    message,
		Tool:       tool,
		Field:      field,
		FieldValue: value,
		HttpStatus: http.StatusBadRequest,
	}
}

// NewParseError reports a request body that is not valid JSON.
func NewParseError(message string, err error) *ToolError {
	te := &ToolError{
		Code:       ErrCodeParseError,
		Message:    message,
		HttpStatus: http.StatusBadRequest,
	}
	if err != nil {
		te.Details = map[string]interface{}{"cause": err.Error()}
	}
	return te
}

// NewInvalidRequestError reports a body that parsed but is not a usable JSON-RPC request.
func NewInvalidRequestError(message, hint string) *ToolError {
	return &ToolError{
		Code:       ErrCodeInvalidRequest,
		Message:    message,
		HttpStatus: http.StatusBadRequest,
		Hint:       hint,
	}
}

// NewUnknownOperationError is returned for calls naming no registered tool.
func NewUnknownOperationError(tool string, known []string) *ToolError {
	return &ToolError{
		Code:       ErrCodeUnknownOperation,
		Message:    fmt.Sprintf("unknown tool '%s'", tool),
		Tool:       tool,
		HttpStatus: http.StatusNotFound,
		Hint:       "Call tools/list for the available tools",
		Details:    map[string]interface{}{"available_tools": len(known)},
	}
}

// NewSessionNotFoundError tells the client to restart its handshake.
func NewSessionNotFoundError(id string) *ToolError {
	return &ToolError{
		Code:       ErrCodeSessionNotFound,
		Message:    "Session not found or expired",
		HttpStatus: http.StatusNotFound,
		Hint:       "Start a new session: send the request again without the Mcp-Session-Id header",
		Details:    map[string]interface{}{"session_id": id},
	}
}

// NewSessionLimitError reports that no more sessions can be opened.
func NewSessionLimitError() *ToolError {
	return &ToolError{
		Code:       ErrCodeSessionLimit,
		Message:    "Too many open sessions",
		HttpStatus: http.StatusServiceUnavailable,
		Hint:       "Close unused sessions with DELETE /mcp or retry later",
	}
}

// NewSessionClosedError reports a call aborted because its session closed.
func NewSessionClosedError(tool string) *ToolError {
	return &ToolError{
		Code:       ErrCodeSessionClosed,
		Message:    "Session closed while the call was running",
		Tool:       tool,
		HttpStatus: http.StatusGone,
	}
}

// NewTimeoutError reports a call that exceeded its deadline.
func NewTimeoutError(tool string, err error) *ToolError {
	return &ToolError{
		Code:       ErrCodeTimeout,
		Message:    fmt.Sprintf("tool '%s' timed out: %v", tool, err),
		Tool:       tool,
		HttpStatus: http.StatusGatewayTimeout,
		Hint:       "Retry the call; long waits accept a timeout_seconds argument",
	}
}

// NewDelegatedError wraps a failure reported by a wallet, chain or price backend.
func NewDelegatedError(tool string, err error) *ToolError {
	return &ToolError{
		Code:       ErrCodeDelegatedFailure,
		Message:    err.Error(),
		Tool:       tool,
		HttpStatus: http.StatusBadGateway,
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(tool, service string) *ToolError {
	return &ToolError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("%s service is unavailable", service),
		Tool:       tool,
		HttpStatus: http.StatusServiceUnavailable,
		Hint:       "Configure the service URL or try again later",
	}
}

// NewInternalError creates an internal server error
func NewInternalError(tool, message string) *ToolError {
	if message == "" {
		message = "Internal server error"
	}
	return &ToolError{
		Code:       ErrCodeInternalError,
		Message:    message,
		Tool:       tool,
		HttpStatus: http.StatusInternalServerError,
	}
}

// IsToolError checks if error is a ToolError
func IsToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsValidationError checks if error is a ValidationError
func IsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}
