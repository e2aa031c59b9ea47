// Package apierror maps failures to Presto error codes and to the error object
// carried by a statement page.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nnnkkk7/presto-page/pkg/page"
)

// Error types. The code ranges follow the coordinator's standard error codes.
const (
	TypeUserError             = "USER_ERROR"
	TypeInternalError         = "INTERNAL_ERROR"
	TypeInsufficientResources = "INSUFFICIENT_RESOURCES"
	TypeExternal              = "EXTERNAL"
)

// ErrorCode identifies one standard error.
type ErrorCode struct {
	Code int
	Name string
	Type string
}

// Standard error codes.
var (
	GenericUserError     = ErrorCode{0, "GENERIC_USER_ERROR", TypeUserError}
	SyntaxError          = ErrorCode{1, "SYNTAX_ERROR", TypeUserError}
	UserCanceled         = ErrorCode{3, "USER_CANCELED", TypeUserError}
	NotFound             = ErrorCode{5, "NOT_FOUND", TypeUserError}
	FunctionNotFound     = ErrorCode{6, "FUNCTION_NOT_FOUND", TypeUserError}
	DivisionByZero       = ErrorCode{8, "DIVISION_BY_ZERO", TypeUserError}
	InvalidCastArgument  = ErrorCode{9, "INVALID_CAST_ARGUMENT", TypeUserError}
	AlreadyExists        = ErrorCode{12, "ALREADY_EXISTS", TypeUserError}
	NotSupported         = ErrorCode{13, "NOT_SUPPORTED", TypeUserError}
	GenericInternalError = ErrorCode{65536, "GENERIC_INTERNAL_ERROR", TypeInternalError}
	ServerShuttingDown   = ErrorCode{65548, "SERVER_SHUTTING_DOWN", TypeInternalError}
	ExceededMemoryLimit  = ErrorCode{131072, "EXCEEDED_MEMORY_LIMIT", TypeInsufficientResources}
	GenericExternal      = ErrorCode{16777216, "GENERIC_EXTERNAL", TypeExternal}
)

// SQL states reported alongside the codes above.
const (
	SQLStateSyntaxError   = "42000"
	SQLStateNotFound      = "42S02"
	SQLStateAlreadyExists = "42S01"
	SQLStateDataException = "22000"
	SQLStateDivideByZero  = "22012"
	SQLStateCanceled      = "57014"
	SQLStateGeneralError  = "HY000"
)

// PrestoError is a failure reported to clients either inside a statement page
// or as the body of a non-page HTTP response.
type PrestoError struct {
	ErrorCode
	Message    string
	SQLState   string
	HTTPStatus int
	Cause      error
}

// Error implements the error interface.
func (e *PrestoError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Name, e.Message)
}

// Unwrap returns the cause.
func (e *PrestoError) Unwrap() error {
	return e.Cause
}

// Is matches another PrestoError by code.
func (e *PrestoError) Is(target error) bool {
	var pe *PrestoError
	if errors.As(target, &pe) {
		return e.Code == pe.Code
	}
	return false
}

// QueryError builds the error object of a failed statement page. Each wrapped
// cause becomes one level of the failure info chain.
func (e *PrestoError) QueryError() *page.QueryError {
	return &page.QueryError{
		Message:     e.Message,
		SQLState:    e.SQLState,
		ErrorCode:   e.Code,
		ErrorName:   e.Name,
		ErrorType:   e.Type,
		Retriable:   e.Type == TypeInsufficientResources,
		FailureInfo: failureInfo(e),
	}
}

func failureInfo(err error) *page.FailureInfo {
	if err == nil {
		return nil
	}
	info := &page.FailureInfo{Type: fmt.Sprintf("%T", err)}
	if pe, ok := err.(*PrestoError); ok {
		info.Type = pe.Name
		info.Message = pe.Message
		info.Cause = failureInfo(pe.Cause)
		return info
	}
	info.Message = err.Error()
	info.Cause = failureInfo(errors.Unwrap(err))
	return info
}

// ErrorResponse is the body of a non-page error response.
type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorCode int    `json:"errorCode"`
	ErrorName string `json:"errorName"`
	ErrorType string `json:"errorType"`
}

// ToResponse converts the error to a response body.
func (e *PrestoError) ToResponse() *ErrorResponse {
	return &ErrorResponse{
		Message:   e.Message,
		ErrorCode: e.Code,
		ErrorName: e.Name,
		ErrorType: e.Type,
	}
}

// WriteJSON writes the error as a JSON response with its HTTP status.
func (e *PrestoError) WriteJSON(w http.ResponseWriter) {
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e.ToResponse())
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *PrestoError {
	return &PrestoError{
		ErrorCode:  code,
		Message:    message,
		SQLState:   sqlStateFor(code),
		HTTPStatus: http.StatusOK,
	}
}

// Wrap creates an error with the given code that keeps err as its cause.
func Wrap(code ErrorCode, err error) *PrestoError {
	pe := New(code, err.Error())
	pe.Cause = err
	return pe
}

// NewSyntaxError creates a SYNTAX_ERROR.
func NewSyntaxError(message string) *PrestoError {
	return New(SyntaxError, message)
}

// NewUserCanceledError creates the error reported for a canceled query.
func NewUserCanceledError() *PrestoError {
	return New(UserCanceled, "Query was canceled")
}

// NewQueryNotFoundError creates the error returned for an unknown query id.
func NewQueryNotFoundError(queryID string) *PrestoError {
	pe := New(NotFound, fmt.Sprintf("Query not found: %s", queryID))
	pe.HTTPStatus = http.StatusNotFound
	return pe
}

// NewInvalidTokenError creates the error returned for a token that is not
// the current or next one of a query.
func NewInvalidTokenError(queryID, token string) *PrestoError {
	pe := New(NotFound, fmt.Sprintf("Invalid token %s for query %s", token, queryID))
	pe.HTTPStatus = http.StatusGone
	return pe
}

// NewBadRequestError creates the error returned for a malformed request.
func NewBadRequestError(message string) *PrestoError {
	pe := New(GenericUserError, message)
	pe.HTTPStatus = http.StatusBadRequest
	return pe
}

// NewInternalError creates a GENERIC_INTERNAL_ERROR.
func NewInternalError(message string) *PrestoError {
	return New(GenericInternalError, message)
}

// FromError classifies err. PrestoErrors are returned as is; context
// cancellation becomes USER_CANCELED; DuckDB errors are mapped by their
// message prefix.
func FromError(err error) *PrestoError {
	if err == nil {
		return nil
	}

	var pe *PrestoError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		e := NewUserCanceledError()
		e.Cause = err
		return e
	}
	return Wrap(classify(err.Error()), err)
}

func classify(msg string) ErrorCode {
	switch {
	case strings.Contains(msg, "Parser Error"), strings.Contains(msg, "Binder Error"):
		return SyntaxError
	case strings.Contains(msg, "Catalog Error") && strings.Contains(msg, "Function with name"):
		return FunctionNotFound
	case strings.Contains(msg, "already exists"):
		return AlreadyExists
	case strings.Contains(msg, "Catalog Error"), strings.Contains(msg, "does not exist"):
		return NotFound
	case strings.Contains(msg, "Division by zero"), strings.Contains(msg, "division by zero"):
		return DivisionByZero
	case strings.Contains(msg, "Conversion Error"):
		return InvalidCastArgument
	case strings.Contains(msg, "Not implemented Error"):
		return NotSupported
	case strings.Contains(msg, "Out of Memory Error"):
		return ExceededMemoryLimit
	default:
		return GenericInternalError
	}
}

func sqlStateFor(code ErrorCode) string {
	switch code.Code {
	case SyntaxError.Code, FunctionNotFound.Code:
		return SQLStateSyntaxError
	case NotFound.Code:
		return SQLStateNotFound
	case AlreadyExists.Code:
		return SQLStateAlreadyExists
	case InvalidCastArgument.Code:
		return SQLStateDataException
	case DivisionByZero.Code:
		return SQLStateDivideByZero
	case UserCanceled.Code:
		return SQLStateCanceled
	default:
		return SQLStateGeneralError
	}
}
