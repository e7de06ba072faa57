package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Exit codes for dlnactl.
const (
	ExitOK       = 0
	ExitRuntime  = 1
	ExitUsage    = 2
	ExitNotFound = 4
	ExitUpstream = 5
)

// Kind classifies protocol-facing failures.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidAction
	KindInvalidArgs
	KindInvalidObjectID
	KindInvalidBrowseFlag
	KindInvalidSearchCriteria
	KindInvalidSortCriteria
	KindNotFound
	KindCannotProcess
	KindUpstreamFailure
	KindRangeNotSatisfiable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAction:
		return "InvalidAction"
	case KindInvalidArgs:
		return "InvalidArgs"
	case KindInvalidObjectID:
		return "InvalidObjectID"
	case KindInvalidBrowseFlag:
		return "InvalidBrowseFlag"
	case KindInvalidSearchCriteria:
		return "InvalidSearchCriteria"
	case KindInvalidSortCriteria:
		return "InvalidSortCriteria"
	case KindNotFound:
		return "NotFound"
	case KindCannotProcess:
		return "CannotProcess"
	case KindUpstreamFailure:
		return "UpstreamFailure"
	case KindRangeNotSatisfiable:
		return "RangeNotSatisfiable"
	default:
		return "Internal"
	}
}

// UPnP fault codes.
const (
	FaultInvalidAction         = 401
	FaultInvalidArgs           = 402
	FaultActionFailed          = 501
	FaultNoSuchObject          = 701
	FaultInvalidSearchCriteria = 708
	FaultInvalidSortCriteria   = 709
	FaultNoSuchContainer       = 710
	FaultCannotProcess         = 720
)

// Error is a classified failure carrying an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindInternal
}

// FaultCode maps err to a UPnP SOAP fault code and description.
func FaultCode(err error) (int, string) {
	switch KindOf(err) {
	case KindInvalidAction:
		return FaultInvalidAction, "Invalid Action"
	case KindInvalidArgs, KindInvalidBrowseFlag:
		return FaultInvalidArgs, "Invalid Args"
	case KindInvalidObjectID, KindNotFound:
		return FaultNoSuchObject, "No such object"
	case KindInvalidSearchCriteria:
		return FaultInvalidSearchCriteria, "Unsupported or invalid search criteria"
	case KindInvalidSortCriteria:
		return FaultInvalidSortCriteria, "Unsupported or invalid sort criteria"
	case KindCannotProcess:
		return FaultCannotProcess, "Cannot process the request"
	default:
		return FaultActionFailed, "Action Failed"
	}
}

// HTTPStatus maps err to the status used on plain HTTP endpoints.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidObjectID, KindNotFound:
		return http.StatusNotFound
	case KindRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case KindInvalidArgs:
		return http.StatusBadRequest
	case KindUpstreamFailure:
		var cerr *Error
		if errors.As(err, &cerr) && isTimeout(cerr.Err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}

// CLIError carries a user-visible message and exit code.
type CLIError struct {
	Code int
	Msg  string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// WrapError creates a CLIError with an underlying error.
func WrapError(code int, msg string, err error) *CLIError {
	return &CLIError{Code: code, Msg: msg, Err: err}
}

// ErrorForFaultCode maps a SOAP fault returned by a media server to an exit code.
func ErrorForFaultCode(code int, message string) *CLIError {
	switch code {
	case FaultNoSuchObject, FaultNoSuchContainer:
		return &CLIError{Code: ExitNotFound, Msg: message}
	case FaultInvalidAction, FaultInvalidArgs, FaultInvalidSearchCriteria, FaultInvalidSortCriteria:
		return &CLIError{Code: ExitUsage, Msg: message}
	case FaultCannotProcess:
		return &CLIError{Code: ExitUpstream, Msg: message}
	default:
		return &CLIError{Code: ExitRuntime, Msg: message}
	}
}

// ExitCode returns the CLI exit code from error.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}
	return ExitRuntime
}
