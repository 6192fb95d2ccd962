package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeParse                ErrorCode = "PARSE_ERROR"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeIntegrity            ErrorCode = "INTEGRITY_ERROR"
	CodePartialWrite         ErrorCode = "PARTIAL_WRITE"
	CodeStoreUnavailable     ErrorCode = "STORE_UNAVAILABLE"
	CodeVerificationMismatch ErrorCode = "VERIFICATION_MISMATCH"
	CodeValidationError      ErrorCode = "VALIDATION_ERROR"
	CodeNotSupported         ErrorCode = "NOT_SUPPORTED"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxPath      = "path"
	CtxOperation = "operation"
	CtxKind      = "kind"
	CtxKey       = "key"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// AddContext attaches a key/value pair to err, promoting plain errors to CodeInternal.
func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost DomainError in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ParseError reports malformed file content at path.
func ParseError(path string, cause error) error {
	de := &DomainError{Code: CodeParse, Message: "malformed file", Err: cause}
	return de.WithContext(CtxPath, path)
}

func NotFound(kind, key string) error {
	de := &DomainError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, key)}
	return de.WithContext(CtxKind, kind).WithContext(CtxKey, key)
}

func Integrity(kind, key string, cause error) error {
	de := &DomainError{Code: CodeIntegrity, Message: fmt.Sprintf("constraint violation on %s %q", kind, key), Err: cause}
	return de.WithContext(CtxKind, kind).WithContext(CtxKey, key)
}

// PartialWrite reports a dual write whose file side landed but whose store side failed.
func PartialWrite(kind, key string, cause error) error {
	de := &DomainError{Code: CodePartialWrite, Message: fmt.Sprintf("%s %q written to files but not to store", kind, key), Err: cause}
	return de.WithContext(CtxKind, kind).WithContext(CtxKey, key)
}

func StoreUnavailable(op string, cause error) error {
	de := &DomainError{Code: CodeStoreUnavailable, Message: "store unavailable", Err: cause}
	return de.WithContext(CtxOperation, op)
}

func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

func IsParse(err error) bool {
	return IsCode(err, CodeParse)
}

func IsIntegrity(err error) bool {
	return IsCode(err, CodeIntegrity)
}

func IsPartialWrite(err error) bool {
	return IsCode(err, CodePartialWrite)
}

func IsStoreUnavailable(err error) bool {
	return IsCode(err, CodeStoreUnavailable)
}

// ContextValue returns the context value stored under key on the outermost DomainError.
func ContextValue(err error, key string) (interface{}, bool) {
	var de *DomainError
	if !errors.As(err, &de) || de.Context == nil {
		return nil, false
	}
	v, ok := de.Context[key]
	return v, ok
}

// Is and As forward to the standard library so callers need a single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
