package persister

import (
	"errors"
	"fmt"
)

// ParseError reports a notes file that could not be read back.
//
// A file that fails to parse is quarantined; its contents never reach the
// store.
type ParseError struct {
	// Code identifies the error category.
	Code ParseErrorCode

	// Path is the offending file.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the underlying decoder or validation error, if any.
	Err error
}

// ParseErrorCode categorizes parse errors.
type ParseErrorCode string

const (
	// ErrCodeMissingDelimiter indicates a Markdown file without a complete
	// --- frontmatter block.
	ErrCodeMissingDelimiter ParseErrorCode = "MISSING_DELIMITER"

	// ErrCodeInvalidYAML indicates frontmatter that is not a YAML mapping.
	ErrCodeInvalidYAML ParseErrorCode = "INVALID_YAML"

	// ErrCodeSchemaViolation indicates frontmatter rejected by the schema,
	// including an unknown type or ids that disagree with the file name.
	ErrCodeSchemaViolation ParseErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeInvalidJSON indicates a corrupt transcript sidecar.
	ErrCodeInvalidJSON ParseErrorCode = "INVALID_JSON"
)

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path=%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// PersistError reports a failed write or removal of a session's files.
type PersistError struct {
	Code      PersistErrorCode
	SessionID string
	Path      string
	Err       error
}

// PersistErrorCode categorizes persistence failures.
type PersistErrorCode string

const (
	ErrCodeRenderFailed PersistErrorCode = "RENDER_FAILED"
	ErrCodeWriteFailed  PersistErrorCode = "WRITE_FAILED"
	ErrCodeRemoveFailed PersistErrorCode = "REMOVE_FAILED"
)

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: session %s (path=%s): %v", e.Code, e.SessionID, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsParseError returns true if err is a ParseError with the given code.
// Uses errors.As to handle wrapped errors.
func IsParseError(err error, code ParseErrorCode) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsPersistError returns true if err is a PersistError of any code.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

func newParseError(code ParseErrorCode, path, message string, err error) *ParseError {
	return &ParseError{Code: code, Path: path, Message: message, Err: err}
}
