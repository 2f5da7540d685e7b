package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies build failures by how far they propagate.
type ErrorKind string

const (
	// KindReference is a page naming a missing layout or partial. Scoped to one page.
	KindReference ErrorKind = "reference"
	// KindSyntax is malformed stylesheet source. Fatal for the whole build.
	KindSyntax ErrorKind = "syntax"
	// KindConfig is a missing or unreadable configuration or credentials file.
	KindConfig ErrorKind = "config"
	// KindExternal is a failure reported by an external collaborator.
	KindExternal ErrorKind = "external"
	// KindWatcher is a failure during an incremental rebuild.
	KindWatcher ErrorKind = "watcher"
	// KindIO is a file system failure.
	KindIO ErrorKind = "io"
	// KindInternal is everything else.
	KindInternal ErrorKind = "internal"
)

// Common error codes.
const (
	ErrCodeUnresolvedLayout  = "ERR_UNRESOLVED_LAYOUT"
	ErrCodeUnresolvedPartial = "ERR_UNRESOLVED_PARTIAL"
	ErrCodeTemplate          = "ERR_TEMPLATE"
	ErrCodeStyleSyntax       = "ERR_STYLE_SYNTAX"
	ErrCodeCredentials       = "ERR_CREDENTIALS"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeCleanFailed       = "ERR_CLEAN_FAILED"
	ErrCodeUpload            = "ERR_UPLOAD"
	ErrCodeRenderTest        = "ERR_RENDER_TEST"
	ErrCodeMail              = "ERR_MAIL"
	ErrCodeImage             = "ERR_IMAGE"
	ErrCodeRebuild           = "ERR_REBUILD"
	ErrCodeWrite             = "ERR_WRITE"
	ErrCodeServer            = "ERR_SERVER"
)

// BuildError is a structured error carrying enough context to decide how
// far it propagates.
type BuildError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
	Page    string
	File    string
	Line    int
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Page != "" {
		parts = append(parts, "page:"+e.Page)
	}

	if e.File != "" {
		location := e.File
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is matches on kind and code.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BuildError) WithContext(key string, value interface{}) *BuildError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPage scopes the error to a page.
func (e *BuildError) WithPage(page string) *BuildError {
	e.Page = page

	return e
}

// WithLocation adds file location information.
func (e *BuildError) WithLocation(file string, line int) *BuildError {
	e.File = file
	e.Line = line

	return e
}

// UnresolvedReferenceError is raised when a page names a layout or partial
// that does not exist. It never aborts sibling pages.
type UnresolvedReferenceError struct {
	Page string
	// Kind is "layout" or "partial".
	Kind string
	Name string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("page %s: unresolved %s %q", e.Page, e.Kind, e.Name)
}

// SyntaxError reports malformed stylesheet source.
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}

	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

// NewReferenceError wraps an UnresolvedReferenceError.
func NewReferenceError(page, kind, name string) *BuildError {
	code := ErrCodeUnresolvedPartial
	if kind == "layout" {
		code = ErrCodeUnresolvedLayout
	}

	return &BuildError{
		Kind:    KindReference,
		Code:    code,
		Message: "unresolved reference",
		Page:    page,
		Cause:   &UnresolvedReferenceError{Page: page, Kind: kind, Name: name},
	}
}

// NewTemplateError reports a page that failed to parse or execute.
func NewTemplateError(page string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindReference,
		Code:    ErrCodeTemplate,
		Message: "template failed",
		Page:    page,
		Cause:   cause,
	}
}

// NewSyntaxError creates a fatal stylesheet syntax error.
func NewSyntaxError(file string, line int, msg string) *BuildError {
	return &BuildError{
		Kind:    KindSyntax,
		Code:    ErrCodeStyleSyntax,
		Message: "stylesheet syntax error",
		File:    file,
		Line:    line,
		Cause:   &SyntaxError{File: file, Line: line, Msg: msg},
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindConfig,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewExternalError wraps a collaborator failure.
func NewExternalError(code, message string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindExternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *BuildError {
	return &BuildError{
		Kind:    KindIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewWatcherError wraps a rebuild failure so the watch loop can report it.
func NewWatcherError(cause error) *BuildError {
	return &BuildError{
		Kind:    KindWatcher,
		Code:    ErrCodeRebuild,
		Message: "incremental rebuild failed",
		Cause:   cause,
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Kind, true
	}

	return "", false
}

// IsReference checks if an error is scoped to a single page.
func IsReference(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindReference
}

// IsSyntax checks if an error is a stylesheet syntax error.
func IsSyntax(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindSyntax
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindConfig
}

// IsFatal reports whether the error must abort the whole build.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := kindOf(err)
	if !ok {
		return true
	}

	return kind != KindReference && kind != KindWatcher
}

// Logger is the subset of logging.Logger the handler needs.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// Handler routes errors to the logger according to their kind.
type Handler struct {
	logger Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle logs an error at a level matching its kind.
func (h *Handler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var be *BuildError
	if !errors.As(err, &be) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch be.Kind {
	case KindReference:
		h.logger.Warn(ctx, err, "Page skipped",
			"code", be.Code,
			"page", be.Page)
	case KindWatcher:
		h.logger.Warn(ctx, err, "Rebuild failed, waiting for next change",
			"code", be.Code)
	default:
		h.logger.Error(ctx, err, "Build error occurred",
			"kind", be.Kind,
			"code", be.Code,
			"file", be.File)
	}
}
