// Package interp hosts an externally supplied script interpreter
// compiled to WebAssembly and normalizes its heterogeneous outcomes
// (Go errors, protocol error frames, bare strings) into one canonical
// result shape. Nothing above this package ever sees a raw interpreter
// error.
package interp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Canonical error kinds.
const (
	KindCompileError        = "CompileError"
	KindRuntimeError        = "RuntimeError"
	KindTimeoutError        = "TimeoutError"
	KindExecutionError      = "ExecutionError"
	KindInitializationError = "InitializationError"
	KindUnknownError        = "UnknownError"
	KindError               = "Error"
)

// Sentinel errors for error classification.
var (
	// ErrNotInitialized indicates an operation on a client before
	// Initialize or after Dispose.
	ErrNotInitialized = errors.New("interpreter not initialized")

	// ErrInitialization indicates the external interpreter or its
	// runtime support could not be loaded. Fatal to the client; the
	// caller degrades to a no-execution-backend mode.
	ErrInitialization = errors.New("interpreter initialization failed")
)

// ErrorDetail is the normalized error shape surfaced in results.
// Line and Column are 1-based; zero means unknown.
type ErrorDetail struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	SourceContext string `json:"sourceContext,omitempty"`
}

// Error returns the message, including the source location if known.
func (e ErrorDetail) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d, col %d)", e.Kind, e.Message, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// wireError is the interpreter's own error shape, pre-normalization.
// Every field may be absent.
type wireError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Source  string `json:"source"`
	Details string `json:"details"`
}

func (w wireError) detail(defaultKind string) ErrorDetail {
	d := ErrorDetail{
		Kind:          w.Type,
		Message:       w.Message,
		Line:          w.Line,
		Column:        w.Column,
		SourceContext: w.Source,
	}
	if d.Kind == "" {
		d.Kind = defaultKind
	}
	if d.Message == "" && w.Details != "" {
		d.Message = w.Details
	}
	return d
}

// Normalize maps any raw error value into the canonical detail shape:
// a bare string becomes Kind "Error", a Go error keeps its message
// under the given default kind, and an interpreter error frame keeps
// whatever fields it carried with the rest defaulted.
func Normalize(v any, defaultKind string) ErrorDetail {
	if defaultKind == "" {
		defaultKind = KindUnknownError
	}
	switch err := v.(type) {
	case nil:
		return ErrorDetail{Kind: defaultKind, Message: "unknown error"}
	case ErrorDetail:
		if err.Kind == "" {
			err.Kind = defaultKind
		}
		return err
	case string:
		return ErrorDetail{Kind: KindError, Message: err}
	case error:
		return ErrorDetail{Kind: defaultKind, Message: err.Error()}
	case map[string]any:
		raw, _ := json.Marshal(err)
		return normalizeRaw(raw, defaultKind)
	case json.RawMessage:
		return normalizeRaw(raw(err), defaultKind)
	default:
		return ErrorDetail{Kind: defaultKind, Message: fmt.Sprint(err)}
	}
}

func raw(m json.RawMessage) []byte { return m }

// normalizeRaw decodes a JSON error payload that may be a string or an
// interpreter error object.
func normalizeRaw(data []byte, defaultKind string) ErrorDetail {
	if len(data) == 0 {
		return ErrorDetail{Kind: defaultKind, Message: "unknown error"}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return ErrorDetail{Kind: KindError, Message: s}
	}

	var w wireError
	if err := json.Unmarshal(data, &w); err == nil && (w.Message != "" || w.Type != "" || w.Details != "") {
		return w.detail(defaultKind)
	}

	return ErrorDetail{Kind: defaultKind, Message: string(data)}
}
