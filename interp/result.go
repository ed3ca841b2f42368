package interp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is the normalized outcome of one evaluation or program run.
// Invariant: Success is true exactly when Errors is empty.
type Result struct {
	Success    bool          `json:"success"`
	Output     string        `json:"output"`
	Errors     []ErrorDetail `json:"errors,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	WallTimeMs int64         `json:"wallTimeMs"`
}

// CompileResult is the outcome of a compile-only request.
type CompileResult struct {
	Success   bool          `json:"success"`
	ProgramID string        `json:"programId,omitempty"`
	Errors    []ErrorDetail `json:"errors,omitempty"`
}

// EvalOptions configures a single evaluation.
type EvalOptions struct {
	// Timeout caps the evaluation; zero disables the client-side cap.
	Timeout time.Duration
	// OnOutput, when set, receives this evaluation's chunks instead of
	// the handler wired at Initialize. Output a stale call produces
	// after its caller gave up stays attributed to that call.
	OnOutput func(text string)
	// OnError is the per-call counterpart for asynchronous errors.
	OnError func(detail ErrorDetail)
}

// Failure builds a failed result with a single normalized error.
func Failure(detail ErrorDetail, wallTime time.Duration) Result {
	return Result{
		Success:    false,
		Errors:     []ErrorDetail{detail},
		WallTimeMs: wallTime.Milliseconds(),
	}
}

// TimeoutResult synthesizes the canonical timed-out result.
func TimeoutResult(budget time.Duration) Result {
	return Result{
		Success: false,
		Errors: []ErrorDetail{{
			Kind:    KindTimeoutError,
			Message: fmt.Sprintf("Execution timed out after %dms", budget.Milliseconds()),
		}},
		WallTimeMs: budget.Milliseconds(),
	}
}

// wireResult is the interpreter's raw result frame.
type wireResult struct {
	Success         bool            `json:"success"`
	ID              string          `json:"id,omitempty"`
	Version         string          `json:"version,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	ExecutionTimeMs float64         `json:"execution_time_ms,omitempty"`
	Error           json.RawMessage `json:"error,omitempty"`
}
