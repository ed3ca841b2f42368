package lesson

import (
	"context"
	"fmt"
	"strings"
)

// Runner executes exercise source with the given stdin and returns
// whatever it printed. The engine's Execute wraps down to this shape.
type Runner func(ctx context.Context, source, input string) (string, error)

// CaseResult reports one input/output case.
type CaseResult struct {
	Index    int    `json:"index"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

// ValidationResult is the outcome of checking an exercise attempt.
type ValidationResult struct {
	Passed   bool         `json:"passed"`
	Expected string       `json:"expected,omitempty"`
	Actual   string       `json:"actual,omitempty"`
	Cases    []CaseResult `json:"cases,omitempty"`
}

// Normalize strips trailing whitespace from every line and from the
// whole string, so cosmetic spacing differences never fail a learner.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Matches compares two outputs after normalization, ignoring case.
func Matches(expected, actual string) bool {
	return strings.EqualFold(Normalize(expected), Normalize(actual))
}

// CheckOutput validates a single-run exercise against the output the
// attempt produced. Exercises with neither an expected output nor
// cases are free-form and always pass.
func (ex *Exercise) CheckOutput(actual string) ValidationResult {
	if ex.ExpectedOutput == "" && len(ex.Cases) == 0 {
		return ValidationResult{Passed: true, Actual: actual}
	}
	return ValidationResult{
		Passed:   Matches(ex.ExpectedOutput, actual),
		Expected: ex.ExpectedOutput,
		Actual:   actual,
	}
}

// RunCases executes the attempt once per case and compares each
// output. A runner error aborts the whole validation; a wrong answer
// does not.
func (ex *Exercise) RunCases(ctx context.Context, source string, run Runner) (ValidationResult, error) {
	if len(ex.Cases) == 0 {
		return ex.CheckOutput(""), nil
	}

	res := ValidationResult{Passed: true}
	for i, c := range ex.Cases {
		actual, err := run(ctx, source, c.Input)
		if err != nil {
			return ValidationResult{}, fmt.Errorf("case %d: %w", i, err)
		}
		cr := CaseResult{
			Index:    i,
			Input:    c.Input,
			Expected: c.ExpectedOutput,
			Actual:   actual,
			Passed:   Matches(c.ExpectedOutput, actual),
		}
		if !cr.Passed {
			res.Passed = false
		}
		res.Cases = append(res.Cases, cr)
	}
	return res, nil
}
