// Package lesson loads lesson content and validates exercise attempts
// against their expected output.
package lesson

import "errors"

// ErrNotFound indicates a lesson id with no backing file.
var ErrNotFound = errors.New("lesson not found")

// Lesson is one unit of course content as stored on disk or served
// over HTTP. Unknown JSON fields are ignored so content can carry
// presentation hints this engine does not care about.
type Lesson struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Difficulty string  `json:"difficulty"`
	Content    Content `json:"content"`
}

type Content struct {
	Introduction string     `json:"introduction"`
	Concepts     []Concept  `json:"concepts"`
	Examples     []Example  `json:"examples"`
	Exercises    []Exercise `json:"exercises"`
	Summary      string     `json:"summary"`
	NextSteps    []string   `json:"nextSteps"`
}

type Concept struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Example struct {
	Title       string `json:"title"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Exercise is a task the learner solves in the editor. Either
// ExpectedOutput (single run, no input) or Cases (input/output pairs)
// is set; both empty means the exercise is free-form and always
// passes.
type Exercise struct {
	ID             string   `json:"id"`
	Prompt         string   `json:"prompt"`
	StarterCode    string   `json:"starterCode"`
	ExpectedOutput string   `json:"expectedOutput"`
	Hints          []string `json:"hints"`
	Cases          []Case   `json:"cases"`
}

type Case struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// Summary is the listing view of a lesson, without its content body.
type Summary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

func (l *Lesson) summary() Summary {
	return Summary{ID: l.ID, Title: l.Title, Category: l.Category, Difficulty: l.Difficulty}
}
