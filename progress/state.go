package progress

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fixed keys for the typed records. New record types get their own
// key rather than widening an existing blob.
const (
	keyLessons  = "lessons"
	keyAppState = "appState"
)

// LessonRecord is what the store remembers about one lesson.
type LessonRecord struct {
	Completed  bool      `json:"completed"`
	BestOutput string    `json:"bestOutput,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AppState is the editor's last-known configuration.
type AppState struct {
	EditorSource string `json:"editorSource"`
	Speed        int    `json:"speed"`
	LastLessonID string `json:"lastLessonId"`
}

// DefaultAppState is what a fresh installation starts from.
func DefaultAppState() AppState {
	return AppState{Speed: 6}
}

// Lessons returns the per-lesson progress map, empty when nothing has
// been recorded yet.
func (s *Store) Lessons() (map[string]LessonRecord, error) {
	raw, ok, err := s.Get(keyLessons)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]LessonRecord{}, nil
	}
	var m map[string]LessonRecord
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("progress: decoding lesson records: %w", err)
	}
	return m, nil
}

// RecordLesson upserts one lesson's record, stamping UpdatedAt.
func (s *Store) RecordLesson(lessonID string, rec LessonRecord) error {
	m, err := s.Lessons()
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	m[lessonID] = rec

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("progress: encoding lesson records: %w", err)
	}
	return s.Set(keyLessons, string(data))
}

// LoadAppState returns the saved app state, or the defaults when none
// was saved or the blob does not decode.
func (s *Store) LoadAppState() AppState {
	raw, ok, err := s.Get(keyAppState)
	if err != nil || !ok {
		return DefaultAppState()
	}
	st := DefaultAppState()
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return DefaultAppState()
	}
	return st
}

// SaveAppState persists the app state.
func (s *Store) SaveAppState(st AppState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("progress: encoding app state: %w", err)
	}
	return s.Set(keyAppState, string(data))
}
