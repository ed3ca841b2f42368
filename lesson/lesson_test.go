package lesson_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapinhq/terrapin/lesson"
)

const sampleLesson = `{
	"id": "turtle-basics",
	"title": "Drawing with the Turtle",
	"category": "graphics",
	"difficulty": "beginner",
	"content": {
		"introduction": "Meet the turtle.",
		"concepts": [{"name": "forward", "description": "moves the turtle"}],
		"examples": [{"title": "A line", "code": "forward(50)"}],
		"exercises": [{
			"id": "square",
			"prompt": "Draw a square.",
			"starterCode": "forward(50)",
			"expectedOutput": "done"
		}],
		"summary": "You drew things.",
		"nextSteps": ["turtle-loops"]
	},
	"uiTheme": "dark"
}`

func writeLesson(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoaderGet(t *testing.T) {
	dir := t.TempDir()
	writeLesson(t, dir, "turtle-basics.json", sampleLesson)
	l := lesson.NewLoader(dir)

	t.Run("existing lesson", func(t *testing.T) {
		ls, err := l.Get("turtle-basics")
		require.NoError(t, err)
		assert.Equal(t, "Drawing with the Turtle", ls.Title)
		assert.Len(t, ls.Content.Exercises, 1)
		assert.Equal(t, "square", ls.Content.Exercises[0].ID)
		assert.Equal(t, []string{"turtle-loops"}, ls.Content.NextSteps)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := l.Get("no-such-lesson")
		assert.ErrorIs(t, err, lesson.ErrNotFound)
	})

	t.Run("path traversal is not found", func(t *testing.T) {
		_, err := l.Get("../secrets")
		assert.ErrorIs(t, err, lesson.ErrNotFound)
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		writeLesson(t, dir, "broken.json", `{"id": "broken",`)
		_, err := l.Get("broken")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, lesson.ErrNotFound)
	})

	t.Run("missing id rejected", func(t *testing.T) {
		writeLesson(t, dir, "anon.json", `{"title": "No identity"}`)
		_, err := l.Get("anon")
		assert.ErrorContains(t, err, "missing id")
	})
}

func TestLoaderList(t *testing.T) {
	dir := t.TempDir()
	writeLesson(t, dir, "b-second.json", `{"id": "b-second", "title": "B"}`)
	writeLesson(t, dir, "a-first.json", `{"id": "a-first", "title": "A"}`)
	writeLesson(t, dir, "broken.json", `not json`)
	writeLesson(t, dir, "notes.txt", `ignored`)

	got, err := lesson.NewLoader(dir).List()
	require.NoError(t, err)
	require.Len(t, got, 2, "broken and non-json files are skipped")
	assert.Equal(t, "a-first", got[0].ID)
	assert.Equal(t, "b-second", got[1].ID)
}

func TestLoaderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lessons/turtle-basics.json":
			fmt.Fprint(w, sampleLesson)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := lesson.NewLoader(t.TempDir(), lesson.WithHTTPClient(srv.Client()))

	ls, err := l.Fetch(context.Background(), srv.URL+"/lessons/turtle-basics.json")
	require.NoError(t, err)
	assert.Equal(t, "turtle-basics", ls.ID)

	_, err = l.Fetch(context.Background(), srv.URL+"/lessons/missing.json")
	assert.ErrorIs(t, err, lesson.ErrNotFound)
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"trailing spaces per line", "a  \nb\t\n", "a\nb"},
		{"trailing newlines", "hello\n\n\n", "hello"},
		{"windows endings", "a\r\nb\r\n", "a\nb"},
		{"interior whitespace kept", "a  b\n", "a  b"},
		{"empty", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, lesson.Normalize(c.in))
		})
	}
}

func TestCheckOutput(t *testing.T) {
	ex := &lesson.Exercise{ID: "greet", ExpectedOutput: "Hello, World!\n"}

	t.Run("exact match", func(t *testing.T) {
		assert.True(t, ex.CheckOutput("Hello, World!\n").Passed)
	})
	t.Run("case and trailing whitespace ignored", func(t *testing.T) {
		assert.True(t, ex.CheckOutput("hello, world!   \n\n").Passed)
	})
	t.Run("wrong output fails with detail", func(t *testing.T) {
		res := ex.CheckOutput("Goodbye\n")
		assert.False(t, res.Passed)
		assert.Equal(t, "Hello, World!\n", res.Expected)
		assert.Equal(t, "Goodbye\n", res.Actual)
	})
	t.Run("free-form exercise always passes", func(t *testing.T) {
		free := &lesson.Exercise{ID: "sandbox"}
		assert.True(t, free.CheckOutput("anything at all").Passed)
	})
}

func TestRunCases(t *testing.T) {
	ex := &lesson.Exercise{
		ID: "double",
		Cases: []lesson.Case{
			{Input: "2", ExpectedOutput: "4"},
			{Input: "10", ExpectedOutput: "20"},
		},
	}

	t.Run("all cases pass", func(t *testing.T) {
		run := func(ctx context.Context, source, input string) (string, error) {
			if input == "2" {
				return "4\n", nil
			}
			return "20\n", nil
		}
		res, err := ex.RunCases(context.Background(), "print(n*2)", run)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		require.Len(t, res.Cases, 2)
		assert.True(t, res.Cases[0].Passed)
	})

	t.Run("one failing case fails the exercise", func(t *testing.T) {
		run := func(ctx context.Context, source, input string) (string, error) {
			return "4\n", nil
		}
		res, err := ex.RunCases(context.Background(), "print(4)", run)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.True(t, res.Cases[0].Passed)
		assert.False(t, res.Cases[1].Passed)
		assert.Equal(t, "20", res.Cases[1].Expected)
	})

	t.Run("runner error aborts", func(t *testing.T) {
		boom := errors.New("interpreter crashed")
		run := func(ctx context.Context, source, input string) (string, error) {
			return "", boom
		}
		_, err := ex.RunCases(context.Background(), "x", run)
		assert.ErrorIs(t, err, boom)
	})
}
