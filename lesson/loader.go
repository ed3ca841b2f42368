package lesson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const fetchLimit = 4 << 20 // largest lesson body accepted over HTTP

// Loader reads lessons from a local directory and, for remote course
// packs, over HTTP.
type Loader struct {
	dir    string
	client *http.Client
	log    *zap.Logger
}

type LoaderOption func(*Loader)

func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.client = c }
}

func WithLoaderLogger(log *zap.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// NewLoader serves lessons out of dir, one <id>.json file per lesson.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:    dir,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List returns summaries for every lesson in the directory, sorted by
// id. Files that fail to parse are skipped with a log line rather than
// failing the whole listing.
func (l *Loader) List() ([]Summary, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading lesson dir: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ls, err := l.loadFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			l.log.Warn("skipping unreadable lesson", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, ls.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get loads the lesson with the given id from the directory.
func (l *Loader) Get(id string) (*Lesson, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("lesson id %q: %w", id, ErrNotFound)
	}
	ls, err := l.loadFile(filepath.Join(l.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("lesson %q: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return ls, nil
}

// Fetch retrieves a lesson over HTTP.
func (l *Loader) Fetch(ctx context.Context, url string) (*Lesson, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building lesson request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching lesson: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("lesson at %s: %w", url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching lesson: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit))
	if err != nil {
		return nil, fmt.Errorf("reading lesson body: %w", err)
	}
	return parse(data, url)
}

func (l *Loader) loadFile(path string) (*Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data, path)
}

func parse(data []byte, src string) (*Lesson, error) {
	var ls Lesson
	if err := json.Unmarshal(data, &ls); err != nil {
		return nil, fmt.Errorf("parsing lesson %s: %w", src, err)
	}
	if ls.ID == "" {
		return nil, fmt.Errorf("parsing lesson %s: missing id", src)
	}
	return &ls, nil
}
