// Package samples holds canned GitLab payloads used by the embed command to
// preview each notification type without a real repository event.
package samples

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
)

//go:embed data/*.json
var bundled embed.FS

// ErrUnknown is returned for a key that is not in the table.
var ErrUnknown = errors.New("unknown sample")

type entry struct {
	eventType string
	file      string
}

var table = map[string]entry{
	"build":          {"Build Hook", "build.json"},
	"issue":          {"Issue Hook", "issue.json"},
	"merge":          {"Merge Request Hook", "merge.json"},
	"merge_request":  {"Merge Request Hook", "merge.json"},
	"commit_comment": {"Note Hook", "note-commit.json"},
	"issue_comment":  {"Note Hook", "note-issue.json"},
	"merge_comment":  {"Note Hook", "note-merge.json"},
	"snippet":        {"Note Hook", "note-snippet.json"},
	"pipeline":       {"Pipeline Hook", "pipeline.json"},
	"push":           {"Push Hook", "push.json"},
	"tag":            {"Tag Push Hook", "tag.json"},
	"wiki":           {"Wiki Hook", "wiki.json"},
	"unrelated":      {"Unrelated", "unrelated.json"},
	"fake_error":     {"Fake Error", "unrelated.json"},
}

// Sample is one loaded payload.
type Sample struct {
	Key       string
	EventType string
	Payload   []byte
}

// Registry resolves sample keys to payloads.
type Registry struct {
	fsys fs.FS
}

// New reads samples from dir, or from the bundled copies when dir is empty.
func New(dir string) *Registry {
	if dir == "" {
		sub, _ := fs.Sub(bundled, "data")
		return &Registry{fsys: sub}
	}
	return &Registry{fsys: os.DirFS(dir)}
}

// NewFS is used by tests to supply their own files.
func NewFS(fsys fs.FS) *Registry {
	return &Registry{fsys: fsys}
}

// Keys returns every known key in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key names a sample.
func (r *Registry) Has(key string) bool {
	_, ok := table[key]
	return ok
}

// Load reads the payload for key.
func (r *Registry) Load(key string) (Sample, error) {
	e, ok := table[key]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %q", ErrUnknown, key)
	}
	b, err := fs.ReadFile(r.fsys, path.Clean(e.file))
	if err != nil {
		return Sample{}, fmt.Errorf("read sample %s: %w", key, err)
	}
	return Sample{Key: key, EventType: e.eventType, Payload: b}, nil
}
