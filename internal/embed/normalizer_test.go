package embed

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dgw/internal/log"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type observed struct {
	mu      sync.Mutex
	reasons []string
}

func (o *observed) observer() Observer {
	return func(eventType, reason string, raw []byte) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.reasons = append(o.reasons, eventType+": "+reason)
	}
}

func newTestNormalizer(t *testing.T, obs *observed) *Normalizer {
	t.Helper()
	opts := Options{
		BaseURL:    "https://gitlab.example.com",
		FooterText: "dgw",
		Logger:     log.Discard(),
		Now:        func() time.Time { return fixedNow },
	}
	if obs != nil {
		opts.Observer = obs.observer()
	}
	return New(opts)
}

func TestNormalizePushSingleCommit(t *testing.T) {
	n := newTestNormalizer(t, nil)
	body := `{"commits":[{"message":"fix bug","modified":[],"added":["a"],"removed":[]}],
		"total_commits_count":1,
		"project":{"path_with_namespace":"x/y","web_url":"http://x"},
		"user_name":"alice","user_avatar":"http://a"}`

	rec := n.Normalize(EventPush, []byte(body))

	assert.Equal(t, "[x/y] 1 new commit", rec.Title)
	assert.Contains(t, rec.Description, "fix bug")
	assert.Contains(t, rec.Description, "0 changes\n1 additions\n0 deletions")
	assert.Equal(t, DefaultPalette().Commit, rec.Color)
	assert.Equal(t, "alice", rec.Username)
	assert.Equal(t, "http://a", rec.AvatarURL)
	assert.Equal(t, "http://x", rec.Permalink)
	assert.Equal(t, fixedNow, rec.Timestamp)
	assert.Equal(t, "dgw", rec.Footer.Text)
}

func TestNormalizePushMultipleCommits(t *testing.T) {
	n := New(Options{Logger: log.Discard(), Limits: Limits{Description: 2048}})
	var commits []string
	for i := 0; i < 7; i++ {
		commits = append(commits, `{"id":"abcdef0123456789","url":"http://c","message":"a rather long commit message that keeps going\nbody","author":{"name":"bob"},"added":[],"modified":["m"],"removed":[]}`)
	}
	body := `{"user_name":"alice","project":{"path_with_namespace":"x/y"},"total_commits_count":7,"commits":[` + strings.Join(commits, ",") + `]}`

	rec := n.Normalize(EventPush, []byte(body))

	assert.Equal(t, "[x/y] 7 new commits", rec.Title)
	lines := strings.Split(rec.Description, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, `[abcdef01](http://c "1 changes; 0 additions; 0 deletions") a rather long commit message ... - bob`, lines[0])
}

func TestNormalizePushWithoutCommits(t *testing.T) {
	obs := &observed{}
	n := newTestNormalizer(t, obs)
	body := `{"ref":"refs/heads/gone","before":"1234567890","after":"` + zeroSHA + `","user_name":"alice","project":{"path_with_namespace":"x/y"},"commits":[],"total_commits_count":0}`

	rec := n.Normalize(EventPush, []byte(body))

	assert.Equal(t, "[x/y] 0 new commits", rec.Title)
	assert.Equal(t, "Deleted refs/heads/gone", rec.Description)
	assert.Equal(t, []string{"Push Hook: push without commits"}, obs.reasons)
}

func TestNormalizeTagPush(t *testing.T) {
	n := newTestNormalizer(t, nil)
	rec := n.Normalize(EventTagPush, readSample(t, "tag.json"))

	assert.Equal(t, "[jsmith/example] Tag v1.0.0 pushed", rec.Title)
	assert.Equal(t, DefaultPalette().Release, rec.Color)
	require.Len(t, rec.Fields, 2)
	assert.Equal(t, "Previous Commit", rec.Fields[0].Name)
	assert.Equal(t, "none", rec.Fields[0].Value)
	assert.Equal(t, "Current Commit", rec.Fields[1].Name)
	assert.Equal(t, "[82b3d5ae](http://example.com/jsmith/example/commit/82b3d5ae55f7080f1e6022629cdb57bfae7cccc7)", rec.Fields[1].Value)
	// Root-relative avatar resolved against the base URL.
	assert.Equal(t, "https://gitlab.example.com/uploads/-/system/user/avatar/1/avatar.png", rec.AvatarURL)
}

func TestNormalizeIssueActions(t *testing.T) {
	n := newTestNormalizer(t, nil)
	p := DefaultPalette()

	tests := []struct {
		action    string
		wantColor int
		wantTitle string
	}{
		{"open", p.IssueOpened, "[g/t] Issue Opened: #5 Broken"},
		{"close", p.IssueClosed, "[g/t] Issue Closed: #5 Broken"},
		{"reopen", p.IssueComment, "[g/t] Issue Reopened: #5 Broken"},
		{"update", p.IssueComment, "[g/t] Issue Updated: #5 Broken"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			body := `{"user":{"username":"root"},"project":{"path_with_namespace":"g/t"},
				"object_attributes":{"iid":5,"title":"Broken","action":"` + tt.action + `","url":"http://i/5"}}`
			rec := n.Normalize(EventIssue, []byte(body))
			assert.Equal(t, tt.wantColor, rec.Color)
			assert.Equal(t, tt.wantTitle, rec.Title)
			assert.Empty(t, rec.Fields, "no assignee or label fields when lists are empty")
		})
	}
}

func TestActionVerb(t *testing.T) {
	tests := map[string]string{
		"merge":   "Merged",
		"":        "Event",
		"relabel": "Relabel",
		"x":       "X",
		"ébauche": "Ébauche",
		"\xff":    "\ufffd",
	}
	for in, want := range tests {
		assert.Equal(t, want, actionVerb(in), "action %q", in)
	}
}

func TestNormalizeIssueSample(t *testing.T) {
	n := newTestNormalizer(t, nil)
	rec := n.Normalize(EventIssue, readSample(t, "issue.json"))

	assert.Equal(t, "[gitlabhq/gitlab-test] Issue Opened: #23 New API: create/update/delete file", rec.Title)
	assert.Equal(t, "root", rec.Username)
	assert.Equal(t, []Field{
		{Name: "Assigned To", Value: "user1"},
		{Name: "Labeled As", Value: "API"},
	}, rec.Fields)
}

func TestNormalizeNoteVariants(t *testing.T) {
	n := newTestNormalizer(t, nil)

	tests := []struct {
		sample     string
		wantTitle  string
		wantFields []string
	}{
		{"note-commit.json", "[gitlabhq/gitlab-test] New Comment on Commit cfe32cf6", []string{"Comment", "Commit Message", "Commit Author", "Commit Timestamp"}},
		{"note-merge.json", "[gitlab-org/gitlab-test] New Comment on Merge Request #1", []string{"Comment", "Merge Request", "Source --> Target", "Assigned To"}},
		{"note-issue.json", "[gitlab-org/gitlab-test] New Comment on Issue #17 test", []string{"Comment"}},
		{"note-snippet.json", "[gitlab-org/gitlab-test] New Comment on Code Snippet", []string{"Comment", "Snippet"}},
	}
	for _, tt := range tests {
		t.Run(tt.sample, func(t *testing.T) {
			rec := n.Normalize(EventNote, readSample(t, tt.sample))
			assert.Equal(t, tt.wantTitle, rec.Title)
			assert.Equal(t, "New comment by root", rec.Description)
			assert.Equal(t, tt.wantFields, fieldNames(rec))
		})
	}
}

func TestNormalizeNoteUnknownNoteable(t *testing.T) {
	n := newTestNormalizer(t, nil)
	body := `{"user":{"username":"root"},"project":{"path_with_namespace":"a/b"},
		"object_attributes":{"note":"hi","noteable_type":"Epic"}}`

	rec := n.Normalize(EventNote, []byte(body))
	assert.Equal(t, "[a/b] New Comment", rec.Title)
	assert.Equal(t, []Field{{Name: "Comment", Value: "hi"}}, rec.Fields)
}

func TestNormalizeNoteMissingSubObject(t *testing.T) {
	n := newTestNormalizer(t, nil)
	body := `{"user":{"username":"root"},"project":{"path_with_namespace":"a/b"},
		"object_attributes":{"note":"hi","noteable_type":"commit"}}`

	rec := n.Normalize(EventNote, []byte(body))
	assert.Equal(t, "[a/b] New Comment on Commit", rec.Title)
	assert.Equal(t, DefaultPalette().Commit, rec.Color)
}

func TestNormalizeMergeRequest(t *testing.T) {
	n := newTestNormalizer(t, nil)
	rec := n.Normalize(EventMergeRequest, readSample(t, "merge.json"))

	assert.Equal(t, "[awesome_space/awesome_project] Merge Request Opened: #1 MS-Viewport", rec.Title)
	assert.Equal(t, DefaultPalette().MergeRequestOpened, rec.Color)
	require.Len(t, rec.Fields, 4)
	assert.Equal(t, Field{Name: "Merge From", Value: "[awesome_space/awesome_project: ms-viewport](http://example.com/awesome_space/awesome_project)", Inline: true}, rec.Fields[0])
	assert.Equal(t, "Merge Into", rec.Fields[1].Name)
	assert.Equal(t, Field{Name: "Assigned To", Value: "user1"}, rec.Fields[2])
	assert.Equal(t, Field{Name: "Labeled As", Value: "API"}, rec.Fields[3])
}

func TestNormalizeWiki(t *testing.T) {
	n := newTestNormalizer(t, nil)
	for _, eventType := range []string{EventWikiPage, EventWiki} {
		rec := n.Normalize(eventType, readSample(t, "wiki.json"))
		assert.Equal(t, "[root/awesome-project] Wiki Action: create", rec.Title)
		assert.Equal(t, "adding an awesome page to the wiki", rec.Description)
		assert.Equal(t, []string{"Title", "Content"}, fieldNames(rec))
	}
}

func TestNormalizePlaceholders(t *testing.T) {
	n := newTestNormalizer(t, nil)
	for _, eventType := range []string{EventPipeline, EventBuild, EventJob, EventConfidentialIssue, EventConfidentialNote} {
		t.Run(eventType, func(t *testing.T) {
			rec := n.Normalize(eventType, readSample(t, "pipeline.json"))
			assert.Equal(t, "**"+eventType+"** This feature is not yet implemented", rec.Description)
			assert.Equal(t, DefaultPalette().Default, rec.Color)
		})
	}

	// Placeholders render even for bodies that are not objects.
	rec := n.Normalize(EventBuild, []byte(`[1,2]`))
	assert.Equal(t, EventBuild, rec.Title)
}

func TestNormalizeUnknownType(t *testing.T) {
	n := newTestNormalizer(t, nil)

	rec := n.Normalize("Deployment Hook", []byte(`{ "a" : 1 }`))
	assert.Equal(t, "Type: Deployment Hook", rec.Title)
	assert.Equal(t, "This feature is not yet implemented", rec.Description)
	assert.Equal(t, []Field{{Name: "Raw Payload", Value: `{"a":1}`}}, rec.Fields)

	rec = n.Normalize("", []byte(`{}`))
	assert.Equal(t, "Type: (none)", rec.Title)
}

func TestNormalizeFailuresBecomeErrorRecords(t *testing.T) {
	n := newTestNormalizer(t, nil)
	errColor := DefaultPalette().Error

	tests := []struct {
		name      string
		eventType string
		body      string
		wantDesc  string
	}{
		{"missing object_attributes", EventIssue, `{"user":{"username":"x"}}`, "issue payload has no object_attributes"},
		{"wrong field type", EventPush, `{"commits":"nope"}`, "decode payload"},
		{"fake error", EventFakeError, `{"fake":{"error":"kaboom"}}`, "kaboom"},
		{"fake error without field", EventFakeError, `{}`, "payload has no fake.error field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := n.Normalize(tt.eventType, []byte(tt.body))
			assert.Equal(t, errColor, rec.Color)
			assert.Equal(t, "Error Reading HTTP Request Data: "+tt.eventType, rec.Title)
			assert.Contains(t, rec.Description, tt.wantDesc)
			require.NotEmpty(t, rec.Fields)
			assert.Equal(t, "Raw Body", rec.Fields[0].Name)
		})
	}
}

func TestNormalizeRecoversFromPanic(t *testing.T) {
	n := newTestNormalizer(t, nil)
	handlers["Panic Hook"] = func(*Normalizer, string, Record, []byte) (Record, error) {
		panic("nil map write")
	}
	t.Cleanup(func() { delete(handlers, "Panic Hook") })

	rec := n.Normalize("Panic Hook", []byte(`{}`))
	assert.Equal(t, DefaultPalette().Error, rec.Color)
	assert.Equal(t, "nil map write", rec.Description)
}

func TestNormalizeUserFallback(t *testing.T) {
	n := newTestNormalizer(t, nil)

	nested := `{"user":{"username":"nested","avatar_url":"/a.png"},"user_name":"flat","project":{"path_with_namespace":"a/b"},"object_attributes":{"action":"open"}}`
	rec := n.Normalize(EventIssue, []byte(nested))
	assert.Equal(t, "nested", rec.Username)
	assert.Equal(t, "https://gitlab.example.com/a.png", rec.AvatarURL)

	flat := `{"user_name":"flat","user_avatar":"http://cdn/a.png","project":{"path_with_namespace":"a/b"},"object_attributes":{"action":"open"}}`
	rec = n.Normalize(EventIssue, []byte(flat))
	assert.Equal(t, "flat", rec.Username)
	assert.Equal(t, "http://cdn/a.png", rec.AvatarURL)
}

func TestResolveURL(t *testing.T) {
	n := newTestNormalizer(t, nil)
	assert.Equal(t, "https://gitlab.example.com/u/1.png", n.resolveURL("/u/1.png"))
	assert.Equal(t, "http://other/u.png", n.resolveURL("http://other/u.png"))
	assert.Equal(t, "//cdn/u.png", n.resolveURL("//cdn/u.png"))
	assert.Equal(t, "", n.resolveURL(""))

	bare := New(Options{Logger: log.Discard()})
	assert.Equal(t, "/u/1.png", bare.resolveURL("/u/1.png"))
}

func TestNormalizeRespectsCaps(t *testing.T) {
	limits := Limits{Title: 20, Description: 16, FieldName: 8, FieldValue: 12, Username: 6, Footer: 10, MaxFields: 3}
	n := New(Options{Limits: limits, Logger: log.Discard(), FooterText: strings.Repeat("f", 50)})

	samples := map[string]string{
		EventPush:         "push.json",
		EventTagPush:      "tag.json",
		EventIssue:        "issue.json",
		EventMergeRequest: "merge.json",
		EventWikiPage:     "wiki.json",
		EventPipeline:     "pipeline.json",
		EventBuild:        "build.json",
		"Unrelated":       "unrelated.json",
		EventFakeError:    "unrelated.json",
	}
	notes := []string{"note-commit.json", "note-issue.json", "note-merge.json", "note-snippet.json"}

	check := func(rec Record) {
		assert.LessOrEqual(t, utf8.RuneCountInString(rec.Title), limits.Title)
		assert.LessOrEqual(t, utf8.RuneCountInString(rec.Description), limits.Description)
		assert.LessOrEqual(t, utf8.RuneCountInString(rec.Username), limits.Username)
		assert.LessOrEqual(t, utf8.RuneCountInString(rec.Footer.Text), limits.Footer)
		assert.LessOrEqual(t, len(rec.Fields), limits.MaxFields)
		for _, f := range rec.Fields {
			assert.LessOrEqual(t, utf8.RuneCountInString(f.Name), limits.FieldName)
			assert.LessOrEqual(t, utf8.RuneCountInString(f.Value), limits.FieldValue)
		}
	}

	for eventType, file := range samples {
		check(n.Normalize(eventType, readSample(t, file)))
	}
	for _, file := range notes {
		check(n.Normalize(EventNote, readSample(t, file)))
	}
	check(n.ErrorRecord("Push Hook", assert.AnError, []byte(strings.Repeat("x", 100))))
	check(n.StatusRecord(strings.Repeat("t", 100), strings.Repeat("d", 100)))
}

func TestStatusRecord(t *testing.T) {
	n := newTestNormalizer(t, nil)
	rec := n.StatusRecord("Recovered 3 requests", "")
	assert.Equal(t, DefaultPalette().Status, rec.Color)
	assert.Equal(t, "Recovered 3 requests", rec.Title)
	assert.Equal(t, fixedNow, rec.Timestamp)
}

func readSample(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "samples", "data", name))
	require.NoError(t, err)
	return b
}

func fieldNames(rec Record) []string {
	out := make([]string, 0, len(rec.Fields))
	for _, f := range rec.Fields {
		out = append(out, f.Name)
	}
	return out
}
