package embed

import "strings"

// GitLab event type names as sent in the X-Gitlab-Event header.
const (
	EventPush              = "Push Hook"
	EventTagPush           = "Tag Push Hook"
	EventIssue             = "Issue Hook"
	EventConfidentialIssue = "Confidential Issue Hook"
	EventNote              = "Note Hook"
	EventConfidentialNote  = "Confidential Note Hook"
	EventMergeRequest      = "Merge Request Hook"
	EventWikiPage          = "Wiki Page Hook"
	EventPipeline          = "Pipeline Hook"
	EventBuild             = "Build Hook"
	EventJob               = "Job Hook"

	// EventWiki is the older name still used by the bundled samples.
	EventWiki = "Wiki Hook"
	// EventFakeError forces the normalize failure path. Only samples send it.
	EventFakeError = "Fake Error"
)

const zeroSHA = "0000000000000000000000000000000000000000"

type userRef struct {
	Name      string `json:"name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// actor covers both payload shapes: a nested user object (issues, notes,
// merge requests, wiki) and flat user_* fields (push, tag push).
type actor struct {
	User         *userRef `json:"user"`
	UserName     string   `json:"user_name"`
	UserUsername string   `json:"user_username"`
	UserAvatar   string   `json:"user_avatar"`
}

func (a actor) identity() (name, avatar string) {
	if a.User != nil {
		name = firstNonEmpty(a.User.Username, a.User.Name)
		avatar = a.User.AvatarURL
	}
	if name == "" {
		name = firstNonEmpty(a.UserUsername, a.UserName)
	}
	if avatar == "" {
		avatar = a.UserAvatar
	}
	return name, avatar
}

type projectRef struct {
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

func (p *projectRef) namespace() string {
	if p == nil {
		return "unknown project"
	}
	return firstNonEmpty(p.PathWithNamespace, p.Name, "unknown project")
}

func (p *projectRef) url() string {
	if p == nil {
		return ""
	}
	return p.WebURL
}

type commitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type commit struct {
	ID        string       `json:"id"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp"`
	URL       string       `json:"url"`
	Author    commitAuthor `json:"author"`
	Added     []string     `json:"added"`
	Modified  []string     `json:"modified"`
	Removed   []string     `json:"removed"`
}

type label struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

type pushPayload struct {
	actor
	Ref               string      `json:"ref"`
	Before            string      `json:"before"`
	After             string      `json:"after"`
	Project           *projectRef `json:"project"`
	Commits           []commit    `json:"commits"`
	TotalCommitsCount *int        `json:"total_commits_count"`
}

type issueAttrs struct {
	IID         int    `json:"iid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
	State       string `json:"state"`
	URL         string `json:"url"`
}

type issuePayload struct {
	actor
	Project          *projectRef `json:"project"`
	ObjectAttributes *issueAttrs `json:"object_attributes"`
	Assignees        []userRef   `json:"assignees"`
	Assignee         *userRef    `json:"assignee"`
	Labels           []label     `json:"labels"`
}

type mergeAttrs struct {
	IID          int         `json:"iid"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Action       string      `json:"action"`
	State        string      `json:"state"`
	URL          string      `json:"url"`
	SourceBranch string      `json:"source_branch"`
	TargetBranch string      `json:"target_branch"`
	Source       *projectRef `json:"source"`
	Target       *projectRef `json:"target"`
	Assignee     *userRef    `json:"assignee"`
}

type mergePayload struct {
	actor
	Project          *projectRef `json:"project"`
	ObjectAttributes *mergeAttrs `json:"object_attributes"`
	Assignees        []userRef   `json:"assignees"`
	Labels           []label     `json:"labels"`
}

type noteAttrs struct {
	Note         string `json:"note"`
	NoteableType string `json:"noteable_type"`
	URL          string `json:"url"`
}

type snippet struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type notePayload struct {
	actor
	Project          *projectRef `json:"project"`
	ObjectAttributes *noteAttrs  `json:"object_attributes"`
	Commit           *commit     `json:"commit"`
	MergeRequest     *mergeAttrs `json:"merge_request"`
	Issue            *issueAttrs `json:"issue"`
	Snippet          *snippet    `json:"snippet"`
}

type wikiAttrs struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Message string `json:"message"`
	Action  string `json:"action"`
	URL     string `json:"url"`
}

type wikiPayload struct {
	actor
	Project          *projectRef `json:"project"`
	ObjectAttributes *wikiAttrs  `json:"object_attributes"`
}

type fakeErrorPayload struct {
	Fake *struct {
		Error string `json:"error"`
	} `json:"fake"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func usernames(users []userRef) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if name := firstNonEmpty(u.Username, u.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func labelTitles(labels []label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if t := firstNonEmpty(l.Title, l.Type); t != "" {
			out = append(out, t)
		}
	}
	return out
}
