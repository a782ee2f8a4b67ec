package embed

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func (n *Normalizer) note(eventType string, rec Record, raw []byte) (Record, error) {
	var p notePayload
	if err := decode(raw, &p); err != nil {
		return rec, err
	}
	attrs := p.ObjectAttributes
	if attrs == nil {
		return rec, errors.New("note payload has no object_attributes")
	}

	ns := p.Project.namespace()
	n.setActor(&rec, p.actor)
	rec.Permalink = attrs.URL
	rec.Description = "New comment by " + firstNonEmpty(rec.Username, "someone")
	rec.Fields = append(rec.Fields, Field{Name: "Comment", Value: attrs.Note})

	switch strings.ToLower(attrs.NoteableType) {
	case "commit":
		rec.Color = n.palette.Commit
		if c := p.Commit; c != nil {
			rec.Title = fmt.Sprintf("[%s] New Comment on Commit %s", ns, shortSHA(c.ID))
			rec.Fields = append(rec.Fields,
				Field{Name: "Commit Message", Value: strings.TrimSpace(c.Message)},
				Field{Name: "Commit Author", Value: firstNonEmpty(c.Author.Name, c.Author.Email, "unknown"), Inline: true},
				Field{Name: "Commit Timestamp", Value: formatTimestamp(c.Timestamp), Inline: true},
			)
		} else {
			rec.Title = fmt.Sprintf("[%s] New Comment on Commit", ns)
		}

	case "merge_request", "mergerequest":
		rec.Color = n.palette.MergeRequestComment
		if mr := p.MergeRequest; mr != nil {
			rec.Title = fmt.Sprintf("[%s] New Comment on Merge Request #%d", ns, mr.IID)
			rec.Fields = append(rec.Fields,
				Field{Name: "Merge Request", Value: mr.Title},
				Field{Name: "Source --> Target", Value: fmt.Sprintf("Merge %s into %s",
					branchLink(mr.Source, mr.SourceBranch), branchLink(mr.Target, mr.TargetBranch))},
			)
			if mr.Assignee != nil {
				rec.Fields = appendListField(rec.Fields, "Assigned To", usernames([]userRef{*mr.Assignee}))
			}
		} else {
			rec.Title = fmt.Sprintf("[%s] New Comment on Merge Request", ns)
		}

	case "issue":
		rec.Color = n.palette.IssueComment
		if is := p.Issue; is != nil {
			rec.Title = fmt.Sprintf("[%s] New Comment on Issue #%d %s", ns, is.IID, is.Title)
		} else {
			rec.Title = fmt.Sprintf("[%s] New Comment on Issue", ns)
		}

	case "snippet":
		rec.Title = fmt.Sprintf("[%s] New Comment on Code Snippet", ns)
		if s := p.Snippet; s != nil {
			rec.Fields = append(rec.Fields, Field{
				Name:  "Snippet",
				Value: fmt.Sprintf("Title: %s\n```\n%s\n```", s.Title, s.Content),
			})
		}

	default:
		rec.Title = fmt.Sprintf("[%s] New Comment", ns)
		n.logger.Debug("unhandled noteable type", "event_type", eventType, "noteable_type", attrs.NoteableType)
	}
	return rec, nil
}

// formatTimestamp normalizes GitLab's RFC 3339 timestamps to UTC; anything
// else is shown as sent.
func formatTimestamp(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
