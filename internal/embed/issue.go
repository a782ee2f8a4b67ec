package embed

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

func (n *Normalizer) issue(eventType string, rec Record, raw []byte) (Record, error) {
	var p issuePayload
	if err := decode(raw, &p); err != nil {
		return rec, err
	}
	attrs := p.ObjectAttributes
	if attrs == nil {
		return rec, errors.New("issue payload has no object_attributes")
	}

	ns := p.Project.namespace()
	n.setActor(&rec, p.actor)
	rec.Permalink = attrs.URL
	rec.Description = attrs.Description

	switch attrs.Action {
	case "open":
		rec.Color = n.palette.IssueOpened
	case "close":
		rec.Color = n.palette.IssueClosed
	default:
		rec.Color = n.palette.IssueComment
		n.logger.Debug("unhandled issue action", "event_type", eventType, "action", attrs.Action)
	}
	rec.Title = fmt.Sprintf("[%s] Issue %s: #%d %s", ns, actionVerb(attrs.Action), attrs.IID, attrs.Title)

	assignees := usernames(p.Assignees)
	if len(assignees) == 0 && p.Assignee != nil {
		assignees = usernames([]userRef{*p.Assignee})
	}
	rec.Fields = appendListField(rec.Fields, "Assigned To", assignees)
	rec.Fields = appendListField(rec.Fields, "Labeled As", labelTitles(p.Labels))
	return rec, nil
}

// actionVerb turns a GitLab action ("open", "reopen", "merge") into a title verb.
func actionVerb(action string) string {
	switch action {
	case "open":
		return "Opened"
	case "close":
		return "Closed"
	case "reopen":
		return "Reopened"
	case "update":
		return "Updated"
	case "merge":
		return "Merged"
	case "approved":
		return "Approved"
	case "unapproved":
		return "Unapproved"
	case "":
		return "Event"
	default:
		r, size := utf8.DecodeRuneInString(action)
		return string(unicode.ToUpper(r)) + action[size:]
	}
}

func appendListField(fields []Field, name string, values []string) []Field {
	if len(values) == 0 {
		return fields
	}
	return append(fields, Field{Name: name, Value: strings.Join(values, ", ")})
}
