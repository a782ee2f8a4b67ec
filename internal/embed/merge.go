package embed

import (
	"errors"
	"fmt"
)

func (n *Normalizer) mergeRequest(eventType string, rec Record, raw []byte) (Record, error) {
	var p mergePayload
	if err := decode(raw, &p); err != nil {
		return rec, err
	}
	attrs := p.ObjectAttributes
	if attrs == nil {
		return rec, errors.New("merge request payload has no object_attributes")
	}

	ns := p.Project.namespace()
	if attrs.Target != nil {
		ns = attrs.Target.namespace()
	}
	n.setActor(&rec, p.actor)
	rec.Permalink = attrs.URL
	rec.Description = attrs.Description

	switch attrs.Action {
	case "open":
		rec.Color = n.palette.MergeRequestOpened
	case "close", "merge":
		rec.Color = n.palette.MergeRequestClosed
	default:
		rec.Color = n.palette.MergeRequestComment
		n.logger.Debug("unhandled merge request action", "event_type", eventType, "action", attrs.Action)
	}
	rec.Title = fmt.Sprintf("[%s] Merge Request %s: #%d %s", ns, actionVerb(attrs.Action), attrs.IID, attrs.Title)

	rec.Fields = append(rec.Fields,
		Field{Name: "Merge From", Value: branchLink(attrs.Source, attrs.SourceBranch), Inline: true},
		Field{Name: "Merge Into", Value: branchLink(attrs.Target, attrs.TargetBranch), Inline: true},
	)

	assignees := usernames(p.Assignees)
	if len(assignees) == 0 && attrs.Assignee != nil {
		assignees = usernames([]userRef{*attrs.Assignee})
	}
	rec.Fields = appendListField(rec.Fields, "Assigned To", assignees)
	rec.Fields = appendListField(rec.Fields, "Labeled As", labelTitles(p.Labels))
	return rec, nil
}

func branchLink(p *projectRef, branch string) string {
	if branch == "" {
		branch = "unknown branch"
	}
	if p == nil {
		return branch
	}
	if p.WebURL == "" {
		return fmt.Sprintf("%s: %s", p.namespace(), branch)
	}
	return fmt.Sprintf("[%s: %s](%s)", p.namespace(), branch, p.WebURL)
}
