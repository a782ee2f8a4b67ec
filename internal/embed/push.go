package embed

import (
	"fmt"
	"strings"
)

const maxListedCommits = 5

func (n *Normalizer) push(eventType string, rec Record, raw []byte) (Record, error) {
	var p pushPayload
	if err := decode(raw, &p); err != nil {
		return rec, err
	}

	ns := p.Project.namespace()
	n.setActor(&rec, p.actor)
	rec.Color = n.palette.Commit
	rec.Permalink = p.Project.url()

	total := len(p.Commits)
	if p.TotalCommitsCount != nil {
		total = *p.TotalCommitsCount
	}
	if total == 1 {
		rec.Title = fmt.Sprintf("[%s] 1 new commit", ns)
	} else {
		rec.Title = fmt.Sprintf("[%s] %d new commits", ns, total)
	}

	if len(p.Commits) == 0 {
		n.observe(eventType, "push without commits", raw)
		rec.Description = refChange(p.Ref, p.Before, p.After)
		return rec, nil
	}
	rec.Description = n.commitSummary(p.Commits)
	return rec, nil
}

func (n *Normalizer) tagPush(eventType string, rec Record, raw []byte) (Record, error) {
	var p pushPayload
	if err := decode(raw, &p); err != nil {
		return rec, err
	}

	ns := p.Project.namespace()
	tag := strings.TrimPrefix(p.Ref, "refs/tags/")
	n.setActor(&rec, p.actor)
	rec.Color = n.palette.Release
	rec.Permalink = p.Project.url()

	if p.After == zeroSHA {
		rec.Title = fmt.Sprintf("[%s] Tag %s deleted", ns, tag)
	} else {
		rec.Title = fmt.Sprintf("[%s] Tag %s pushed", ns, tag)
	}

	if len(p.Commits) == 0 {
		rec.Description = refChange(p.Ref, p.Before, p.After)
	} else {
		rec.Description = n.commitSummary(p.Commits)
	}

	rec.Fields = append(rec.Fields,
		Field{Name: "Previous Commit", Value: commitLink(p.Project, p.Before), Inline: true},
		Field{Name: "Current Commit", Value: commitLink(p.Project, p.After), Inline: true},
	)
	return rec, nil
}

// commitSummary renders a single commit in full, or up to five commits as
// one linked line each.
func (n *Normalizer) commitSummary(commits []commit) string {
	if len(commits) == 1 {
		c := commits[0]
		return fmt.Sprintf("%s\n%d changes\n%d additions\n%d deletions",
			strings.TrimSpace(c.Message), len(c.Modified), len(c.Added), len(c.Removed))
	}

	var b strings.Builder
	for i, c := range commits {
		if i == maxListedCommits {
			break
		}
		changelog := fmt.Sprintf("%d changes; %d additions; %d deletions", len(c.Modified), len(c.Added), len(c.Removed))
		fmt.Fprintf(&b, "[%s](%s %q) %s - %s\n",
			shortSHA(c.ID), c.URL, changelog,
			Truncate(firstLine(c.Message), n.limits.CommitMessage),
			firstNonEmpty(c.Author.Name, c.Author.Email, "unknown"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func refChange(ref, before, after string) string {
	name := ref
	if name == "" {
		name = "unknown ref"
	}
	switch {
	case before == zeroSHA:
		return fmt.Sprintf("Created %s", name)
	case after == zeroSHA:
		return fmt.Sprintf("Deleted %s", name)
	default:
		return fmt.Sprintf("Updated %s with no new commits", name)
	}
}

func commitLink(p *projectRef, sha string) string {
	if sha == "" || sha == zeroSHA {
		return "none"
	}
	if base := p.url(); base != "" {
		return fmt.Sprintf("[%s](%s/commit/%s)", shortSHA(sha), strings.TrimRight(base, "/"), sha)
	}
	return shortSHA(sha)
}
