package embed

import (
	"errors"
	"fmt"
)

func (n *Normalizer) wiki(_ string, rec Record, raw []byte) (Record, error) {
	var p wikiPayload
	if err := decode(raw, &p); err != nil {
		return rec, err
	}
	attrs := p.ObjectAttributes
	if attrs == nil {
		return rec, errors.New("wiki payload has no object_attributes")
	}

	n.setActor(&rec, p.actor)
	rec.Permalink = attrs.URL
	rec.Description = attrs.Message
	rec.Title = fmt.Sprintf("[%s] Wiki Action: %s", p.Project.namespace(), firstNonEmpty(attrs.Action, "unknown"))
	rec.Fields = append(rec.Fields,
		Field{Name: "Title", Value: attrs.Title},
		Field{Name: "Content", Value: Truncate(attrs.Content, n.limits.Description)},
	)
	return rec, nil
}
