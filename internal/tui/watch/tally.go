package watch

import (
	"fmt"

	"github.com/mattjoyce/dgw/internal/events"
)

// Tally counts traffic seen since the watch started.
type Tally struct {
	Accepted  int
	Rejected  int
	Sent      int
	Buffered  int
	Recovered int
	Failed    int
	Drops     int
}

func (t *Tally) Observe(e events.Event) {
	switch e.Type {
	case events.WebhookAccepted:
		t.Accepted++
	case events.WebhookRejected:
		t.Rejected++
	case events.DeliverySent:
		t.Sent++
	case events.DeliveryBuffered:
		t.Buffered++
	case events.DeliveryRecovered:
		t.Recovered += intField(e, "count")
	case events.DeliveryFailed:
		t.Failed++
	case events.ChatDisconnect:
		t.Drops++
	}
}

func (t Tally) Render(theme Theme) string {
	failed := fmt.Sprintf("%d", t.Failed)
	if t.Failed > 0 {
		failed = theme.StatusFailed.Render(failed)
	}
	return fmt.Sprintf(" In: %d ok / %d rejected  Out: %d sent, %d buffered, %d recovered, %s failed  Drops: %d",
		t.Accepted, t.Rejected, t.Sent, t.Buffered, t.Recovered, failed, t.Drops)
}
