package ovirt

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/sjson"
)

// Event is an audit-log entry. CustomID must be unique per origin.
type Event struct {
	CustomID    int64
	Description string
	Origin      string
	Severity    string
	VMID        string
}

// AddEvent posts an event to the engine audit log.
func (c *Client) AddEvent(ctx context.Context, ev Event) error {
	severity := ev.Severity
	if severity == "" {
		severity = "normal"
	}
	body := `{}`
	body, _ = sjson.Set(body, "custom_id", ev.CustomID)
	body, _ = sjson.Set(body, "description", ev.Description)
	body, _ = sjson.Set(body, "origin", ev.Origin)
	body, _ = sjson.Set(body, "severity", severity)
	if ev.VMID != "" {
		body, _ = sjson.Set(body, "vm.id", ev.VMID)
	}
	if _, err := c.do(ctx, http.MethodPost, "/events", nil, body); err != nil {
		return fmt.Errorf("failed to add event %d: %w", ev.CustomID, err)
	}
	return nil
}
