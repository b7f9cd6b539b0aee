package events

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ovirt-backup/internal/ovirt"
)

// Origin tags every event this tool emits.
const Origin = "cli-ovirt-backup"

// Poster posts events to the engine audit log.
type Poster interface {
	AddEvent(ctx context.Context, ev ovirt.Event) error
}

// Notifier emits audit-log events for one run. Event ids come from a counter
// seeded by the run id, so two runs started in the same second do not share
// ids.
type Notifier struct {
	poster  Poster
	webhook *Webhook
	runID   uuid.UUID
	next    atomic.Int64
	logger  logrus.FieldLogger
}

// NewNotifier returns a notifier for runID. webhook may be nil.
func NewNotifier(poster Poster, webhook *Webhook, runID uuid.UUID, logger logrus.FieldLogger) *Notifier {
	n := &Notifier{poster: poster, webhook: webhook, runID: runID, logger: logger}
	n.next.Store(Seed(runID))
	return n
}

// Seed derives the first event id of a run. It stays below 2^30 so the
// counter cannot overflow the engine's 32-bit custom id.
func Seed(runID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint32(runID[:4]) & 0x3fffffff)
}

// NextID reserves the next event id.
func (n *Notifier) NextID() int64 {
	return n.next.Add(1) - 1
}

// Send posts message to the audit log, attached to vm when it is not nil,
// and mirrors it to the webhook. Webhook failures are only logged.
func (n *Notifier) Send(ctx context.Context, message string, vm *ovirt.VM) (int64, error) {
	id := n.NextID()
	ev := ovirt.Event{
		CustomID:    id,
		Description: message,
		Origin:      Origin,
		Severity:    "normal",
	}
	if vm != nil {
		ev.VMID = vm.ID
	}
	if err := n.poster.AddEvent(ctx, ev); err != nil {
		return id, err
	}
	n.logger.WithField("event", id).Info(message)

	if n.webhook != nil {
		data := map[string]interface{}{"message": message}
		if vm != nil {
			data["vm_id"] = vm.ID
			data["vm_name"] = vm.Name
		}
		err := n.webhook.Send(ctx, WebhookPayload{
			Object:    "event",
			RunID:     n.runID.String(),
			ID:        id,
			Type:      Origin,
			Data:      data,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			n.logger.WithError(err).Warn("failed to deliver webhook")
		}
	}
	return id, nil
}
