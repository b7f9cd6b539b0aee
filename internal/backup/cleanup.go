package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"ovirt-backup/internal/ovirt"
)

const cleanupTimeout = 10 * time.Minute

// cleanup undoes what a run created on the engine: every attachment on the
// agent VM is removed before the snapshot is deleted.
type cleanup struct {
	engine      Engine
	logger      logrus.FieldLogger
	interval    time.Duration
	vmID        string
	agentID     string
	snapshotID  string
	attachments []ovirt.DiskAttachment
}

func (c *cleanup) attached(a ovirt.DiskAttachment) {
	c.attachments = append(c.attachments, a)
}

func (c *cleanup) detachAll(ctx context.Context) error {
	var result *multierror.Error
	var remaining []ovirt.DiskAttachment
	for _, a := range c.attachments {
		err := c.engine.DetachDisk(ctx, c.agentID, a.ID)
		if err != nil && !errors.Is(err, ovirt.ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("detach disk %s: %w", a.DiskID, err))
			remaining = append(remaining, a)
			continue
		}
		c.logger.Infof("Detached disk '%s' from the agent virtual machine.", a.DiskID)
	}
	c.attachments = remaining
	return result.ErrorOrNil()
}

// run releases everything still held. It runs on a context detached from
// the caller's cancellation so an interrupted run still cleans up.
func (c *cleanup) run(parent context.Context) error {
	if c.snapshotID == "" && len(c.attachments) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), cleanupTimeout)
	defer cancel()

	if err := c.detachAll(ctx); err != nil {
		// Deleting a snapshot with disks still attached fails on the engine.
		return err
	}
	if c.snapshotID == "" {
		return nil
	}
	if err := c.engine.DeleteSnapshot(ctx, c.vmID, c.snapshotID); err != nil {
		return err
	}
	if err := AwaitSnapshotGone(ctx, c.engine, c.vmID, c.snapshotID, c.interval); err != nil {
		return err
	}
	c.logger.Infof("Removed the snapshot '%s'.", c.snapshotID)
	c.snapshotID = ""
	return nil
}
