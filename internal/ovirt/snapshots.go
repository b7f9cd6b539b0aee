package ovirt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/sjson"
)

func snapshotPath(vmID, snapshotID string) string {
	p := "/vms/" + url.PathEscape(vmID) + "/snapshots"
	if snapshotID != "" {
		p += "/" + url.PathEscape(snapshotID)
	}
	return p
}

// CreateSnapshot takes a live snapshot of all disks of a VM, without memory.
func (c *Client) CreateSnapshot(ctx context.Context, vmID, description string) (*Snapshot, error) {
	body := `{}`
	body, _ = sjson.Set(body, "description", description)
	body, _ = sjson.Set(body, "persist_memorystate", false)

	res, err := c.do(ctx, http.MethodPost, snapshotPath(vmID, ""), nil, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	snap := snapshotFromJSON(res)
	return &snap, nil
}

// GetSnapshot returns the current state of a snapshot.
func (c *Client) GetSnapshot(ctx context.Context, vmID, snapshotID string) (*Snapshot, error) {
	res, err := c.do(ctx, http.MethodGet, snapshotPath(vmID, snapshotID), nil, "")
	if err != nil {
		return nil, err
	}
	snap := snapshotFromJSON(res)
	return &snap, nil
}

// SnapshotDisks lists the disks captured by a snapshot.
func (c *Client) SnapshotDisks(ctx context.Context, vmID, snapshotID string) ([]Disk, error) {
	res, err := c.do(ctx, http.MethodGet, snapshotPath(vmID, snapshotID)+"/disks", nil, "")
	if err != nil {
		return nil, err
	}
	var disks []Disk
	for _, d := range res.Get("disk").Array() {
		disks = append(disks, diskFromJSON(d))
	}
	return disks, nil
}

// DeleteSnapshot removes a snapshot, merging it back into the VM's disks.
func (c *Client) DeleteSnapshot(ctx context.Context, vmID, snapshotID string) error {
	if _, err := c.do(ctx, http.MethodDelete, snapshotPath(vmID, snapshotID), nil, ""); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", snapshotID, err)
	}
	return nil
}
