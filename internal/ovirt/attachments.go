package ovirt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/sjson"
)

func attachmentPath(vmID, attachmentID string) string {
	p := "/vms/" + url.PathEscape(vmID) + "/diskattachments"
	if attachmentID != "" {
		p += "/" + url.PathEscape(attachmentID)
	}
	return p
}

// AttachDisk attaches a disk to vmID as a non-bootable virtio device. When
// snapshotID is set the disk is attached as it was in that snapshot.
func (c *Client) AttachDisk(ctx context.Context, vmID, diskID, snapshotID string) (*DiskAttachment, error) {
	body := `{}`
	body, _ = sjson.Set(body, "disk.id", diskID)
	if snapshotID != "" {
		body, _ = sjson.Set(body, "disk.snapshot.id", snapshotID)
	}
	body, _ = sjson.Set(body, "interface", InterfaceVirtio)
	body, _ = sjson.Set(body, "bootable", false)
	body, _ = sjson.Set(body, "active", true)

	res, err := c.do(ctx, http.MethodPost, attachmentPath(vmID, ""), nil, body)
	if err != nil {
		return nil, fmt.Errorf("failed to attach disk %s: %w", diskID, err)
	}
	att := attachmentFromJSON(res)
	if att.DiskID == "" {
		att.DiskID = diskID
	}
	return &att, nil
}

// DetachDisk removes an attachment from vmID. The disk itself is kept.
func (c *Client) DetachDisk(ctx context.Context, vmID, attachmentID string) error {
	if _, err := c.do(ctx, http.MethodDelete, attachmentPath(vmID, attachmentID), nil, ""); err != nil {
		return fmt.Errorf("failed to detach disk %s: %w", attachmentID, err)
	}
	return nil
}

// ListAttachments returns the disk attachments of vmID.
func (c *Client) ListAttachments(ctx context.Context, vmID string) ([]DiskAttachment, error) {
	res, err := c.do(ctx, http.MethodGet, attachmentPath(vmID, ""), nil, "")
	if err != nil {
		return nil, err
	}
	var atts []DiskAttachment
	for _, a := range res.Get("disk_attachment").Array() {
		atts = append(atts, attachmentFromJSON(a))
	}
	return atts, nil
}
