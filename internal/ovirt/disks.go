package ovirt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/sjson"
)

// DiskSpec describes a disk to create.
type DiskSpec struct {
	ID              string
	ImageID         string
	Alias           string
	Description     string
	Format          string
	ProvisionedSize int64
	Bootable        bool
	StorageDomain   string
}

// AddDisk creates a floating disk on the named storage domain.
func (c *Client) AddDisk(ctx context.Context, spec DiskSpec) (*Disk, error) {
	body := `{}`
	if spec.ID != "" {
		body, _ = sjson.Set(body, "id", spec.ID)
	}
	if spec.ImageID != "" {
		body, _ = sjson.Set(body, "image_id", spec.ImageID)
	}
	body, _ = sjson.Set(body, "name", spec.Alias)
	body, _ = sjson.Set(body, "alias", spec.Alias)
	body, _ = sjson.Set(body, "description", spec.Description)
	body, _ = sjson.Set(body, "format", spec.Format)
	body, _ = sjson.Set(body, "provisioned_size", spec.ProvisionedSize)
	body, _ = sjson.Set(body, "bootable", spec.Bootable)
	body, _ = sjson.Set(body, "storage_domains.storage_domain.0.name", spec.StorageDomain)

	res, err := c.do(ctx, http.MethodPost, "/disks", nil, body)
	if err != nil {
		return nil, fmt.Errorf("failed to add disk %s: %w", spec.Alias, err)
	}
	disk := diskFromJSON(res)
	return &disk, nil
}

// GetDisk returns the current state of a disk.
func (c *Client) GetDisk(ctx context.Context, id string) (*Disk, error) {
	res, err := c.do(ctx, http.MethodGet, "/disks/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	disk := diskFromJSON(res)
	return &disk, nil
}
