package ovirt

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrNotFound = errors.New("not found")
	ErrAuth     = errors.New("authentication failed")
)

// Status values reported by the engine for snapshots and disks.
const (
	StatusOK     = "ok"
	StatusLocked = "locked"
)

// Disk formats accepted by the engine.
const (
	FormatCOW = "cow"
	FormatRaw = "raw"
)

const InterfaceVirtio = "virtio"

type VM struct {
	ID     string
	Name   string
	Status string
}

type Snapshot struct {
	ID          string
	Description string
	Status      string
}

type Disk struct {
	ID              string
	ImageID         string
	Alias           string
	Description     string
	Format          string
	ProvisionedSize int64
	Bootable        bool
	Status          string
}

type DiskAttachment struct {
	ID        string
	DiskID    string
	Interface string
	Bootable  bool
	Active    bool
}

// APIError is a fault returned by the engine.
type APIError struct {
	Code   int
	Reason string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("engine returned %d: %s: %s", e.Code, e.Reason, e.Detail)
	}
	return fmt.Sprintf("engine returned %d: %s", e.Code, e.Reason)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case 404:
		return ErrNotFound
	case 401:
		return ErrAuth
	}
	return nil
}

func vmFromJSON(r gjson.Result) VM {
	return VM{
		ID:     r.Get("id").String(),
		Name:   r.Get("name").String(),
		Status: r.Get("status").String(),
	}
}

func snapshotFromJSON(r gjson.Result) Snapshot {
	return Snapshot{
		ID:          r.Get("id").String(),
		Description: r.Get("description").String(),
		Status:      r.Get("snapshot_status").String(),
	}
}

func diskFromJSON(r gjson.Result) Disk {
	alias := r.Get("alias").String()
	if alias == "" {
		alias = r.Get("name").String()
	}
	return Disk{
		ID:              r.Get("id").String(),
		ImageID:         r.Get("image_id").String(),
		Alias:           alias,
		Description:     r.Get("description").String(),
		Format:          r.Get("format").String(),
		ProvisionedSize: r.Get("provisioned_size").Int(),
		Bootable:        r.Get("bootable").Bool(),
		Status:          r.Get("status").String(),
	}
}

func attachmentFromJSON(r gjson.Result) DiskAttachment {
	return DiskAttachment{
		ID:        r.Get("id").String(),
		DiskID:    r.Get("disk.id").String(),
		Interface: r.Get("interface").String(),
		Bootable:  r.Get("bootable").Bool(),
		Active:    r.Get("active").Bool(),
	}
}
