// Package devices maps disks attached to the agent VM to host block devices.
//
// The engine exposes the disk id to the guest as the device serial number
// (virtio-blk truncates it to 20 characters). Devices are correlated with
// disks through that serial, never by enumeration order.
package devices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"k8s.io/apimachinery/pkg/util/wait"
)

var (
	ErrCountMismatch = errors.New("discovered device count does not match attached disk count")
	ErrUnmapped      = errors.New("no block device carries the disk serial")
	ErrAmbiguous     = errors.New("block device serial matches more than one disk")
)

// virtio-blk serial length limit.
const serialLen = 20

var scsiSerialPrefix = regexp.MustCompile(`^0QEMU_QEMU_HARDDISK_`)

// DefaultPattern matches whole virtio and scsi disks, not partitions.
var DefaultPattern = regexp.MustCompile(`^(vd[a-z]+|sd[a-z]+)$`)

// Device is a block device visible on the host.
type Device struct {
	Name   string
	Path   string
	Serial string
}

// Lister enumerates host block devices.
type Lister interface {
	List(ctx context.Context) ([]Device, error)
}

// HostLister lists block devices from the kernel's disk statistics.
type HostLister struct {
	Pattern *regexp.Regexp
	DevDir  string
	SysDir  string
}

func NewHostLister() *HostLister {
	return &HostLister{Pattern: DefaultPattern, DevDir: "/dev", SysDir: "/sys/block"}
}

func (l *HostLister) List(ctx context.Context) ([]Device, error) {
	stats, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate block devices: %w", err)
	}
	var out []Device
	for name, st := range stats {
		if l.Pattern != nil && !l.Pattern.MatchString(name) {
			continue
		}
		serial := st.SerialNumber
		if serial == "" {
			serial = l.sysSerial(name)
		}
		out = append(out, Device{
			Name:   name,
			Path:   filepath.Join(l.DevDir, name),
			Serial: serial,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *HostLister) sysSerial(name string) string {
	data, err := os.ReadFile(filepath.Join(l.SysDir, name, "serial"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Entry pairs an attached disk with its block device.
type Entry struct {
	DiskID string
	Device Device
}

// Table is the disk to device lookup built before conversion.
type Table struct {
	Entries []Entry
	byDisk  map[string]Device
}

// Lookup returns the device of diskID.
func (t *Table) Lookup(diskID string) (Device, bool) {
	d, ok := t.byDisk[diskID]
	return d, ok
}

func matches(diskID, serial string) bool {
	serial = scsiSerialPrefix.ReplaceAllString(strings.TrimSpace(serial), "")
	if serial == "" {
		return false
	}
	if len(serial) > serialLen && len(diskID) >= serialLen {
		serial = serial[:serialLen]
	}
	return strings.HasPrefix(diskID, serial)
}

// BuildTable correlates each disk id with the one device whose serial
// identifies it. Entries keep the order of diskIDs.
func BuildTable(diskIDs []string, devices []Device) (*Table, error) {
	if len(devices) != len(diskIDs) {
		return nil, fmt.Errorf("%w: %d disks, %d devices", ErrCountMismatch, len(diskIDs), len(devices))
	}
	t := &Table{byDisk: make(map[string]Device, len(diskIDs))}
	used := make(map[string]string, len(devices))
	for _, id := range diskIDs {
		var found []Device
		for _, dev := range devices {
			if matches(id, dev.Serial) {
				found = append(found, dev)
			}
		}
		switch {
		case len(found) == 0:
			return nil, fmt.Errorf("disk %s: %w", id, ErrUnmapped)
		case len(found) > 1:
			return nil, fmt.Errorf("disk %s: %w", id, ErrAmbiguous)
		}
		dev := found[0]
		if other, ok := used[dev.Name]; ok {
			return nil, fmt.Errorf("device %s claimed by disks %s and %s: %w", dev.Name, other, id, ErrAmbiguous)
		}
		used[dev.Name] = id
		t.byDisk[id] = dev
		t.Entries = append(t.Entries, Entry{DiskID: id, Device: dev})
	}
	return t, nil
}

// Added returns the devices of current that are absent from baseline.
func Added(baseline, current []Device) []Device {
	seen := make(map[string]bool, len(baseline))
	for _, d := range baseline {
		seen[d.Name] = true
	}
	var out []Device
	for _, d := range current {
		if !seen[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// WaitTable polls lister until the devices added since baseline can be
// mapped to diskIDs, or timeout elapses. On timeout the last mapping error
// is returned.
func WaitTable(ctx context.Context, lister Lister, baseline []Device, diskIDs []string, interval, timeout time.Duration) (*Table, error) {
	var table *Table
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		current, err := lister.List(ctx)
		if err != nil {
			return false, err
		}
		table, lastErr = BuildTable(diskIDs, Added(baseline, current))
		return lastErr == nil, nil
	})
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return table, nil
}
