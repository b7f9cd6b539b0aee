// Package backup captures a running VM into a bundle of its OVF and one
// qcow2 image per disk, taken from a live snapshot attached to the agent VM.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"ovirt-backup/internal/devices"
	"ovirt-backup/internal/filesystem"
	"ovirt-backup/internal/helpers"
	"ovirt-backup/internal/ovirt"
	"ovirt-backup/internal/qemu"
)

// SnapshotDescription marks snapshots taken by this tool.
const SnapshotDescription = "cli-ovirt-backup"

const DefaultSettleTimeout = 2 * time.Minute

var ErrNoDisks = errors.New("snapshot holds no disks")

// Engine is the part of the engine API a backup uses.
type Engine interface {
	SnapshotGetter
	FindVM(ctx context.Context, name string) (*ovirt.VM, error)
	VMConfiguration(ctx context.Context, id string) (string, error)
	CreateSnapshot(ctx context.Context, vmID, description string) (*ovirt.Snapshot, error)
	SnapshotDisks(ctx context.Context, vmID, snapshotID string) ([]ovirt.Disk, error)
	AttachDisk(ctx context.Context, vmID, diskID, snapshotID string) (*ovirt.DiskAttachment, error)
	DetachDisk(ctx context.Context, vmID, attachmentID string) error
	DeleteSnapshot(ctx context.Context, vmID, snapshotID string) error
}

// Converter turns a block device into an image file.
type Converter interface {
	Convert(ctx context.Context, src, dst, format string) error
	Info(ctx context.Context, path, format string) (*qemu.ImageInfo, error)
}

// Notifier posts progress events to the engine audit log.
type Notifier interface {
	Send(ctx context.Context, message string, vm *ovirt.VM) (int64, error)
}

type Options struct {
	BackupPath    string
	AgentVM       string
	Unarchive     bool
	PollInterval  time.Duration
	SettleTimeout time.Duration
	Now           func() time.Time
}

type Runner struct {
	Engine    Engine
	Devices   devices.Lister
	Converter Converter
	Notifier  Notifier
	Logger    logrus.FieldLogger
	Options   Options
}

// Result describes a finished backup.
type Result struct {
	VM       *ovirt.VM
	Bundle   string
	Archive  string
	Manifest *Manifest
	Bytes    int64
}

func (r *Runner) now() time.Time {
	if r.Options.Now != nil {
		return r.Options.Now()
	}
	return time.Now()
}

func (r *Runner) notify(ctx context.Context, message string, vm *ovirt.VM) {
	if r.Notifier == nil {
		r.Logger.Info(message)
		return
	}
	if _, err := r.Notifier.Send(ctx, message, vm); err != nil {
		r.Logger.WithError(err).Warn("failed to send event")
	}
}

// Run backs up the VM named vmName.
func (r *Runner) Run(ctx context.Context, vmName string) (*Result, error) {
	vm, err := r.Engine.FindVM(ctx, vmName)
	if err != nil {
		return nil, fmt.Errorf("failed to find vm: %w", err)
	}
	agent, err := r.Engine.FindVM(ctx, r.Options.AgentVM)
	if err != nil {
		return nil, fmt.Errorf("failed to find agent vm: %w", err)
	}
	log := r.Logger.WithField("vm", vm.Name)

	r.notify(ctx, fmt.Sprintf("Backup of virtual machine '%s' using snapshot '%s' is starting.", vm.Name, SnapshotDescription), vm)

	started := r.now()
	bundle := filepath.Join(r.Options.BackupPath, helpers.BundleName(vm.Name, started))
	if err := filesystem.CreateDirectory(bundle, 0755); err != nil {
		return nil, err
	}
	log.Infof("Created directory '%s'.", bundle)

	manifest := &Manifest{
		VM:       vm.Name,
		VMID:     vm.ID,
		Snapshot: SnapshotDescription,
		Created:  started.UTC(),
		OVF:      vm.Name + ".ovf",
	}
	if runID, ok := helpers.GetRunID(ctx); ok {
		manifest.RunID = runID
	}

	ovfData, err := r.Engine.VMConfiguration(ctx, vm.ID)
	if err != nil {
		return nil, r.fail(ctx, log, vm, bundle, fmt.Errorf("failed to export ovf: %w", err))
	}
	ovfPath, err := filesystem.SaveFile(bundle, manifest.OVF, []byte(ovfData))
	if err != nil {
		return nil, r.fail(ctx, log, vm, bundle, err)
	}
	log.Infof("Exported OVF to '%s'.", ovfPath)

	baseline, err := r.Devices.List(ctx)
	if err != nil {
		return nil, r.fail(ctx, log, vm, bundle, err)
	}

	snap, err := r.Engine.CreateSnapshot(ctx, vm.ID, SnapshotDescription)
	if err != nil {
		return nil, r.fail(ctx, log, vm, bundle, err)
	}
	log.Infof("Sent request to create snapshot '%s', the id is '%s'.", snap.Description, snap.ID)

	c := &cleanup{
		engine:     r.Engine,
		logger:     log,
		interval:   r.Options.PollInterval,
		vmID:       vm.ID,
		agentID:    agent.ID,
		snapshotID: snap.ID,
	}
	captureErr := r.capture(ctx, log, c, vm, agent, snap, baseline, bundle, manifest)
	if err := c.run(ctx); err != nil {
		captureErr = multierror.Append(captureErr, fmt.Errorf("cleanup: %w", err))
	}
	if captureErr != nil {
		return nil, r.fail(ctx, log, vm, bundle, captureErr)
	}

	if err := WriteManifest(bundle, manifest); err != nil {
		return nil, r.fail(ctx, log, vm, bundle, err)
	}

	res := &Result{VM: vm, Bundle: bundle, Manifest: manifest}
	for _, d := range manifest.Disks {
		res.Bytes += d.ActualSize
	}

	if !r.Options.Unarchive {
		archive := bundle + filesystem.ArchiveExt
		log.Infof("Archiving '%s' in '%s'.", bundle, archive)
		if err := filesystem.Archive(bundle, archive); err != nil {
			return nil, r.fail(ctx, log, vm, bundle, err)
		}
		if err := filesystem.DeleteDirectory(bundle); err != nil {
			return nil, r.fail(ctx, log, vm, bundle, err)
		}
		res.Archive = archive
		if size, err := filesystem.FileSize(archive); err == nil {
			log.Infof("Archive size is %s.", humanize.IBytes(uint64(size)))
		}
	}

	r.notify(ctx, fmt.Sprintf("Backup of virtual machine '%s' using snapshot '%s' is completed.", vm.Name, SnapshotDescription), vm)
	return res, nil
}

// capture waits for the snapshot, attaches its disks to the agent VM and
// converts each one. Everything it attaches is recorded on c.
func (r *Runner) capture(ctx context.Context, log logrus.FieldLogger, c *cleanup, vm, agent *ovirt.VM, snap *ovirt.Snapshot, baseline []devices.Device, bundle string, manifest *Manifest) error {
	if _, err := AwaitSnapshot(ctx, r.Engine, vm.ID, snap.ID, r.Options.PollInterval); err != nil {
		return err
	}
	log.Infof("Snapshot '%s' is ready.", snap.Description)

	disks, err := r.Engine.SnapshotDisks(ctx, vm.ID, snap.ID)
	if err != nil {
		return err
	}
	if len(disks) == 0 {
		return ErrNoDisks
	}

	ids := make([]string, 0, len(disks))
	for _, d := range disks {
		att, err := r.Engine.AttachDisk(ctx, agent.ID, d.ID, snap.ID)
		if err != nil {
			return fmt.Errorf("failed to attach disk %s: %w", d.ID, err)
		}
		c.attached(*att)
		ids = append(ids, d.ID)
		log.Infof("Attached disk '%s' to the agent virtual machine.", d.ID)
	}

	settle := r.Options.SettleTimeout
	if settle <= 0 {
		settle = DefaultSettleTimeout
	}
	table, err := devices.WaitTable(ctx, r.Devices, baseline, ids, r.Options.PollInterval, settle)
	if err != nil {
		return fmt.Errorf("failed to map attached disks to devices: %w", err)
	}

	for i, entry := range table.Entries {
		d := disks[i]
		file := d.ID + ".qcow2"
		dst := filepath.Join(bundle, file)
		log.Infof("Converting '%s' to '%s'.", entry.Device.Path, dst)
		if err := r.Converter.Convert(ctx, entry.Device.Path, dst, qemu.FormatQCOW2); err != nil {
			return err
		}

		md := ManifestDisk{
			ID:              d.ID,
			ImageID:         d.ImageID,
			Alias:           d.Alias,
			Format:          d.Format,
			ProvisionedSize: d.ProvisionedSize,
			Bootable:        d.Bootable,
			File:            file,
			Device:          entry.Device.Name,
		}
		if info, err := r.Converter.Info(ctx, dst, qemu.FormatQCOW2); err == nil {
			md.VirtualSize = info.VirtualSize
			md.ActualSize = info.ActualSize
		} else {
			log.WithError(err).Warnf("failed to inspect %s", dst)
		}
		if md.ActualSize == 0 {
			if size, err := filesystem.FileSize(dst); err == nil {
				md.ActualSize = size
			}
		}
		log.Infof("Converted disk '%s': virtual %s, actual %s.", d.Alias,
			humanize.IBytes(uint64(md.VirtualSize)), humanize.IBytes(uint64(md.ActualSize)))
		manifest.Disks = append(manifest.Disks, md)
	}
	return nil
}

// fail removes the incomplete bundle and reports err.
func (r *Runner) fail(ctx context.Context, log logrus.FieldLogger, vm *ovirt.VM, bundle string, err error) error {
	if filesystem.IsDirectory(bundle) {
		if derr := filesystem.DeleteDirectory(bundle); derr != nil {
			log.WithError(derr).Warnf("Incomplete bundle '%s' was left behind.", bundle)
		} else {
			log.Infof("Removed incomplete bundle '%s'.", bundle)
		}
	}
	r.notify(context.WithoutCancel(ctx), fmt.Sprintf("Backup of virtual machine '%s' failed: %v", vm.Name, err), vm)
	return err
}
