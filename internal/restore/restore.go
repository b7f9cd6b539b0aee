// Package restore recreates a VM from a backup bundle: its disks on a
// storage domain, their image data through the agent VM, and the VM itself
// from the saved OVF.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"ovirt-backup/internal/backup"
	"ovirt-backup/internal/devices"
	"ovirt-backup/internal/filesystem"
	"ovirt-backup/internal/helpers"
	"ovirt-backup/internal/ovf"
	"ovirt-backup/internal/ovirt"
	"ovirt-backup/internal/qemu"
)

var (
	ErrExtract  = errors.New("bundle directory missing after extraction")
	ErrNoOVF    = errors.New("bundle holds no ovf file")
	ErrVMExists = errors.New("vm already exists")
	ErrBacking  = errors.New("image refers to a backing file")
)

// Engine is the part of the engine API a restore uses.
type Engine interface {
	FindVM(ctx context.Context, name string) (*ovirt.VM, error)
	AddDisk(ctx context.Context, spec ovirt.DiskSpec) (*ovirt.Disk, error)
	GetDisk(ctx context.Context, id string) (*ovirt.Disk, error)
	AttachDisk(ctx context.Context, vmID, diskID, snapshotID string) (*ovirt.DiskAttachment, error)
	DetachDisk(ctx context.Context, vmID, attachmentID string) error
	AddVM(ctx context.Context, cluster, ovfData string) (*ovirt.VM, error)
}

// Writer copies an image onto an existing block device.
type Writer interface {
	Info(ctx context.Context, path, format string) (*qemu.ImageInfo, error)
	WriteTo(ctx context.Context, src, dst, format string) error
}

type Options struct {
	StorageDomain string
	Cluster       string
	AgentVM       string
	FailIfExists  bool
	SkipData      bool
	PollInterval  time.Duration
	SettleTimeout time.Duration
}

type Runner struct {
	Engine   Engine
	Devices  devices.Lister
	Writer   Writer
	Notifier backup.Notifier
	Logger   logrus.FieldLogger
	Options  Options
}

// Result describes a finished restore.
type Result struct {
	VM     *ovirt.VM
	Bundle string
	Disks  []*ovirt.Disk
	Bytes  int64
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

// BundleDir returns the directory a bundle unpacks to. file may name the
// archive or the directory itself.
func BundleDir(file string) string {
	if filesystem.IsDirectory(file) {
		return filepath.Clean(file)
	}
	return strings.TrimSuffix(file, filesystem.ArchiveExt)
}

// Run restores the bundle at file, an archive or an unpacked directory.
func (r *Runner) Run(ctx context.Context, file string) (*Result, error) {
	file, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	dir := BundleDir(file)
	vmName := helpers.VMNameFromBundle(filepath.Base(dir))
	log := r.Logger.WithField("vm", vmName)

	existing, err := r.Engine.FindVM(ctx, vmName)
	switch {
	case err == nil && r.Options.FailIfExists:
		return nil, fmt.Errorf("%s (id %s): %w", vmName, existing.ID, ErrVMExists)
	case err == nil:
		log.Warnf("vm %s already exists", vmName)
	case !errors.Is(err, ovirt.ErrNotFound):
		return nil, err
	}

	r.notify(ctx, fmt.Sprintf("Restore of virtual machine '%s' using file '%s' is starting.", vmName, file), nil)

	res, err := r.restore(ctx, log, file, dir)
	if err != nil {
		r.notify(context.WithoutCancel(ctx), fmt.Sprintf("Restore of virtual machine '%s' failed: %v", vmName, err), nil)
		return nil, err
	}
	r.notify(ctx, fmt.Sprintf("Restore of virtual machine '%s' using file '%s' is completed.", res.VM.Name, file), res.VM)
	return res, nil
}

func (r *Runner) restore(ctx context.Context, log logrus.FieldLogger, file, dir string) (*Result, error) {
	if !filesystem.IsDirectory(dir) {
		log.Infof("File %s is compressed, extracting.", file)
		if err := filesystem.Extract(file, filepath.Dir(dir)); err != nil {
			return nil, err
		}
		if !filesystem.IsDirectory(dir) {
			return nil, fmt.Errorf("%s: %w", dir, ErrExtract)
		}
	}

	ovfs, err := filesystem.FindFiles(dir, "*.ovf")
	if err != nil {
		return nil, err
	}
	if len(ovfs) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoOVF)
	}
	log.Infof("Configuration file is [%s].", ovfs[0])

	env, err := ovf.ParseFile(ovfs[0])
	if err != nil {
		return nil, err
	}
	if m, err := backup.ReadManifest(dir); err == nil {
		log.Infof("Bundle of %s taken %s by run %s.", m.VM, m.Created.Format(time.RFC3339), m.RunID)
		if len(m.Disks) != len(env.Disks) {
			log.Warnf("manifest lists %d disks, ovf %d", len(m.Disks), len(env.Disks))
		}
	}

	res := &Result{Bundle: dir}
	for _, meta := range env.Disks {
		disk, err := r.createDisk(ctx, log, meta)
		if err != nil {
			return nil, err
		}
		res.Disks = append(res.Disks, disk)
	}

	if !r.Options.SkipData {
		written, err := r.writeData(ctx, log, dir, res.Disks)
		if err != nil {
			return nil, err
		}
		res.Bytes = written
	}

	vm, err := r.Engine.AddVM(ctx, r.Options.Cluster, env.Data)
	if err != nil {
		return nil, err
	}
	log.Infof("Restore of vm: %s complete.", vm.Name)
	res.VM = vm
	return res, nil
}

func diskFormat(volumeFormat string) string {
	if volumeFormat == ovf.FormatCOW {
		return ovirt.FormatCOW
	}
	return ovirt.FormatRaw
}

func (r *Runner) createDisk(ctx context.Context, log logrus.FieldLogger, meta ovf.DiskMeta) (*ovirt.Disk, error) {
	log.Infof("Defining disk %s with image %s and size %s.", meta.ImageGroupID, meta.ImageID, humanize.IBytes(uint64(meta.SizeBytes)))
	disk, err := r.Engine.AddDisk(ctx, ovirt.DiskSpec{
		ID:              meta.ImageGroupID,
		ImageID:         meta.ImageID,
		Alias:           meta.Alias,
		Description:     meta.Description,
		Format:          diskFormat(meta.VolumeFormat),
		ProvisionedSize: meta.SizeBytes,
		Bootable:        meta.Boot,
		StorageDomain:   r.Options.StorageDomain,
	})
	if err != nil {
		return nil, err
	}
	return AwaitDisk(ctx, r.Engine, disk.ID, r.Options.PollInterval, log)
}

// DiskGetter reads the state of a disk.
type DiskGetter interface {
	GetDisk(ctx context.Context, id string) (*ovirt.Disk, error)
}

// AwaitDisk polls the disk every interval until it reports ok.
func AwaitDisk(ctx context.Context, engine DiskGetter, id string, interval time.Duration, log logrus.FieldLogger) (*ovirt.Disk, error) {
	var disk *ovirt.Disk
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		d, err := engine.GetDisk(ctx, id)
		if err != nil {
			return false, err
		}
		disk = d
		if d.Status != ovirt.StatusOK {
			log.Debugf("Waiting till the disk is created, the status is '%s'.", d.Status)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("disk %s not ready: %w", id, err)
	}
	return disk, nil
}

// writeData attaches every disk with an image in dir to the agent VM and
// writes the image onto it. Attachments are always removed.
func (r *Runner) writeData(ctx context.Context, log logrus.FieldLogger, dir string, disks []*ovirt.Disk) (written int64, err error) {
	var pending []*ovirt.Disk
	for _, d := range disks {
		if _, err := os.Stat(imagePath(dir, d.ID)); err == nil {
			pending = append(pending, d)
		} else {
			log.Warnf("no image for disk %s, it stays empty", d.ID)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	agent, err := r.Engine.FindVM(ctx, r.Options.AgentVM)
	if err != nil {
		return 0, fmt.Errorf("failed to find agent vm: %w", err)
	}
	baseline, err := r.Devices.List(ctx)
	if err != nil {
		return 0, err
	}

	var attached []*ovirt.DiskAttachment
	defer func() {
		cctx := context.WithoutCancel(ctx)
		var result *multierror.Error
		for _, a := range attached {
			if derr := r.Engine.DetachDisk(cctx, agent.ID, a.ID); derr != nil && !errors.Is(derr, ovirt.ErrNotFound) {
				result = multierror.Append(result, fmt.Errorf("detach disk %s: %w", a.DiskID, derr))
				continue
			}
			log.Infof("Detached disk '%s' from the agent virtual machine.", a.DiskID)
		}
		if derr := result.ErrorOrNil(); derr != nil {
			if err == nil {
				err = derr
			} else {
				err = multierror.Append(err, derr)
			}
		}
	}()

	ids := make([]string, 0, len(pending))
	for _, d := range pending {
		att, err := r.Engine.AttachDisk(ctx, agent.ID, d.ID, "")
		if err != nil {
			return 0, fmt.Errorf("failed to attach disk %s: %w", d.ID, err)
		}
		attached = append(attached, att)
		ids = append(ids, d.ID)
		log.Infof("Attached disk '%s' to the agent virtual machine.", d.ID)
	}

	settle := r.Options.SettleTimeout
	if settle <= 0 {
		settle = backup.DefaultSettleTimeout
	}
	table, err := devices.WaitTable(ctx, r.Devices, baseline, ids, r.Options.PollInterval, settle)
	if err != nil {
		return 0, fmt.Errorf("failed to map attached disks to devices: %w", err)
	}

	for _, entry := range table.Entries {
		src := imagePath(dir, entry.DiskID)
		info, err := r.Writer.Info(ctx, src, qemu.FormatQCOW2)
		if err != nil {
			return written, err
		}
		if info.BackingFile != "" {
			return written, fmt.Errorf("%s: %w: %s", src, ErrBacking, info.BackingFile)
		}
		log.Infof("Writing '%s' to '%s'.", src, entry.Device.Path)
		if err := r.Writer.WriteTo(ctx, src, entry.Device.Path, qemu.FormatRaw); err != nil {
			return written, err
		}
		if size, err := filesystem.FileSize(src); err == nil {
			written += size
		}
	}
	return written, nil
}

func imagePath(dir, diskID string) string {
	return filepath.Join(dir, diskID+".qcow2")
}
