package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ovirt-backup/internal/devices"
	"ovirt-backup/internal/events"
	"ovirt-backup/internal/filesystem"
	"ovirt-backup/internal/helpers"
	"ovirt-backup/internal/ovf"
	"ovirt-backup/internal/ovirt"
	"ovirt-backup/internal/ovirt/ovirttest"
	"ovirt-backup/internal/qemu"
)

const (
	bootDisk = "6b0a3e3a-6f0e-4a8b-9d6c-0a1b2c3d4e5f"
	dataDisk = "c2d9f1e0-1234-4cde-8f00-aabbccddeeff"
	interval = 10 * time.Millisecond
)

// agentDevices reports the disks attached to the agent VM on the fake
// engine as block devices.
type agentDevices struct {
	engine  *ovirttest.Engine
	agentID string
}

func (a *agentDevices) List(context.Context) ([]devices.Device, error) {
	out := []devices.Device{{Name: "vda", Path: "/dev/vda", Serial: "agent-root"}}
	for i, id := range a.engine.Attachments(a.agentID) {
		name := fmt.Sprintf("vd%c", 'b'+i)
		out = append(out, devices.Device{Name: name, Path: "/dev/" + name, Serial: id[:20]})
	}
	return out, nil
}

type fakeConverter struct {
	mu     sync.Mutex
	calls  [][2]string
	failOn int
}

func (f *fakeConverter) Convert(_ context.Context, src, dst, format string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{src, dst})
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return errors.New("command qemu-img failed: Could not open '" + src + "'")
	}
	return os.WriteFile(dst, []byte(format+":"+src), 0644)
}

func (f *fakeConverter) Info(_ context.Context, path, _ string) (*qemu.ImageInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &qemu.ImageInfo{Filename: path, Format: qemu.FormatQCOW2, VirtualSize: 10 << 30, ActualSize: st.Size()}, nil
}

type fixture struct {
	engine    *ovirttest.Engine
	vmID      string
	agentID   string
	client    *ovirt.Client
	converter *fakeConverter
	runner    *Runner
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := ovirttest.NewEngine()
	engine.PendingPolls = 2

	doc, err := ovf.Compose("web01", []ovf.DiskMeta{
		{Boot: true, VolumeFormat: ovf.FormatCOW, DiskID: "img-1", Alias: "web01_Disk1", SizeBytes: 10 << 30, ImageGroupID: bootDisk, ImageID: "img-1"},
		{VolumeFormat: ovf.FormatRAW, DiskID: "img-2", Alias: "web01_Disk2", SizeBytes: 20 << 30, ImageGroupID: dataDisk, ImageID: "img-2"},
	})
	require.NoError(t, err)

	f := &fixture{engine: engine, converter: &fakeConverter{}, dir: t.TempDir()}
	f.vmID = engine.AddVM("web01", string(doc),
		ovirttest.DiskFixture{ID: bootDisk, ImageID: "img-1", Alias: "web01_Disk1", Format: ovirt.FormatCOW, Size: 10 << 30, Bootable: true},
		ovirttest.DiskFixture{ID: dataDisk, ImageID: "img-2", Alias: "web01_Disk2", Format: ovirt.FormatRaw, Size: 20 << 30},
	)
	f.agentID = engine.AddVM("backuprestore", "")

	srv := engine.Start()
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	f.client, err = ovirt.Connect(context.Background(), ovirt.Options{
		URL:        ovirttest.APIURL(srv),
		Username:   engine.Username,
		Password:   engine.Password,
		Logger:     logger,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	f.runner = &Runner{
		Engine:    f.client,
		Devices:   &agentDevices{engine: engine, agentID: f.agentID},
		Converter: f.converter,
		Notifier:  events.NewNotifier(f.client, nil, uuid.New(), logger),
		Logger:    logger,
		Options: Options{
			BackupPath:    f.dir,
			AgentVM:       "backuprestore",
			PollInterval:  interval,
			SettleTimeout: time.Second,
			Now:           func() time.Time { return time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC) },
		},
	}
	return f
}

func TestAwaitSnapshotPollsAtInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.client.CreateSnapshot(ctx, f.vmID, SnapshotDescription)
	require.NoError(t, err)

	start := time.Now()
	ready, err := AwaitSnapshot(ctx, f.client, f.vmID, snap.ID, 50*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, ovirt.StatusOK, ready.Status)
	assert.Equal(t, 3, f.engine.SnapshotPolls(snap.ID))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAwaitSnapshotReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	f.engine.PendingPolls = 0
	ctx := context.Background()
	snap, err := f.client.CreateSnapshot(ctx, f.vmID, SnapshotDescription)
	require.NoError(t, err)

	start := time.Now()
	_, err = AwaitSnapshot(ctx, f.client, f.vmID, snap.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, f.engine.SnapshotPolls(snap.ID))
	assert.Less(t, time.Since(start), time.Minute)
}

func TestAwaitSnapshotCancelled(t *testing.T) {
	f := newFixture(t)
	f.engine.PendingPolls = 1000
	snap, err := f.client.CreateSnapshot(context.Background(), f.vmID, SnapshotDescription)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = AwaitSnapshot(ctx, f.client, f.vmID, snap.ID, interval)
	assert.Error(t, err)
}

func TestBackupEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.runner.Options.Unarchive = true
	ctx := helpers.WithRunID(context.Background(), "run-1")

	res, err := f.runner.Run(ctx, "web01")
	require.NoError(t, err)

	bundle := filepath.Join(f.dir, "web01-20240501020000")
	assert.Equal(t, bundle, res.Bundle)
	assert.Empty(t, res.Archive)

	ovfs, err := filesystem.FindFiles(bundle, "*.ovf")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(bundle, "web01.ovf")}, ovfs)

	images, err := filesystem.FindFiles(bundle, "*.qcow2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(bundle, bootDisk+".qcow2"),
		filepath.Join(bundle, dataDisk+".qcow2"),
	}, images)

	data, err := os.ReadFile(filepath.Join(bundle, bootDisk+".qcow2"))
	require.NoError(t, err)
	assert.Equal(t, "qcow2:/dev/vdb", string(data))

	assert.Empty(t, f.engine.Snapshots(f.vmID))
	assert.Empty(t, f.engine.Attachments(f.agentID))

	m, err := ReadManifest(bundle)
	require.NoError(t, err)
	assert.Equal(t, "web01", m.VM)
	assert.Equal(t, "run-1", m.RunID)
	require.Len(t, m.Disks, 2)
	assert.True(t, m.Disks[0].Bootable)
	assert.Equal(t, int64(10<<30), m.Disks[0].VirtualSize)

	env, err := ovf.ParseFile(filepath.Join(bundle, "web01.ovf"))
	require.NoError(t, err)
	assert.Len(t, env.Disks, 2)

	evs := f.engine.Events()
	require.Len(t, evs, 2)
	assert.Contains(t, evs[0].Description, "is starting")
	assert.Contains(t, evs[1].Description, "is completed")
	assert.Equal(t, evs[0].CustomID+1, evs[1].CustomID)
	assert.Equal(t, f.vmID, evs[0].VMID)
}

func TestBackupArchives(t *testing.T) {
	f := newFixture(t)

	res, err := f.runner.Run(context.Background(), "web01")
	require.NoError(t, err)

	assert.Equal(t, res.Bundle+filesystem.ArchiveExt, res.Archive)
	assert.False(t, filesystem.IsDirectory(res.Bundle))

	out := t.TempDir()
	require.NoError(t, filesystem.Extract(res.Archive, out))
	images, err := filesystem.FindFiles(filepath.Join(out, "web01-20240501020000"), "*.qcow2")
	require.NoError(t, err)
	assert.Len(t, images, 2)
	assert.Positive(t, res.Bytes)
}

func TestBackupCleansUpOnConversionFailure(t *testing.T) {
	f := newFixture(t)
	f.converter.failOn = 2

	_, err := f.runner.Run(context.Background(), "web01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not open '/dev/vdc'")
	assert.False(t, filesystem.IsDirectory(filepath.Join(f.dir, "web01-20240501020000")))

	assert.Empty(t, f.engine.Snapshots(f.vmID))
	assert.Empty(t, f.engine.Attachments(f.agentID))

	evs := f.engine.Events()
	require.NotEmpty(t, evs)
	assert.Contains(t, evs[len(evs)-1].Description, "failed")
}

func TestBackupRemovesBundleOnSnapshotFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.FailOn(ovirttest.OpCreateSnapshot, 500)

	_, err := f.runner.Run(context.Background(), "web01")
	require.Error(t, err)
	assert.False(t, filesystem.IsDirectory(filepath.Join(f.dir, "web01-20240501020000")))
	assert.Empty(t, f.engine.Snapshots(f.vmID))
}

func TestBackupCleansUpOnAttachFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.FailOn(ovirttest.OpAttach, 500)

	_, err := f.runner.Run(context.Background(), "web01")
	require.Error(t, err)
	assert.Empty(t, f.engine.Snapshots(f.vmID))
	assert.Empty(t, f.engine.Attachments(f.agentID))
	assert.Empty(t, f.converter.calls)
}

func TestBackupReportsCleanupFailure(t *testing.T) {
	f := newFixture(t)
	f.converter.failOn = 1
	f.engine.FailOn(ovirttest.OpDeleteSnapshot, 500)

	_, err := f.runner.Run(context.Background(), "web01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not open")
	assert.Contains(t, err.Error(), "cleanup")
	assert.Empty(t, f.engine.Attachments(f.agentID))
	assert.Len(t, f.engine.Snapshots(f.vmID), 1)
}

func TestBackupVMNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.Run(context.Background(), "missing")
	assert.True(t, errors.Is(err, ovirt.ErrNotFound))
	assert.Empty(t, f.engine.Events())
}

func TestBackupAgentNotFound(t *testing.T) {
	f := newFixture(t)
	f.runner.Options.AgentVM = "no-agent"

	_, err := f.runner.Run(context.Background(), "web01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent vm")
	assert.Empty(t, f.engine.Snapshots(f.vmID))
}
