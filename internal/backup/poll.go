package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"ovirt-backup/internal/ovirt"
)

// SnapshotGetter reads the state of a snapshot.
type SnapshotGetter interface {
	GetSnapshot(ctx context.Context, vmID, snapshotID string) (*ovirt.Snapshot, error)
}

// AwaitSnapshot polls the snapshot every interval until it reports ok. The
// first read is immediate. Only ctx bounds the wait.
func AwaitSnapshot(ctx context.Context, engine SnapshotGetter, vmID, snapshotID string, interval time.Duration) (*ovirt.Snapshot, error) {
	var snap *ovirt.Snapshot
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		s, err := engine.GetSnapshot(ctx, vmID, snapshotID)
		if err != nil {
			return false, err
		}
		snap = s
		return s.Status == ovirt.StatusOK, nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s not ready: %w", snapshotID, err)
	}
	return snap, nil
}

// AwaitSnapshotGone polls until the engine no longer knows the snapshot.
func AwaitSnapshotGone(ctx context.Context, engine SnapshotGetter, vmID, snapshotID string, interval time.Duration) error {
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		_, err := engine.GetSnapshot(ctx, vmID, snapshotID)
		if errors.Is(err, ovirt.ErrNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("snapshot %s not removed: %w", snapshotID, err)
	}
	return nil
}
