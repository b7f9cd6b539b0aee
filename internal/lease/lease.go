// Package lease guards the agent VM against concurrent backup or restore
// runs on the same host.
package lease

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	"sigs.k8s.io/yaml"
)

var ErrBusy = errors.New("resource busy")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Holder describes the run owning a lease.
type Holder struct {
	RunID     string    `json:"runID"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Operation string    `json:"operation"`
	Target    string    `json:"target"`
	Acquired  time.Time `json:"acquired"`
}

// Lease is an acquired exclusive lease.
type Lease struct {
	lock   *flock.Flock
	record string
	Holder Holder
}

func paths(dir, resource string) (string, string) {
	base := filepath.Join(dir, "ovirt-backup-"+unsafeChars.ReplaceAllString(resource, "_"))
	return base + ".lock", base + ".holder"
}

// Acquire takes the lease on resource without blocking. When another run
// holds it, the returned error wraps ErrBusy and names that run.
func Acquire(dir, resource string, holder Holder) (*Lease, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lockPath, recordPath := paths(dir, resource)

	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	if !ok {
		if current, rerr := Current(dir, resource); rerr == nil {
			return nil, fmt.Errorf("%s is used by run %s (%s %s, pid %d on %s since %s): %w",
				resource, current.RunID, current.Operation, current.Target, current.PID, current.Host,
				current.Acquired.Format(time.RFC3339), ErrBusy)
		}
		return nil, fmt.Errorf("%s: %w", resource, ErrBusy)
	}

	if holder.Acquired.IsZero() {
		holder.Acquired = time.Now().UTC()
	}
	data, err := yaml.Marshal(holder)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to encode lease holder: %w", err)
	}
	if err := os.WriteFile(recordPath, data, 0644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to write lease holder: %w", err)
	}
	return &Lease{lock: lock, record: recordPath, Holder: holder}, nil
}

// Current returns the holder of resource, if any record exists.
func Current(dir, resource string) (*Holder, error) {
	_, recordPath := paths(dir, resource)
	return readHolder(recordPath)
}

func readHolder(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h Holder
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode lease holder: %w", err)
	}
	return &h, nil
}

// Release drops the lease. It is safe to call more than once.
func (l *Lease) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := os.Remove(l.record); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lease holder: %w", err)
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.lock.Path(), err)
	}
	l.lock = nil
	return nil
}
