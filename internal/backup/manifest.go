package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sigs.k8s.io/yaml"

	"ovirt-backup/internal/filesystem"
)

const ManifestFile = "manifest.yaml"

// Manifest records what a bundle holds.
type Manifest struct {
	VM       string         `json:"vm"`
	VMID     string         `json:"vmID"`
	RunID    string         `json:"runID,omitempty"`
	Snapshot string         `json:"snapshot"`
	Created  time.Time      `json:"created"`
	OVF      string         `json:"ovf"`
	Disks    []ManifestDisk `json:"disks"`
}

type ManifestDisk struct {
	ID              string `json:"id"`
	ImageID         string `json:"imageID"`
	Alias           string `json:"alias"`
	Format          string `json:"format"`
	ProvisionedSize int64  `json:"provisionedSize"`
	Bootable        bool   `json:"bootable"`
	File            string `json:"file"`
	Device          string `json:"device"`
	VirtualSize     int64  `json:"virtualSize"`
	ActualSize      int64  `json:"actualSize"`
}

func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if _, err := filesystem.SaveFile(dir, ManifestFile, data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of an unpacked bundle.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
