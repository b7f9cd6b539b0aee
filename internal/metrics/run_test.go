package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() Report {
	started := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	return Report{
		Operation: "backup",
		VM:        "web01",
		Started:   started,
		Finished:  started.Add(90 * time.Second),
		Success:   true,
		Disks:     2,
		Bytes:     3 << 30,
	}
}

func TestRunCollector(t *testing.T) {
	c := NewRunCollector(sampleReport())

	expected := `
# HELP ovirt_backup_last_run_disks Disks handled by the last run
# TYPE ovirt_backup_last_run_disks gauge
ovirt_backup_last_run_disks{operation="backup",vm="web01"} 2
# HELP ovirt_backup_last_run_duration_seconds Wall time of the last run
# TYPE ovirt_backup_last_run_duration_seconds gauge
ovirt_backup_last_run_duration_seconds{operation="backup",vm="web01"} 90
# HELP ovirt_backup_last_run_success Whether the last run succeeded
# TYPE ovirt_backup_last_run_success gauge
ovirt_backup_last_run_success{operation="backup",vm="web01"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"ovirt_backup_last_run_disks",
		"ovirt_backup_last_run_duration_seconds",
		"ovirt_backup_last_run_success",
	)
	assert.NoError(t, err)
	assert.Equal(t, 5, testutil.CollectAndCount(c))
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "ovirt_backup.prom")
	report := sampleReport()
	report.Success = false

	require.NoError(t, WriteTextfile(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ovirt_backup_last_run_success{operation="backup",vm="web01"} 0`)
	assert.Contains(t, string(data), `ovirt_backup_last_run_bytes{operation="backup",vm="web01"} 3.221225472e+09`)
}
