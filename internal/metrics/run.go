package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Report summarises one backup or restore run.
type Report struct {
	Operation string
	VM        string
	Started   time.Time
	Finished  time.Time
	Success   bool
	Disks     int
	Bytes     int64
}

type RunCollector struct {
	report    Report
	timestamp *prometheus.Desc
	duration  *prometheus.Desc
	success   *prometheus.Desc
	disks     *prometheus.Desc
	bytes     *prometheus.Desc
}

func NewRunCollector(report Report) *RunCollector {
	labels := []string{"operation", "vm"}
	return &RunCollector{
		report: report,
		timestamp: prometheus.NewDesc(
			"ovirt_backup_last_run_timestamp_seconds",
			"Unix time the last run finished",
			labels,
			nil,
		),
		duration: prometheus.NewDesc(
			"ovirt_backup_last_run_duration_seconds",
			"Wall time of the last run",
			labels,
			nil,
		),
		success: prometheus.NewDesc(
			"ovirt_backup_last_run_success",
			"Whether the last run succeeded",
			labels,
			nil,
		),
		disks: prometheus.NewDesc(
			"ovirt_backup_last_run_disks",
			"Disks handled by the last run",
			labels,
			nil,
		),
		bytes: prometheus.NewDesc(
			"ovirt_backup_last_run_bytes",
			"Image bytes written by the last run",
			labels,
			nil,
		),
	}
}

func (c *RunCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.timestamp
	ch <- c.duration
	ch <- c.success
	ch <- c.disks
	ch <- c.bytes
}

func (c *RunCollector) Collect(ch chan<- prometheus.Metric) {
	r := c.report
	success := 0.0
	if r.Success {
		success = 1
	}
	ch <- prometheus.MustNewConstMetric(c.timestamp, prometheus.GaugeValue, float64(r.Finished.Unix()), r.Operation, r.VM)
	ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue, r.Finished.Sub(r.Started).Seconds(), r.Operation, r.VM)
	ch <- prometheus.MustNewConstMetric(c.success, prometheus.GaugeValue, success, r.Operation, r.VM)
	ch <- prometheus.MustNewConstMetric(c.disks, prometheus.GaugeValue, float64(r.Disks), r.Operation, r.VM)
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(r.Bytes), r.Operation, r.VM)
}

// WriteTextfile writes report in the node_exporter textfile format.
func WriteTextfile(path string, report Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewRunCollector(report)); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
