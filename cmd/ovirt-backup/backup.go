package main

import (
	"github.com/spf13/cobra"

	"ovirt-backup/internal/backup"
	"ovirt-backup/internal/config"
	"ovirt-backup/internal/devices"
	"ovirt-backup/internal/metrics"
	"ovirt-backup/internal/qemu"
)

func newBackupCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:   "backup <vmname>",
		Short: "Back up a virtual machine",
		Long:  "Snapshot a virtual machine, copy its disks through the agent VM into qcow2 images next to its OVF, and archive the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, config.CommonEnv); err != nil {
				return err
			}
			if err := cfg.ValidateBackup(); err != nil {
				return err
			}
			return runBackup(cmd, cfg, args[0])
		},
	}
	config.AddCommonFlags(cmd.Flags(), cfg, config.DefaultBackupLog)
	cmd.Flags().BoolVarP(&cfg.Unarchive, "unarchive", "n", false, "keep the bundle as a directory instead of a .tar.gz")
	return cmd
}

func runBackup(cmd *cobra.Command, cfg *config.Config, vmName string) (err error) {
	s, err := openSession(cmd.Context(), cfg, "backup", vmName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	runner := &backup.Runner{
		Engine:    s.client,
		Devices:   devices.NewHostLister(),
		Converter: qemu.NewImage(nil),
		Notifier:  s.notifier,
		Logger:    s.log,
		Options: backup.Options{
			BackupPath:   cfg.BackupPath,
			AgentVM:      cfg.AgentVM,
			Unarchive:    cfg.Unarchive,
			PollInterval: cfg.PollInterval,
		},
	}

	report := metrics.Report{Operation: "backup", VM: vmName}
	res, err := runner.Run(s.ctx, vmName)
	if err != nil {
		s.log.WithError(err).Error("backup failed")
		s.finish(report)
		return err
	}
	report.Success = true
	report.Disks = len(res.Manifest.Disks)
	report.Bytes = res.Bytes
	s.finish(report)

	if res.Archive != "" {
		s.log.Infof("Backup of %s written to %s.", vmName, res.Archive)
	} else {
		s.log.Infof("Backup of %s written to %s.", vmName, res.Bundle)
	}
	return nil
}
