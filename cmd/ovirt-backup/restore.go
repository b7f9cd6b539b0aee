package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"ovirt-backup/internal/config"
	"ovirt-backup/internal/devices"
	"ovirt-backup/internal/helpers"
	"ovirt-backup/internal/metrics"
	"ovirt-backup/internal/qemu"
	"ovirt-backup/internal/restore"
)

func newRestoreCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore a virtual machine from a backup",
		Long:  "Recreate the disks of a backup bundle on a storage domain, write their images back and register the VM from its OVF.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, config.CommonEnv, config.RestoreEnv); err != nil {
				return err
			}
			if err := cfg.ValidateRestore(); err != nil {
				return err
			}
			return runRestore(cmd, cfg, args[0])
		},
	}
	config.AddCommonFlags(cmd.Flags(), cfg, config.DefaultRestoreLog)
	config.AddRestoreFlags(cmd.Flags(), cfg)
	return cmd
}

func runRestore(cmd *cobra.Command, cfg *config.Config, file string) (err error) {
	target := helpers.VMNameFromBundle(filepath.Base(restore.BundleDir(file)))
	s, err := openSession(cmd.Context(), cfg, "restore", target)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	runner := &restore.Runner{
		Engine:   s.client,
		Devices:  devices.NewHostLister(),
		Writer:   qemu.NewImage(nil),
		Notifier: s.notifier,
		Logger:   s.log,
		Options: restore.Options{
			StorageDomain: cfg.StorageDomain,
			Cluster:       cfg.Cluster,
			AgentVM:       cfg.AgentVM,
			FailIfExists:  cfg.FailIfExists,
			SkipData:      cfg.SkipData,
			PollInterval:  cfg.PollInterval,
		},
	}

	report := metrics.Report{Operation: "restore", VM: target}
	res, err := runner.Run(s.ctx, file)
	if err != nil {
		s.log.WithError(err).Error("restore failed")
		s.finish(report)
		return err
	}
	report.VM = res.VM.Name
	report.Success = true
	report.Disks = len(res.Disks)
	report.Bytes = res.Bytes
	s.finish(report)
	return nil
}
