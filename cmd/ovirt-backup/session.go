package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ovirt-backup/internal/config"
	"ovirt-backup/internal/events"
	"ovirt-backup/internal/helpers"
	"ovirt-backup/internal/lease"
	"ovirt-backup/internal/logging"
	"ovirt-backup/internal/metrics"
	"ovirt-backup/internal/ovirt"
)

// session is everything a backup or restore run holds while it works.
type session struct {
	cfg      *config.Config
	ctx      context.Context
	runID    uuid.UUID
	log      *logrus.Entry
	logFile  io.Closer
	lease    *lease.Lease
	client   *ovirt.Client
	notifier *events.Notifier
	started  time.Time
}

// loadConfig applies the env file and environment to the flags of cmd.
func loadConfig(cmd *cobra.Command, cfg *config.Config, bindings ...map[string]string) error {
	if err := config.LoadEnvFile(cfg.EnvFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}
	for _, b := range bindings {
		if err := config.BindEnv(cmd.Flags(), b); err != nil {
			return err
		}
	}
	return nil
}

// openSession sets up logging, takes the agent VM lease and connects to
// the engine. The caller must close the session.
func openSession(ctx context.Context, cfg *config.Config, operation, target string) (*session, error) {
	logger, logFile, err := logging.Setup(logging.Options{File: cfg.LogFile, Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	s := &session{
		cfg:     cfg,
		runID:   uuid.New(),
		logFile: logFile,
		started: time.Now(),
	}
	s.ctx = helpers.WithRunID(ctx, s.runID.String())
	s.log = logger.WithFields(logrus.Fields{"run": s.runID.String(), "operation": operation})

	host, _ := os.Hostname()
	s.lease, err = lease.Acquire(cfg.LockDir, cfg.AgentVM, lease.Holder{
		RunID:     s.runID.String(),
		PID:       os.Getpid(),
		Host:      host,
		Operation: operation,
		Target:    target,
	})
	if err != nil {
		s.close()
		return nil, err
	}

	s.client, err = ovirt.Connect(s.ctx, ovirt.Options{
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
		CAFile:   cfg.CAFile,
		Insecure: cfg.Insecure,
		Timeout:  cfg.Timeout,
		Logger:   s.log,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.log.Infof("Connected to the server %s.", cfg.URL)

	var hook *events.Webhook
	if cfg.WebhookURL != "" {
		hook = events.NewWebhook(cfg.WebhookURL)
	}
	s.notifier = events.NewNotifier(s.client, hook, s.runID, s.log)
	return s, nil
}

// finish records the run in the metrics file, when one is configured.
func (s *session) finish(report metrics.Report) {
	if s.cfg.MetricsFile == "" {
		return
	}
	report.Started = s.started
	report.Finished = time.Now()
	if err := metrics.WriteTextfile(s.cfg.MetricsFile, report); err != nil {
		s.log.WithError(err).Warn("failed to write metrics")
	}
}

func (s *session) close() error {
	var result *multierror.Error
	if s.client != nil {
		if err := s.client.Close(context.WithoutCancel(s.ctx)); err != nil {
			result = multierror.Append(result, err)
		} else {
			s.log.Info("Disconnected from the server.")
		}
	}
	if err := s.lease.Release(); err != nil {
		result = multierror.Append(result, err)
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
	return result.ErrorOrNil()
}
