package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	DefaultUsername     = "admin@internal"
	DefaultBackupPath   = "/ovirt-backup"
	DefaultBackupLog    = "/var/log/cli-ovirt-backup.log"
	DefaultRestoreLog   = "/var/log/cli-ovirt-restore.log"
	DefaultAgentVM      = "backuprestore"
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 5 * time.Minute
	DefaultLockDir      = "/var/lock"
	DefaultEnvFile      = "/etc/ovirt-backup.env"
)

var ErrMissing = errors.New("required setting missing")

type Config struct {
	Username     string
	Password     string
	CAFile       string
	Insecure     bool
	Timeout      time.Duration
	URL          string
	BackupPath   string
	LogFile      string
	Debug        bool
	Unarchive    bool
	AgentVM      string
	PollInterval time.Duration
	LockDir      string
	MetricsFile  string
	WebhookURL   string
	EnvFile      string

	StorageDomain string
	Cluster       string
	FailIfExists  bool
	SkipData      bool
}

// CommonEnv maps flags shared by backup and restore to their variables.
var CommonEnv = map[string]string{
	"username":      "OVIRTUSER",
	"password":      "OVIRTPASS",
	"ca":            "OVIRTCA",
	"insecure":      "OVIRTINSECURE",
	"timeout":       "OVIRTTIMEOUT",
	"api":           "OVIRTURL",
	"backup-path":   "BACKUPPATH",
	"log":           "OVIRTLOG",
	"agent-vm":      "OVIRTAGENT",
	"poll-interval": "OVIRTPOLL",
	"lock-dir":      "OVIRTLOCKDIR",
	"metrics-file":  "OVIRTMETRICS",
	"webhook-url":   "OVIRTWEBHOOK",
}

// RestoreEnv maps restore-only flags to their variables.
var RestoreEnv = map[string]string{
	"storage-domain": "OVIRTSD",
	"cluster":        "OVIRTCLUSTER",
}

// AddCommonFlags registers the flags shared by backup and restore.
func AddCommonFlags(fs *pflag.FlagSet, c *Config, logDefault string) {
	fs.StringVarP(&c.Username, "username", "u", DefaultUsername, "oVirt user")
	fs.StringVarP(&c.Password, "password", "p", "", "oVirt password")
	fs.StringVarP(&c.CAFile, "ca", "c", "", "path to the engine CA certificate")
	fs.BoolVar(&c.Insecure, "insecure", false, "skip verification of the engine certificate")
	fs.DurationVar(&c.Timeout, "timeout", DefaultTimeout, "timeout of a single engine request")
	fs.StringVarP(&c.URL, "api", "a", "", "engine API url, e.g. https://engine/ovirt-engine/api")
	fs.StringVarP(&c.BackupPath, "backup-path", "b", DefaultBackupPath, "directory holding backup bundles")
	fs.StringVarP(&c.LogFile, "log", "l", logDefault, "log file")
	fs.BoolVarP(&c.Debug, "debug", "d", false, "debug logging, mirrored to stdout")
	fs.StringVar(&c.AgentVM, "agent-vm", DefaultAgentVM, "name of the VM this tool runs on")
	fs.DurationVar(&c.PollInterval, "poll-interval", DefaultPollInterval, "status polling interval")
	fs.StringVar(&c.LockDir, "lock-dir", DefaultLockDir, "directory for the agent VM lease")
	fs.StringVar(&c.MetricsFile, "metrics-file", "", "write run metrics to this prometheus textfile")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "POST every event to this url")
	fs.StringVar(&c.EnvFile, "env-file", DefaultEnvFile, "environment file with OVIRT* settings")
}

// AddRestoreFlags registers the restore-only flags.
func AddRestoreFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVarP(&c.StorageDomain, "storage-domain", "s", "", "storage domain receiving the disks")
	fs.StringVarP(&c.Cluster, "cluster", "C", "", "cluster receiving the VM")
	fs.BoolVar(&c.FailIfExists, "fail-if-exists", false, "fail when a VM with the same name exists")
	fs.BoolVar(&c.SkipData, "skip-data", false, "recreate disks without writing the image data")
}

// LoadEnvFile loads path into the environment without overriding variables
// already set. A missing file is an error only when required.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// BindEnv sets every flag the user left unset from its environment variable.
func BindEnv(fs *pflag.FlagSet, bindings map[string]string) error {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if fs.Lookup(name) == nil || fs.Changed(name) {
			continue
		}
		value, ok := os.LookupEnv(bindings[name])
		if !ok || value == "" {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", bindings[name], value, err)
		}
	}
	return nil
}

func (c *Config) validateCommon() *multierror.Error {
	var result *multierror.Error
	required := []struct{ flag, env, value string }{
		{"--password", "OVIRTPASS", c.Password},
		{"--api", "OVIRTURL", c.URL},
		{"--backup-path", "BACKUPPATH", c.BackupPath},
		{"--agent-vm", "OVIRTAGENT", c.AgentVM},
	}
	if !c.Insecure {
		required = append(required, struct{ flag, env, value string }{"--ca", "OVIRTCA", c.CAFile})
	}
	for _, r := range required {
		if r.value == "" {
			result = multierror.Append(result, fmt.Errorf("%s (%s): %w", r.flag, r.env, ErrMissing))
		}
	}
	if c.URL != "" {
		if u, err := url.Parse(c.URL); err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("--api: invalid url %q", c.URL))
		}
	}
	if c.PollInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("--poll-interval must be positive, got %s", c.PollInterval))
	}
	if c.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("--timeout must be positive, got %s", c.Timeout))
	}
	return result
}

// ValidateBackup checks the settings a backup run needs.
func (c *Config) ValidateBackup() error {
	return c.validateCommon().ErrorOrNil()
}

// ValidateRestore checks the settings a restore run needs.
func (c *Config) ValidateRestore() error {
	result := c.validateCommon()
	if c.StorageDomain == "" {
		result = multierror.Append(result, fmt.Errorf("--storage-domain (OVIRTSD): %w", ErrMissing))
	}
	if c.Cluster == "" {
		result = multierror.Append(result, fmt.Errorf("--cluster (OVIRTCLUSTER): %w", ErrMissing))
	}
	return result.ErrorOrNil()
}
