package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds winboxd runtime configuration.
type Config struct {
	// DataDir is the base directory for winbox runtime data.
	DataDir string

	// SocketPath is the unix socket path for the winboxd API.
	SocketPath string

	// ComposePath is the path to the container definition (compose file).
	ComposePath string

	// DBPath is the path to the SQLite database.
	DBPath string

	// LogsDir is the directory for daemon event log files.
	LogsDir string

	// MasterKeyPath is the path to the AES-256 master key for credential encryption.
	MasterKeyPath string

	// ContainerName is the name of the managed container (docker inspect target).
	ContainerName string

	// ImageRef is the Windows container image reference, used for update checks.
	ImageRef string

	// GuestAPIPort is the guest-side port the guest API server listens on.
	GuestAPIPort int

	// RDPPort is the guest-side RDP port.
	RDPPort int

	// RDPClientBin is the remote-desktop client binary. Empty means search PATH
	// for "xfreerdp".
	RDPClientBin string

	// PollInterval is the delay between readiness poll attempts.
	PollInterval time.Duration

	// OnlineAttempts bounds the guest reachability wait.
	OnlineAttempts int

	// ResolveAttempts bounds the port/app resolution wait.
	ResolveAttempts int

	// LaunchGrace is the fixed delay after dispatching a launch before the
	// orchestration call is reported complete.
	LaunchGrace time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	winboxDir := filepath.Join(homeDir, ".winbox")

	return &Config{
		DataDir:         filepath.Join(winboxDir, "data"),
		SocketPath:      filepath.Join(winboxDir, "winboxd.sock"),
		ComposePath:     filepath.Join(winboxDir, "winbox.compose.yaml"),
		DBPath:          filepath.Join(winboxDir, "data", "winbox.db"),
		LogsDir:         filepath.Join(winboxDir, "data", "logs"),
		MasterKeyPath:   filepath.Join(winboxDir, "master.key"),
		ContainerName:   "winbox",
		ImageRef:        "ghcr.io/dockur/windows:latest",
		GuestAPIPort:    7148,
		RDPPort:         3389,
		PollInterval:    time.Second,
		OnlineAttempts:  60,
		ResolveAttempts: 30,
		LaunchGrace:     3 * time.Second,
	}
}

// EnsureDirs creates all required directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.SocketPath),
		filepath.Dir(c.ComposePath),
		c.LogsDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
