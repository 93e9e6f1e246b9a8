// Package paths centralizes the on-disk layout under ~/.takcore.
package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.takcore.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".takcore")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// SocketPath returns the UDS socket path for a profile.
func SocketPath(profile string) string {
	return filepath.Join(Dir(profile), "daemon.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(profile string) string {
	return filepath.Join(Dir(profile), "LOCK")
}

// DBPath returns the message store path.
func DBPath(profile string) string {
	return filepath.Join(Dir(profile), "takcore.db")
}

// ArchiveDir returns where evicted queue records are relocated.
func ArchiveDir(profile string) string {
	return filepath.Join(Dir(profile), "archive")
}

// AttachmentsDir returns where decoded image attachments land.
func AttachmentsDir(profile string) string {
	return filepath.Join(Dir(profile), "attachments")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "takcored.log")
}

// ConfigPath returns the per-profile config file path.
func ConfigPath(profile string) string {
	return filepath.Join(Dir(profile), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(profile string) error {
	dirs := []string{
		Dir(profile),
		LogDir(profile),
		ArchiveDir(profile),
		AttachmentsDir(profile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
