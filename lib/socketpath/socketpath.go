// Package socketpath names and prepares the unix-domain socket each daemon
// listens on.
package socketpath

import (
	"fmt"
	"os"
	"path/filepath"
)

// Host returns HostProcessor's socket path, relative to dir: host-processor-<pid>.
func Host(dir string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("host-processor-%d", pid))
}

// User returns UserProcessor's socket path, relative to dir:
// user-processor-<pid>-<username>.
func User(dir string, pid int, username string) string {
	return filepath.Join(dir, fmt.Sprintf("user-processor-%d-%s", pid, username))
}

// Secure chmods path to mode after bind, so only the owner (and, with 0o770,
// its group) can connect.
func Secure(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w\n\tpath: %s", err, path)
	}
	return nil
}

// Cleanup best-effort removes path, for use on shutdown. Errors are not
// fatal — the process is exiting either way — but are returned so the
// caller can log them.
func Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket file: %w\n\tpath: %s", err, path)
	}
	return nil
}
