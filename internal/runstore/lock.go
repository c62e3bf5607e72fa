package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dirLockName      = ".server.lock"
	dirLockOwnerFile = "owner.json"
)

// DirLock marks a directory as owned by one server process.
type DirLock struct {
	lockDir string
}

type dirLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
	Listen    string `json:"listen,omitempty"`
}

// AcquireDirLock fails when another process holds the lock on dir. listen is
// recorded so the error can point at the running server.
func AcquireDirLock(dir, listen string) (DirLock, error) {
	target := strings.TrimSpace(dir)
	if target == "" {
		return DirLock{}, fmt.Errorf("directory is required")
	}
	if err := Mkdir(target); err != nil {
		return DirLock{}, err
	}

	lockDir := filepath.Join(target, dirLockName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner dirLockOwner
			if readErr := ReadJSON(filepath.Join(lockDir, dirLockOwnerFile), &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return DirLock{}, fmt.Errorf(
					"directory is locked: %s (pid=%d created_at=%s host=%s listen=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname, owner.Listen,
				)
			}
			return DirLock{}, fmt.Errorf("directory is locked: %s", target)
		}
		return DirLock{}, fmt.Errorf("acquire lock for %s: %w", target, err)
	}

	owner := dirLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
		Listen:    listen,
	}
	if err := WriteJSON(filepath.Join(lockDir, dirLockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return DirLock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}
	return DirLock{lockDir: lockDir}, nil
}

func (l DirLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, dirLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
