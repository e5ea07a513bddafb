// Package lock implements the instance advisory lock: at most one GAO-Dev
// orchestrator may own a project tree at a time. It wraps an OS-level
// flock and additionally records the owning pid+host so a stale lock left
// behind by a crashed process can be safely reclaimed instead of
// permanently wedging a project tree.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gao-dev/gaodev/internal/model"
)

// Lock is a held instance lock; keep it open for the orchestrator's
// lifetime and call Release on shutdown.
type Lock struct {
	file *os.File
}

// Acquire takes the exclusive instance lock at path, recording the current
// pid and hostname. If a lock file already exists and its recorded pid is
// still alive on the recorded host, Acquire returns model.ErrInstanceRunning.
// If the pid is not alive (or the file is unreadable/empty), the lock is
// reclaimed in place.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, model.Precondition("E002", "open instance lock file", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		// Someone else holds the OS-level flock right now.
		f.Close()
		return nil, model.ErrInstanceRunning
	}

	pid, host, readErr := readOwner(path)
	if readErr == nil && pid != 0 && isAlive(pid, host) {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, model.ErrInstanceRunning
	}

	hostname, _ := os.Hostname()
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), hostname)

	return &Lock{file: f}, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	name := l.file.Name()
	l.file.Close()
	os.Remove(name)
}

func readOwner(path string) (pid int, host string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return 0, "", fmt.Errorf("empty lock file")
	}
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, "", err
	}
	if len(lines) > 1 {
		host = strings.TrimSpace(lines[1])
	}
	return pid, host, nil
}

// isAlive reports whether pid is a live process on this host. Liveness can
// only be checked when host matches the current machine's hostname; a
// lock recorded from a different host is treated as "possibly alive" since
// there is no way to probe it, per the resolved open question.
func isAlive(pid int, host string) bool {
	if pid <= 0 {
		return false
	}
	currentHost, _ := os.Hostname()
	if host != "" && host != currentHost {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) == nil
}
