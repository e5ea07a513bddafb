package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gao-dev/gaodev/internal/model"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after Release, stat err=%v", err)
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	hostname, _ := os.Hostname()
	// A pid astronomically unlikely to be alive, recorded on this host.
	if err := os.WriteFile(path, []byte("999999\n"+hostname+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got: %v", err)
	}
	defer l.Release()

	gotPid, _, err := readOwner(path)
	if err != nil || gotPid != os.Getpid() {
		t.Fatalf("expected lock file rewritten with current pid, got pid=%d err=%v", gotPid, err)
	}
}

func TestAcquireRefusesWhenOwnerAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	hostname, _ := os.Hostname()
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"+hostname+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(path)
	if err == nil {
		t.Fatal("expected Acquire to refuse when recorded pid (self) is alive")
	}
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Code != "E002" {
		t.Fatalf("expected E002 ErrInstanceRunning, got %v", err)
	}
}
