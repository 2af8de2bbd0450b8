package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesCurrentPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pid")
	f, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer f.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("pid file content not an integer: %q", data)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestAcquireRemovesStalePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pid")
	// PID 999999 is essentially guaranteed not to be live.
	if err := os.WriteFile(path, []byte("999999\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	f, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer f.Release()
}

func TestAcquireRefusesWhenProcessIsLive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := Acquire(path); err == nil {
		t.Fatal("expected Acquire() to refuse when the PID file names the current (live) process")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.pid")
	f, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if err := f.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if err := f.Release(); err != nil {
		t.Fatalf("second Release() error: %v", err)
	}
}
