// Package pidfile implements the single-instance PID file lock (spec
// §6): a plain-text file holding one integer followed by newline.
// Startup refuses to run if the named process is still live; a stale
// file is removed automatically. Grounded on the teacher's
// atomic-file-write discipline (pkg/tokencache-style temp-then-rename)
// applied to a new domain the teacher itself has no equivalent of,
// since none of the example repos run as a classic Unix daemon.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/tkaufmann/fossibot-mqtt-bridge-sub001/internal/bridgeerrors"
)

// File represents an acquired PID file lock, releasable once.
type File struct {
	path string
}

// Acquire creates path with the current process's PID, refusing if an
// existing file names a still-live process. A stale file (naming a
// dead process, or unparseable) is removed and replaced.
func Acquire(path string) (*File, error) {
	const op = "pidfile.Acquire"

	if existing, err := os.ReadFile(path); err == nil {
		if pid, ok := parsePID(existing); ok && processLive(pid) {
			return nil, bridgeerrors.NewFatal(op, fmt.Errorf("pid file %s names live process %d", path, pid))
		}
		if err := os.Remove(path); err != nil {
			return nil, bridgeerrors.NewFatal(op, fmt.Errorf("removing stale pid file %s: %w", path, err))
		}
	}

	tmp := path + ".tmp"
	body := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(tmp, body, 0600); err != nil {
		return nil, bridgeerrors.NewFatal(op, fmt.Errorf("writing %s: %w", tmp, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, bridgeerrors.NewFatal(op, fmt.Errorf("renaming %s to %s: %w", tmp, path, err))
	}

	return &File{path: path}, nil
}

// Release removes the PID file. Idempotent: a second call is a no-op.
func (f *File) Release() error {
	if f == nil {
		return nil
	}
	err := os.Remove(f.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func parsePID(data []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processLive probes liveness with signal 0, which delivers no signal
// but still reports ESRCH for a dead process.
func processLive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
