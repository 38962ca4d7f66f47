// Package lock implements a pidfile guard so that at most one collector
// process writes a given database at a time. The lock file sits next to
// the database as "<db>.lock" and holds "<pid>\t<unix_seconds>\n".
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// FileLock is an exclusive advisory lock backed by a pidfile.
type FileLock struct {
	path string
	pid  int
	log  zerolog.Logger
	held bool
}

// ForDB returns the lock guarding the database at dbPath.
func ForDB(dbPath string, log zerolog.Logger) *FileLock {
	return &FileLock{
		path: dbPath + ".lock",
		pid:  os.Getpid(),
		log:  log.With().Str("lock", dbPath+".lock").Logger(),
	}
}

// Path returns the lock file's location.
func (l *FileLock) Path() string { return l.path }

// Acquire takes the lock. A lock file belonging to a live process is
// respected; a stale file left by a dead process is overwritten.
func (l *FileLock) Acquire() error {
	if holder, alive := l.currentHolder(); alive {
		return fmt.Errorf("database locked by running process %d (%s)", holder, l.path)
	} else if holder > 0 {
		l.log.Warn().Int("stale_pid", holder).Msg("removing stale lock file")
	}

	body := fmt.Sprintf("%d\t%d\n", l.pid, time.Now().Unix())
	if err := os.WriteFile(l.path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	l.held = true
	l.log.Debug().Int("pid", l.pid).Msg("lock acquired")
	return nil
}

// Release removes the lock file if this process holds it.
func (l *FileLock) Release() {
	if !l.held {
		return
	}
	if holder, _ := l.currentHolder(); holder != l.pid {
		l.log.Warn().Int("holder", holder).Msg("lock file no longer ours, leaving it")
		l.held = false
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.log.Warn().Err(err).Msg("failed to remove lock file")
	}
	l.held = false
}

// currentHolder parses the lock file and reports the recorded pid and
// whether that process is still alive. A missing or malformed file
// reports (0, false).
func (l *FileLock) currentHolder() (int, bool) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, pidAlive(pid)
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
