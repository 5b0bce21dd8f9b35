// Package lock provides mutual exclusion across concurrent installer
// invocations against the same install root. The lock is a file created
// with O_CREATE|O_EXCL; its contents identify the holder so a dead
// holder's lock can be reclaimed.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// FileName is the lock file name under the install root.
const FileName = "install.lock"

// DefaultPollInterval is how often a waiting acquirer re-checks the lock.
const DefaultPollInterval = 100 * time.Millisecond

// ErrLockBusy is returned when another live process holds the lock and the
// bounded wait elapsed.
var ErrLockBusy = errors.New("installation lock is held by another process")

// Record is the lock file contents identifying the holder.
type Record struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ProcessAlive reports whether the process with the given PID is running.
// Liveness checking is platform-specific, so it is injected as a
// capability rather than baked into the lock.
type ProcessAlive func(pid int) bool

// GopsutilAlive is the default liveness probe.
func GopsutilAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		// When the probe itself fails, assume the holder is alive. Never
		// reclaiming a live lock matters more than reclaiming promptly.
		return true
	}
	return exists
}

// Options configures lock acquisition.
type Options struct {
	// Wait bounds how long Acquire blocks before returning ErrLockBusy.
	// Zero means a single attempt.
	Wait time.Duration

	// PollInterval is the re-check interval while waiting.
	PollInterval time.Duration

	// Alive overrides the liveness probe. Defaults to GopsutilAlive.
	Alive ProcessAlive
}

// Guard represents a held lock. Release is idempotent and must run on
// every exit path, including failures.
type Guard struct {
	path string
	file *os.File
}

// Acquire takes the installation lock for dir, waiting up to opts.Wait for
// a live holder to release it. A holder whose process is confirmed dead is
// reclaimed immediately.
func Acquire(ctx context.Context, dir string, opts Options) (*Guard, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	alive := opts.Alive
	if alive == nil {
		alive = GopsutilAlive
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	path := filepath.Join(dir, FileName)
	deadline := time.Now().Add(opts.Wait)

	for {
		guard, err := tryAcquire(path)
		if err == nil {
			return guard, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		holder, ok := readRecord(path)
		if !ok || !alive(holder.PID) {
			reclaim(path, holder, ok)
			continue
		}

		if time.Now().After(deadline) {
			if holder, ok := readRecord(path); ok {
				return nil, fmt.Errorf("%w (pid %d since %s)",
					ErrLockBusy, holder.PID, holder.AcquiredAt.Format(time.RFC3339))
			}
			return nil, ErrLockBusy
		}

		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func tryAcquire(path string) (*Guard, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	record := Record{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err == nil {
		_, err = file.Write(data)
	}
	if err == nil {
		err = file.Sync()
	}
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock record: %w", err)
	}

	return &Guard{path: path, file: file}, nil
}

// reclaim removes the lock file only if it still carries the record that
// was judged dead (or is still unreadable). If the dead holder released
// and another process acquired in the meantime, the new holder's record
// no longer matches and the lock is left alone.
func reclaim(path string, dead Record, hadRecord bool) {
	current, ok := readRecord(path)
	if ok != hadRecord {
		return
	}
	if ok && (current.PID != dead.PID || !current.AcquiredAt.Equal(dead.AcquiredAt)) {
		return
	}
	os.Remove(path)
}

func readRecord(path string) (Record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, false
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil || record.PID <= 0 {
		return Record{}, false
	}
	return record, true
}

// Release drops the lock. Calling it more than once is safe.
func (g *Guard) Release() error {
	if g.file != nil {
		g.file.Close()
		g.file = nil
	}

	if g.path != "" {
		path := g.path
		g.path = ""
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}

	return nil
}
