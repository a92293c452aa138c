// Package exchange implements the file-based request/response channel
// between the host and the sandbox worker loop. The filesystem area is the
// only state shared across the boundary: every write there goes through
// write-temp-then-rename so the other side never observes a partial file.
package exchange

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	requestsDirName  = "requests"
	responsesDirName = "responses"
	heartbeatName    = "heartbeat"
)

// Dirs describes the exchange area layout under a root shared by host and
// sandbox.
type Dirs struct {
	Requests  string
	Responses string
	Heartbeat string
}

// NewDirs derives the conventional layout from a shared root.
func NewDirs(root string) Dirs {
	return Dirs{
		Requests:  filepath.Join(root, requestsDirName),
		Responses: filepath.Join(root, responsesDirName),
		Heartbeat: filepath.Join(root, heartbeatName),
	}
}

// Ensure creates the request and response areas.
func (d Dirs) Ensure() error {
	for _, dir := range []string{d.Requests, d.Responses} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("exchange: create %s: %w", dir, err)
		}
	}
	return nil
}

// RequestPath returns the request file path for a run id.
func (d Dirs) RequestPath(id string) string {
	return filepath.Join(d.Requests, id+".json")
}

// ResponsePath returns the response file path for a run id.
func (d Dirs) ResponsePath(id string) string {
	return filepath.Join(d.Responses, id+".json")
}

// writeAtomic writes data to path via a temp file in the same directory and
// an atomic rename, so a concurrent reader sees either nothing or the whole
// record.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("exchange: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("exchange: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("exchange: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("exchange: rename: %w", err)
	}
	return nil
}

// WriteHeartbeat overwrites the heartbeat file with the current time as
// decimal epoch milliseconds.
func (d Dirs) WriteHeartbeat(now time.Time) error {
	return writeAtomic(d.Heartbeat, []byte(strconv.FormatInt(now.UnixMilli(), 10)+"\n"))
}

// ReadHeartbeat returns the last heartbeat time. A missing file reports a
// zero time and no error; the worker simply has not started yet.
func (d Dirs) ReadHeartbeat() (time.Time, error) {
	data, err := os.ReadFile(d.Heartbeat)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("exchange: read heartbeat: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("exchange: parse heartbeat: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// Alive reports whether the worker heartbeat was written within maxAge.
func (d Dirs) Alive(maxAge time.Duration) bool {
	ts, err := d.ReadHeartbeat()
	if err != nil || ts.IsZero() {
		return false
	}
	return time.Since(ts) <= maxAge
}
