package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"warden-ai/internal/domain"
)

// DefaultLogLimit is the default number of bytes returned by Log when no
// limit is specified.
const DefaultLogLimit = 16 * 1024

// RegistryConfig holds configuration for the Registry.
type RegistryConfig struct {
	MaxSessions    int           // max resident sessions (default: 10)
	MaxOutputBytes int           // byte cap per session buffer (default: 1MB)
	TailBytes      int           // size of the tail window (default: 500)
	DefaultTimeout time.Duration // applied when StartOpts.Timeout is zero (default: none)
}

// StartOpts carries optional settings for Start.
type StartOpts struct {
	Dir     string
	Env     []string      // appended to the parent environment
	Timeout time.Duration // absolute wall-clock deadline; 0 = registry default
}

// sessionEntry holds the runtime state for a single background process.
type sessionEntry struct {
	session     domain.ProcessSession
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinClosed bool
	buf         *cappedBuffer
	cursor      int
	timer       *time.Timer
	killReq     bool
	timedOut    bool
	done        chan struct{}
}

// Registry supervises background process sessions spawned by tools inside
// the sandbox. Each process runs in its own process group so descendants
// can be signaled together. The registry is an injected instance; callers
// own its lifecycle and must call Shutdown when the sandbox stops.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	config   RegistryConfig
	logger   *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1024 * 1024
	}
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = 500
	}
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		config:   cfg,
		logger:   logger,
	}
}

// Start launches a background process and returns its session immediately.
// It fails with a limit error when the registry already holds MaxSessions
// resident sessions, running or not; Remove frees slots.
func (r *Registry) Start(command string, args []string, opts StartOpts) (*domain.ProcessSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.config.MaxSessions {
		return nil, domain.NewSubSystemError("process", "Registry.Start", domain.ErrLimitReached,
			fmt.Sprintf("%d/%d resident sessions", len(r.sessions), r.config.MaxSessions))
	}

	sessionID := r.newID()

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	// Own process group so the whole tree can be signaled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// One buffer for both streams: tool consumers never demultiplex.
	buf := newCappedBuffer(r.config.MaxOutputBytes, r.config.TailBytes)
	cmd.Stdout = buf
	cmd.Stderr = buf

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process registry: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process registry: start: %w", err)
	}

	session := domain.ProcessSession{
		ID:        sessionID,
		Command:   command,
		Args:      args,
		PID:       cmd.Process.Pid,
		WorkDir:   opts.Dir,
		Status:    domain.ProcessStatusRunning,
		StartedAt: time.Now(),
	}

	entry := &sessionEntry{
		session: session,
		cmd:     cmd,
		stdin:   stdinPipe,
		buf:     buf,
		done:    make(chan struct{}),
	}
	r.sessions[sessionID] = entry

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() { r.reapTimedOut(sessionID, timeout) })
	}

	go r.waitForCompletion(entry)

	r.logger.Info("process started",
		"session_id", sessionID, "command", command, "pid", session.PID)
	return &session, nil
}

// List returns summary entries for all resident sessions.
func (r *Registry) List() []domain.ProcessListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]domain.ProcessListEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, domain.ProcessListEntry{
			ID:        e.session.ID,
			Command:   e.session.Command,
			PID:       e.session.PID,
			Status:    e.session.Status,
			StartedAt: e.session.StartedAt,
			EndedAt:   e.session.EndedAt,
			ExitCode:  e.session.ExitCode,
		})
	}
	return entries
}

// Poll returns output appended since the previous poll and the current exit
// status. The cursor always advances to the current buffer end, so repeated
// polls after exit return the remaining output once and then empty strings.
func (r *Registry) Poll(sessionID string) (*domain.ProcessPollResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.NewSubSystemError("process", "Registry.Poll", domain.ErrNotFound, sessionID)
	}

	newOutput, end := entry.buf.ReadFromAndLen(entry.cursor)
	entry.cursor = end

	status := entry.session.Status
	return &domain.ProcessPollResult{
		SessionID: sessionID,
		Status:    status,
		Exited:    status != domain.ProcessStatusRunning,
		NewOutput: newOutput,
		ExitCode:  entry.session.ExitCode,
		Truncated: entry.buf.Truncated(),
	}, nil
}

// Log is a random-access read over the full buffer, independent of the poll
// cursor. Offset and limit are in bytes.
func (r *Registry) Log(sessionID string, offset, limit int) (*domain.ProcessLogView, error) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, domain.NewSubSystemError("process", "Registry.Log", domain.ErrNotFound, sessionID)
	}

	if limit <= 0 {
		limit = DefaultLogLimit
	}
	chunk, total := entry.buf.Slice(offset, limit)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}

	return &domain.ProcessLogView{
		SessionID: sessionID,
		Output:    chunk,
		Offset:    offset,
		TotalLen:  total,
		HasMore:   offset+len(chunk) < total,
		Tail:      entry.buf.Tail(),
	}, nil
}

// Write sends data to the process's stdin.
func (r *Registry) Write(sessionID, input string) error {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return domain.NewSubSystemError("process", "Registry.Write", domain.ErrNotFound, sessionID)
	}
	if entry.session.Status != domain.ProcessStatusRunning {
		r.mu.Unlock()
		return domain.NewSubSystemError("process", "Registry.Write", domain.ErrSessionExited, sessionID)
	}
	if entry.stdin == nil || entry.stdinClosed {
		r.mu.Unlock()
		return domain.NewSubSystemError("process", "Registry.Write", domain.ErrStdinClosed, sessionID)
	}
	stdin := entry.stdin
	r.mu.Unlock()

	if _, err := io.WriteString(stdin, input); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
			r.mu.Lock()
			entry.stdinClosed = true
			r.mu.Unlock()
			return domain.NewSubSystemError("process", "Registry.Write", domain.ErrStdinClosed, sessionID)
		}
		return fmt.Errorf("process registry: write: %w", err)
	}
	return nil
}

// Kill signals the session's process group, falling back to signaling the
// tracked child directly when group signaling fails (already reaped, PID
// reuse). A zero sig means SIGTERM.
func (r *Registry) Kill(sessionID string, sig syscall.Signal) error {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return domain.NewSubSystemError("process", "Registry.Kill", domain.ErrNotFound, sessionID)
	}
	if entry.session.Status != domain.ProcessStatusRunning {
		r.mu.Unlock()
		return domain.NewSubSystemError("process", "Registry.Kill", domain.ErrSessionExited, sessionID)
	}
	entry.killReq = true
	pid := entry.session.PID
	r.mu.Unlock()

	if sig == 0 {
		sig = syscall.SIGTERM
	}
	signalGroup(entry.cmd, pid, sig)

	r.logger.Info("process signaled", "session_id", sessionID, "signal", sig.String())
	return nil
}

// Remove force-kills the process if still running, cancels any pending
// timeout timer, and deletes the record. Sessions are never silently leaked:
// this and Shutdown are the only ways a record disappears.
func (r *Registry) Remove(sessionID string) error {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return domain.NewSubSystemError("process", "Registry.Remove", domain.ErrNotFound, sessionID)
	}
	running := entry.session.Status == domain.ProcessStatusRunning
	if running {
		entry.killReq = true
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	delete(r.sessions, sessionID)
	pid := entry.session.PID
	r.mu.Unlock()

	if running {
		signalGroup(entry.cmd, pid, syscall.SIGKILL)
		<-entry.done
	}

	r.logger.Info("process session removed", "session_id", sessionID)
	return nil
}

// Shutdown forcibly removes every resident session. Called when the sandbox
// stops.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Remove(id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("shutdown: remove session", "session_id", id, "error", err)
		}
	}
}

// Count returns the number of resident sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// --- internal ---

// reapTimedOut fires from a session's timeout timer. The process group gets
// SIGKILL and the buffer a marker, but only if the process is still alive.
func (r *Registry) reapTimedOut(sessionID string, timeout time.Duration) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok || entry.session.Status != domain.ProcessStatusRunning {
		r.mu.Unlock()
		return
	}
	entry.timedOut = true
	pid := entry.session.PID
	r.mu.Unlock()

	entry.buf.forceAppend([]byte(fmt.Sprintf("\n[process killed after timeout %s]\n", timeout)))
	signalGroup(entry.cmd, pid, syscall.SIGKILL)

	r.logger.Warn("process timed out", "session_id", sessionID, "timeout", timeout)
}

func (r *Registry) waitForCompletion(entry *sessionEntry) {
	err := entry.cmd.Wait()
	close(entry.done)

	r.mu.Lock()
	now := time.Now()
	entry.session.EndedAt = &now
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	switch {
	case entry.timedOut:
		entry.session.Status = domain.ProcessStatusTimedOut
	case entry.killReq:
		entry.session.Status = domain.ProcessStatusKilled
	default:
		entry.session.Status = domain.ProcessStatusExited
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			entry.session.ExitCode = &code
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				entry.session.Signal = ws.Signal().String()
			}
		}
	} else {
		code := 0
		entry.session.ExitCode = &code
	}
	entry.session.Truncated = entry.buf.Truncated()
	if entry.stdin != nil {
		entry.stdin.Close()
		entry.stdinClosed = true
	}
	status := entry.session.Status
	r.mu.Unlock()

	r.logger.Info("process finished", "session_id", entry.session.ID, "status", status)
}

// signalGroup sends sig to the process group of pid, falling back to the
// tracked child when the group is gone.
func signalGroup(cmd *exec.Cmd, pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(sig)
		}
	}
}

func (r *Registry) newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
