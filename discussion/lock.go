package discussion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lock file protocol. The lock is a sibling of the log file
// (<id>.jsonl.lock); its presence means held, its absence means released.
// The payload is "<pid>:<epoch-ms>" and exists only for diagnostics.
const (
	defaultLockPoll     = 20 * time.Millisecond
	defaultLockStale    = 30 * time.Second
	defaultLockDeadline = 10 * time.Second
)

// ErrLockTimeout is returned when the lock could not be acquired before the
// deadline. The condition is transient; callers retry on the next trigger.
var ErrLockTimeout = errors.New("discussion: lock acquisition timed out")

// lockTimings tunes the acquisition loop. Production uses the defaults;
// tests shorten them.
type lockTimings struct {
	poll     time.Duration
	stale    time.Duration
	deadline time.Duration
}

func defaultLockTimings() lockTimings {
	return lockTimings{
		poll:     defaultLockPoll,
		stale:    defaultLockStale,
		deadline: defaultLockDeadline,
	}
}

// fileLock is a held cross-process lock. It is not reusable.
type fileLock struct {
	path string
	f    *os.File
}

// acquireLock takes the lock at path with create-exclusive semantics,
// polling while another process holds it. A lock whose file has not been
// touched for the stale threshold is treated as abandoned and reclaimed.
func acquireLock(ctx context.Context, path string, t lockTimings, logger *slog.Logger) (*fileLock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deadline := time.Now().Add(t.deadline)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			payload := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixMilli())
			//nolint:errcheck // payload is diagnostic only; the file's existence is the lock
			f.WriteString(payload)
			return &fileLock{path: path, f: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		// Another process holds it. Reclaim if the holder looks dead.
		if info, statErr := os.Stat(path); statErr == nil {
			if age := time.Since(info.ModTime()); age > t.stale {
				pid, held := readLockPayload(path)
				logger.Warn("reclaiming stale discussion lock",
					"path", path,
					"age", age.Round(time.Millisecond),
					"holder_pid", pid,
					"held_since_ms", held)
				//nolint:errcheck // remove may race with the owner's own release
				os.Remove(path)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.poll):
		}
	}
}

// release drops the lock. Best-effort on purpose: a close or unlink failure
// means another party already cleared the file (crash reclamation), and the
// append it protected has completed either way.
func (l *fileLock) release() {
	if l == nil {
		return
	}
	if l.f != nil {
		//nolint:errcheck // best-effort release
		l.f.Close()
	}
	//nolint:errcheck // best-effort release
	os.Remove(l.path)
}

// readLockPayload parses "<pid>:<epoch-ms>" out of an existing lock file.
// Zero values mean the payload was unreadable or torn.
func readLockPayload(path string) (pid int, epochMs int64) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, 0
	}
	parts := strings.SplitN(strings.TrimSpace(string(b)), ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	pid, _ = strconv.Atoi(parts[0])
	epochMs, _ = strconv.ParseInt(parts[1], 10, 64)
	return pid, epochMs
}
