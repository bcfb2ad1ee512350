// Package discussion implements the shared append-only discussion log:
// newline-delimited JSON records in per-discussion files, serialized across
// cooperating processes by a sibling lock file.
//
// Package discussion 实现共享的只追加讨论日志：每个讨论一个 JSONL 文件，
// 跨进程写入由同目录的锁文件串行化。
package discussion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

const (
	logSuffix    = ".jsonl"
	lockSuffix   = ".jsonl.lock"
	resultSuffix = "-result.md"

	// DefaultBaseDirName is the directory created under the process working
	// directory when no base directory is configured.
	DefaultBaseDirName = "discussions"
)

var (
	// ErrNotFound is returned when appending to a discussion that was never
	// created.
	ErrNotFound = errors.New("discussion: not found")
	// ErrAlreadyExists is returned when a freshly generated id collides with
	// an existing log file.
	ErrAlreadyExists = errors.New("discussion: already exists")
	// ErrEnded is returned when appending a second end record.
	ErrEnded = errors.New("discussion: already ended")
)

// Store manages the discussion logs under one base directory. It is safe
// for concurrent use; cross-process writers are serialized by the per-log
// lock file, not by the Store itself.
type Store struct {
	baseDir string
	logger  *slog.Logger
	lock    lockTimings

	mu   sync.Mutex
	subs map[int]chan string
	next int
}

// NewStore creates the base directory if needed and returns a store over it.
func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDirName
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger,
		lock:    defaultLockTimings(),
		subs:    make(map[int]chan string),
	}, nil
}

// BaseDir returns the directory the store operates on.
func (s *Store) BaseDir() string { return s.baseDir }

// NewID generates a collision-resistant short discussion id.
func NewID() string { return shortuuid.New() }

func (s *Store) logPath(id string) string  { return filepath.Join(s.baseDir, id+logSuffix) }
func (s *Store) lockPath(id string) string { return filepath.Join(s.baseDir, id+lockSuffix) }

// ResultPath returns the markdown result file path for a discussion.
func (s *Store) ResultPath(id string) string {
	return filepath.Join(s.baseDir, id+resultSuffix)
}

// Create opens a new discussion: it generates an id and writes the sole
// start record at seq 1 with create-exclusive semantics.
func (s *Store) Create(topic string, participants []string, context map[string]string) (string, Message, error) {
	id := NewID()
	m := NewStart(topic, participants, context)
	m.Seq = 1
	m.Ts = nowTs()

	line, err := EncodeLine(m)
	if err != nil {
		return "", Message{}, err
	}

	f, err := os.OpenFile(s.logPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", Message{}, ErrAlreadyExists
		}
		return "", Message{}, fmt.Errorf("create discussion %s: %w", id, err)
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil {
		return "", Message{}, fmt.Errorf("write start record: %w", werr)
	}
	if cerr != nil {
		return "", Message{}, fmt.Errorf("close discussion log: %w", cerr)
	}

	s.logger.Info("discussion created",
		"id", id,
		"topic", m.Topic,
		"participants", m.Participants)
	s.notify(id)
	return id, m, nil
}

// Append stamps and writes one record. The whole read-modify-append runs
// under the cross-process lock so sequence numbers stay unique and ordered:
//
//  1. acquire <id>.jsonl.lock (poll, reclaim stale, bounded deadline)
//  2. read the log, assign seq = lastSeq+1
//  3. a followup without a round gets max(response rounds)+1
//  4. stamp ts, append one line in a single write
//  5. release the lock
//
// The lock is never held across a child-process invocation; callers invoke
// their CLI first and append the finished record.
//
// Start records only enter through Create; appending one fails with
// ErrAlreadyExists.
func (s *Store) Append(ctx context.Context, id string, m Message) (Message, error) {
	if m.Type == TypeStart {
		return Message{}, fmt.Errorf("append start to %s: %w", id, ErrAlreadyExists)
	}
	lock, err := acquireLock(ctx, s.lockPath(id), s.lock, s.logger)
	if err != nil {
		return Message{}, fmt.Errorf("append to %s: %w", id, err)
	}
	defer lock.release()

	msgs, err := s.Read(id)
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, fmt.Errorf("append to %s: %w", id, ErrNotFound)
	}
	if m.Type == TypeEnd && HasEnd(msgs) {
		return Message{}, fmt.Errorf("append to %s: %w", id, ErrEnded)
	}

	m.Seq = msgs[len(msgs)-1].Seq + 1
	if m.Type == TypeFollowup && m.Round == 0 {
		m.Round = MaxResponseRound(msgs) + 1
	}
	m.Ts = nowTs()

	line, err := EncodeLine(m)
	if err != nil {
		return Message{}, err
	}
	f, err := os.OpenFile(s.logPath(id), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Message{}, fmt.Errorf("open %s for append: %w", id, err)
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil {
		return Message{}, fmt.Errorf("append record to %s: %w", id, werr)
	}
	if cerr != nil {
		return Message{}, fmt.Errorf("close %s after append: %w", id, cerr)
	}

	s.notify(id)
	return m, nil
}

// Read returns every parseable record of the discussion in file order.
// A missing file reads as an empty discussion, not an error; a torn last
// line fails to parse and is dropped by the codec.
func (s *Store) Read(id string) ([]Message, error) {
	f, err := os.Open(s.logPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open discussion %s: %w", id, err)
	}
	//nolint:errcheck // read-only descriptor
	defer f.Close()
	return DecodeAll(f), nil
}

// Exists reports whether the discussion log file is present.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.logPath(id))
	return err == nil
}

// Status derives the discussion summary from the log.
func (s *Store) Status(id string) (Status, error) {
	msgs, err := s.Read(id)
	if err != nil {
		return Status{}, err
	}
	if len(msgs) == 0 {
		return Status{}, fmt.Errorf("status of %s: %w", id, ErrNotFound)
	}
	return DeriveStatus(id, msgs), nil
}

// List enumerates every discussion under the base directory, newest
// activity first.
func (s *Store) List() ([]Status, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list discussions: %w", err)
	}
	var out []Status
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, logSuffix) || strings.HasSuffix(name, lockSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, logSuffix)
		st, err := s.Status(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// Watch polls the discussion and invokes fn with the tail of records whose
// seq exceeds the last observed one. The returned stop function is
// idempotent.
func (s *Store) Watch(id string, interval time.Duration, fn func(tail []Message)) (stop func()) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastSeq int64
		if msgs, err := s.Read(id); err == nil && len(msgs) > 0 {
			lastSeq = msgs[len(msgs)-1].Seq
		}
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				msgs, err := s.Read(id)
				if err != nil || len(msgs) == 0 {
					continue
				}
				if tail := tailAfter(msgs, lastSeq); len(tail) > 0 {
					lastSeq = msgs[len(msgs)-1].Seq
					fn(tail)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Subscribe returns a channel receiving the id of any discussion this store
// changed (create or append) and a cancel function. Notifications are
// dropped rather than block a slow subscriber.
func (s *Store) Subscribe() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.next
	s.next++
	ch := make(chan string, 16)
	s.subs[key] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[key]; ok {
			delete(s.subs, key)
			close(c)
		}
	}
}

func (s *Store) notify(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- id:
		default:
			// Subscriber behind; it re-reads the log anyway.
		}
	}
}

func tailAfter(msgs []Message, seq int64) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Seq <= seq {
			return msgs[i+1:]
		}
	}
	return msgs
}
