package discussion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testTimings() lockTimings {
	return lockTimings{
		poll:     5 * time.Millisecond,
		stale:    500 * time.Millisecond,
		deadline: 200 * time.Millisecond,
	}
}

func TestAcquireLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl.lock")

	l1, err := acquireLock(context.Background(), path, testTimings(), nil)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := acquireLock(context.Background(), path, testTimings(), nil); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second acquire: want ErrLockTimeout, got %v", err)
	}

	l1.release()

	l2, err := acquireLock(context.Background(), path, testTimings(), nil)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	l2.release()
}

func TestAcquireLock_PayloadAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl.lock")

	l, err := acquireLock(context.Background(), path, testTimings(), nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	pid, epochMs := readLockPayload(path)
	if pid != os.Getpid() {
		t.Errorf("payload pid = %d, want %d", pid, os.Getpid())
	}
	if epochMs <= 0 {
		t.Errorf("payload epoch = %d, want > 0", epochMs)
	}

	l.release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release: %v", err)
	}

	// Releasing twice must be harmless.
	l.release()
}

func TestAcquireLock_ReclaimsStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl.lock")
	if err := os.WriteFile(path, []byte("4242:123"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	l, err := acquireLock(context.Background(), path, testTimings(), nil)
	if err != nil {
		t.Fatalf("acquire over stale lock: %v", err)
	}
	defer l.release()

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("stale reclamation took %v, expected immediate", elapsed)
	}
}

func TestAcquireLock_RespectsFreshLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl.lock")
	if err := os.WriteFile(path, []byte("4242:123"), 0o644); err != nil {
		t.Fatal(err)
	}

	tm := testTimings()
	start := time.Now()
	_, err := acquireLock(context.Background(), path, tm, nil)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < tm.deadline {
		t.Errorf("gave up after %v, before the %v deadline", elapsed, tm.deadline)
	}
}

func TestAcquireLock_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl.lock")
	if err := os.WriteFile(path, []byte("held"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	tm := testTimings()
	tm.deadline = 5 * time.Second
	_, err := acquireLock(ctx, path, tm, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestReadLockPayload_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl.lock")

	pid, ms := readLockPayload(path) // missing file
	if pid != 0 || ms != 0 {
		t.Errorf("missing file: got %d:%d, want zeros", pid, ms)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	pid, ms = readLockPayload(path)
	if pid != 0 || ms != 0 {
		t.Errorf("garbage payload: got %d:%d, want zeros", pid, ms)
	}
}
