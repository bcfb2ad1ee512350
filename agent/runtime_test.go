package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/7788ken/multi-agent-discussion/agent/invoke"
	"github.com/7788ken/multi-agent-discussion/discussion"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuntimeStore(t *testing.T) *discussion.Store {
	t.Helper()
	st, err := discussion.NewStore(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return st
}

// okOutput is a well-formed agent reply for name.
func okOutput(name string) string {
	return "AGENT: " + name + "\n\nThe approach looks right for this codebase.\nopinion: agree\nconfidence: 0.9"
}

func okResult(name string) invoke.Result {
	return invoke.Result{OK: true, Output: okOutput(name), Duration: time.Millisecond}
}

func timeoutResult() invoke.Result {
	return invoke.Result{OK: false, Error: invoke.TimeoutError, ExitCode: -1, TimedOut: true}
}

// scriptedInvoker returns results in order, repeating the last one forever,
// and counts calls.
type scriptedInvoker struct {
	calls   atomic.Int64
	results []invoke.Result
}

func (f *scriptedInvoker) fn(context.Context, string, string) invoke.Result {
	n := f.calls.Add(1)
	i := int(n) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

func newTestRuntime(t *testing.T, name string, st *discussion.Store, fn InvokeFunc, mutate func(*Config)) *Runtime {
	t.Helper()
	cfg := Config{
		Name:            name,
		Store:           st,
		Invoke:          fn,
		PollInterval:    10 * time.Millisecond,
		CleanupInterval: 25 * time.Millisecond,
		Logger:          quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return rt
}

// startBare marks the runtime running without launching the discovery
// loops, for tests that drive admission directly.
func startBare(t *testing.T, rt *Runtime) {
	t.Helper()
	rt.mu.Lock()
	rt.running = true
	rt.done = make(chan struct{})
	rt.mu.Unlock()
	t.Cleanup(rt.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func mustRead(t *testing.T, st *discussion.Store, id string) []discussion.Message {
	t.Helper()
	msgs, err := st.Read(id)
	if err != nil {
		t.Fatalf("Read(%s): %v", id, err)
	}
	return msgs
}

func countResponses(msgs []discussion.Message, from string, round int) int {
	n := 0
	for _, m := range msgs {
		if m.Type == discussion.TypeResponse && m.From == from && (round == 0 || m.Round == round) {
			n++
		}
	}
	return n
}

func hasStatus(msgs []discussion.Message, from string, kind discussion.StatusKind) bool {
	for _, m := range msgs {
		if m.Type == discussion.TypeStatus && m.From == from && m.Status == kind {
			return true
		}
	}
	return false
}

func TestRuntime_RespondsAndAdvancesRounds(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Use REST or GraphQL?", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inv := &scriptedInvoker{results: []invoke.Result{okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, func(c *Config) { c.MaxRounds = 2 })
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 2*time.Second, "round 1 response", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 1) == 1
	})

	msgs := mustRead(t, st, id)
	if !hasStatus(msgs, "alice", discussion.StatusThinking) {
		t.Error("expected a thinking status before the response")
	}
	for _, m := range msgs {
		if m.Type == discussion.TypeResponse && m.From == "alice" {
			if m.Opinion != discussion.OpinionAgree {
				t.Errorf("opinion = %q, want agree", m.Opinion)
			}
			if m.Confidence != 0.9 {
				t.Errorf("confidence = %v, want 0.9", m.Confidence)
			}
			if !strings.Contains(m.Content, "已达成一致") {
				t.Errorf("agree response missing consensus closure: %q", m.Content)
			}
		}
	}

	// Waiting on the peer: no double response for round 1.
	time.Sleep(60 * time.Millisecond)
	if got := countResponses(mustRead(t, st, id), "alice", 1); got != 1 {
		t.Fatalf("round 1 responses = %d, want 1", got)
	}

	if _, err := st.Append(context.Background(), id,
		discussion.NewResponse("bob", 1, discussion.OpinionAgree, "AGENT:bob fine", 0.8)); err != nil {
		t.Fatalf("append bob round 1: %v", err)
	}

	waitFor(t, 2*time.Second, "round 2 response", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 2) == 1
	})

	if _, err := st.Append(context.Background(), id,
		discussion.NewResponse("bob", 2, discussion.OpinionAgree, "AGENT:bob done", 0.8)); err != nil {
		t.Fatalf("append bob round 2: %v", err)
	}

	// MaxRounds is 2: the complete round must not advance to 3.
	time.Sleep(80 * time.Millisecond)
	if got := countResponses(mustRead(t, st, id), "alice", 3); got != 0 {
		t.Fatalf("round 3 responses = %d, want 0", got)
	}
}

func TestRuntime_ScanDiscoversNewDiscussions(t *testing.T) {
	st := newRuntimeStore(t)
	inv := &scriptedInvoker{results: []invoke.Result{okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	id, _, err := st.Create("Schema migrations", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, 2*time.Second, "response in discovered discussion", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 1) == 1
	})
}

func TestRuntime_IgnoresForeignDiscussions(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Topic", []string{"bob", "carol"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inv := &scriptedInvoker{results: []invoke.Result{okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	time.Sleep(80 * time.Millisecond)
	if inv.calls.Load() != 0 {
		t.Fatalf("invoker called %d times for a discussion without us", inv.calls.Load())
	}
	if got := len(rt.Snapshot().Watched); got != 0 {
		t.Fatalf("watched = %d, want 0", got)
	}
	_ = id
}

func TestRuntime_TargetedFollowupSuppression(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Cache strategy", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inv := &scriptedInvoker{results: []invoke.Result{okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 2*time.Second, "round 1 response", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 1) == 1
	})

	if _, err := st.Append(context.Background(), id, discussion.NewFollowup("bob only: numbers?", "bob")); err != nil {
		t.Fatalf("append targeted followup: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := countResponses(mustRead(t, st, id), "alice", 0); got != 1 {
		t.Fatalf("responses after foreign-targeted followup = %d, want 1", got)
	}

	if _, err := st.Append(context.Background(), id, discussion.NewFollowup("alice, your take?", "alice")); err != nil {
		t.Fatalf("append own-targeted followup: %v", err)
	}
	waitFor(t, 2*time.Second, "followup answer", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 2) == 1
	})
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []discussion.Status
}

func (a *fakeArchiver) Archive(_ context.Context, st discussion.Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, st)
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.archived)
}

func TestRuntime_CleanupOnEnd(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Wrap up", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	arch := &fakeArchiver{}
	inv := &scriptedInvoker{results: []invoke.Result{okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, func(c *Config) { c.Archiver = arch })
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 2*time.Second, "round 1 response", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 1) == 1
	})

	if _, err := st.Append(context.Background(), id, discussion.NewEnd("ship it", true)); err != nil {
		t.Fatalf("append end: %v", err)
	}

	waitFor(t, 2*time.Second, "watcher release", func() bool {
		return len(rt.Snapshot().Watched) == 0
	})
	waitFor(t, time.Second, "archive call", func() bool {
		return arch.count() == 1
	})

	arch.mu.Lock()
	got := arch.archived[0]
	arch.mu.Unlock()
	if got.Active {
		t.Error("archived status still active")
	}
	if got.Decision != "ship it" || !got.Consensus {
		t.Errorf("archived decision = %q consensus = %v", got.Decision, got.Consensus)
	}

	rt.mu.Lock()
	_, attempted := rt.attemptedRounds[id]
	_, retained := rt.watched[id]
	rt.mu.Unlock()
	if attempted || retained {
		t.Error("cleanup left per-discussion state behind")
	}
}

func TestOffer_FlowControl(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Flow control", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	release := make(chan struct{})
	blocking := func(context.Context, string, string) invoke.Result {
		<-release
		return okResult("alice")
	}
	rt := newTestRuntime(t, "alice", st, blocking, nil)
	startBare(t, rt)

	cand := Candidate{Round: 1}
	if err := rt.offer(id, cand); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	waitFor(t, time.Second, "attempt in flight", func() bool {
		return rt.Snapshot().ActiveCount == 1
	})

	if err := rt.offer(id, cand); !errors.Is(err, ErrResponding) {
		t.Fatalf("second offer = %v, want ErrResponding", err)
	}
	if got := rt.Snapshot().ActiveCount; got != 1 {
		t.Fatalf("active after rejected offer = %d, want 1", got)
	}

	close(release)
	waitFor(t, 2*time.Second, "attempt settled", func() bool {
		s := rt.Snapshot()
		return s.ActiveCount == 0 && len(s.Responding) == 0
	})

	if err := rt.offer(id, cand); !errors.Is(err, ErrRoundAttempted) {
		t.Fatalf("repeat round offer = %v, want ErrRoundAttempted", err)
	}
}

func TestOffer_QueueSaturationEvictsOldest(t *testing.T) {
	st := newRuntimeStore(t)
	ids := make([]string, 5)
	for i := range ids {
		id, _, err := st.Create(fmt.Sprintf("topic %d", i), []string{"alice", "bob"}, nil)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids[i] = id
	}

	release := make(chan struct{})
	blocking := func(context.Context, string, string) invoke.Result {
		<-release
		return okResult("alice")
	}
	rt := newTestRuntime(t, "alice", st, blocking, func(c *Config) {
		c.MaxConcurrent = 1
		c.MaxQueueSize = 3
	})
	startBare(t, rt)

	if err := rt.offer(ids[0], Candidate{Round: 1}); err != nil {
		t.Fatalf("offer %s: %v", ids[0], err)
	}
	waitFor(t, time.Second, "slot occupied", func() bool {
		return rt.Snapshot().ActiveCount == 1
	})

	for _, id := range ids[1:4] {
		if err := rt.offer(id, Candidate{Round: 1}); !errors.Is(err, ErrQueued) {
			t.Fatalf("offer %s = %v, want ErrQueued", id, err)
		}
	}
	// Queue dedup holds the depth.
	if err := rt.offer(ids[2], Candidate{Round: 1}); !errors.Is(err, ErrQueued) {
		t.Fatalf("duplicate offer = %v, want ErrQueued", err)
	}
	if got := rt.Snapshot().QueueDepth; got != 3 {
		t.Fatalf("queue depth = %d, want 3", got)
	}

	// Full queue: admitting the fifth evicts the oldest (ids[1]).
	if err := rt.offer(ids[4], Candidate{Round: 1}); !errors.Is(err, ErrQueued) {
		t.Fatalf("offer %s = %v, want ErrQueued", ids[4], err)
	}
	s := rt.Snapshot()
	if got, want := fmt.Sprint(s.Queue), fmt.Sprint([]string{ids[2], ids[3], ids[4]}); got != want {
		t.Fatalf("queue = %v, want %v", got, want)
	}

	close(release)
	waitFor(t, 3*time.Second, "queue drained", func() bool {
		s := rt.Snapshot()
		return s.ActiveCount == 0 && s.QueueDepth == 0
	})

	waitFor(t, 2*time.Second, "drained discussions answered", func() bool {
		for _, id := range []string{ids[0], ids[2], ids[3], ids[4]} {
			if countResponses(mustRead(t, st, id), "alice", 1) != 1 {
				return false
			}
		}
		return true
	})
	if got := countResponses(mustRead(t, st, ids[1]), "alice", 0); got != 0 {
		t.Fatalf("evicted discussion got %d responses, want 0", got)
	}
}

func TestOffer_CircuitBreaker(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Flaky", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	failing := func(context.Context, string, string) invoke.Result {
		return invoke.Result{OK: false, Error: "boom", ExitCode: 1}
	}
	rt := newTestRuntime(t, "alice", st, failing, func(c *Config) {
		c.CircuitThreshold = 3
		c.CircuitCooldown = 60 * time.Millisecond
	})
	startBare(t, rt)

	for round := 1; round <= 3; round++ {
		if err := rt.offer(id, Candidate{Round: round}); err != nil {
			t.Fatalf("offer round %d: %v", round, err)
		}
		want := round
		waitFor(t, time.Second, "failure recorded", func() bool {
			return rt.Snapshot().Failures[id] == want
		})
	}

	s := rt.Snapshot()
	if len(s.CircuitOpen) != 1 || s.CircuitOpen[0] != id {
		t.Fatalf("circuit open = %v, want [%s]", s.CircuitOpen, id)
	}
	if err := rt.offer(id, Candidate{Round: 9}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("offer while open = %v, want ErrCircuitOpen", err)
	}

	// Error records surfaced each failure.
	errorCount := 0
	for _, m := range mustRead(t, st, id) {
		if m.Type == discussion.TypeError {
			errorCount++
		}
	}
	if errorCount != 3 {
		t.Fatalf("error records = %d, want 3", errorCount)
	}

	time.Sleep(80 * time.Millisecond)
	if err := rt.offer(id, Candidate{Round: 9}); err != nil {
		t.Fatalf("offer after cooldown = %v, want admission", err)
	}
	waitFor(t, time.Second, "post-cooldown attempt settled", func() bool {
		return rt.Snapshot().ActiveCount == 0
	})
	// The cooldown expiry reset the failure count before the new attempt.
	if got := rt.Snapshot().Failures[id]; got != 1 {
		t.Fatalf("failures after reset + one failure = %d, want 1", got)
	}
}

func TestRuntime_TimeoutRetryRecovers(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Slow model", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inv := &scriptedInvoker{results: []invoke.Result{timeoutResult(), okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, func(c *Config) {
		c.RetryBaseWait = 15 * time.Millisecond
		c.RetryMaxWait = 60 * time.Millisecond
	})
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 3*time.Second, "recovered response", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 1) == 1
	})

	msgs := mustRead(t, st, id)
	if !hasStatus(msgs, "alice", discussion.StatusRetrying) {
		t.Error("expected a retrying status between attempts")
	}
	var retryText string
	for _, m := range msgs {
		if m.Type == discussion.TypeStatus && m.Status == discussion.StatusRetrying {
			retryText = m.Content
		}
	}
	if !strings.Contains(retryText, "1/3") {
		t.Errorf("retry status %q missing attempt counter", retryText)
	}
	if got := inv.calls.Load(); got != 2 {
		t.Fatalf("invocations = %d, want 2", got)
	}

	rt.mu.Lock()
	_, pending := rt.retries[id]
	attempted := rt.attemptedRounds[id][1]
	rt.mu.Unlock()
	if pending {
		t.Error("retry state not cleared after success")
	}
	if !attempted {
		t.Error("attemptedRounds missing the recovered round")
	}
}

func TestRuntime_TimeoutRetryExhausts(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Dead model", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	inv := &scriptedInvoker{results: []invoke.Result{timeoutResult()}}
	rt := newTestRuntime(t, "alice", st, inv.fn, func(c *Config) {
		c.MaxRetries = 2
		c.RetryBaseWait = 10 * time.Millisecond
		c.RetryMaxWait = 20 * time.Millisecond
	})
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 3*time.Second, "exhaustion error record", func() bool {
		for _, m := range mustRead(t, st, id) {
			if m.Type == discussion.TypeError && strings.Contains(m.Error, "Timeout after 2 retries") {
				return true
			}
		}
		return false
	})

	if got := inv.calls.Load(); got != 3 {
		t.Fatalf("invocations = %d, want 3 (original + 2 retries)", got)
	}

	// The exhausted round stays attempted: no further invocations.
	time.Sleep(60 * time.Millisecond)
	if got := inv.calls.Load(); got != 3 {
		t.Fatalf("invocations after exhaustion = %d, want 3", got)
	}
	rt.mu.Lock()
	_, pending := rt.retries[id]
	rt.mu.Unlock()
	if pending {
		t.Error("retry state not cleared after exhaustion")
	}
}

func TestRuntime_IdentityRetryOnce(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Who are you", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	imposter := invoke.Result{OK: true, Output: "AGENT: bob\n\nWrong hat."}
	inv := &scriptedInvoker{results: []invoke.Result{imposter, okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 2*time.Second, "validated response", func() bool {
		return countResponses(mustRead(t, st, id), "alice", 1) == 1
	})
	if got := inv.calls.Load(); got != 2 {
		t.Fatalf("invocations = %d, want 2", got)
	}
	if !hasStatus(mustRead(t, st, id), "alice", discussion.StatusRetrying) {
		t.Error("expected a retrying status for the identity retry")
	}
}

func TestRuntime_IdentityFailureTwiceIsError(t *testing.T) {
	st := newRuntimeStore(t)
	id, _, err := st.Create("Stubborn imposter", []string{"alice", "bob"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	imposter := invoke.Result{OK: true, Output: "AGENT: bob\n\nStill the wrong hat."}
	inv := &scriptedInvoker{results: []invoke.Result{imposter}}
	rt := newTestRuntime(t, "alice", st, inv.fn, nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, 2*time.Second, "identity error record", func() bool {
		for _, m := range mustRead(t, st, id) {
			if m.Type == discussion.TypeError && strings.Contains(m.Error, "identity check failed") {
				return true
			}
		}
		return false
	})
	if got := inv.calls.Load(); got != 2 {
		t.Fatalf("invocations = %d, want 2", got)
	}
	if got := countResponses(mustRead(t, st, id), "alice", 0); got != 0 {
		t.Fatalf("responses = %d, want 0", got)
	}
}

func TestRuntime_MaxWatchedCap(t *testing.T) {
	st := newRuntimeStore(t)
	for i := 0; i < 4; i++ {
		if _, _, err := st.Create(fmt.Sprintf("topic %d", i), []string{"alice", "bob"}, nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	// Invoker that never succeeds keeps the logs quiet.
	idle := func(context.Context, string, string) invoke.Result {
		return invoke.Result{OK: false, Error: "unavailable", ExitCode: 1}
	}
	rt := newTestRuntime(t, "alice", st, idle, func(c *Config) { c.MaxWatched = 2 })
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer rt.Stop()

	waitFor(t, time.Second, "watcher set populated", func() bool {
		return len(rt.Snapshot().Watched) > 0
	})
	time.Sleep(60 * time.Millisecond)
	if got := len(rt.Snapshot().Watched); got > 2 {
		t.Fatalf("watched = %d, want <= 2", got)
	}
}

func TestRuntime_StopIsIdempotent(t *testing.T) {
	st := newRuntimeStore(t)
	inv := &scriptedInvoker{results: []invoke.Result{okResult("alice")}}
	rt := newTestRuntime(t, "alice", st, inv.fn, nil)
	if err := rt.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt.Stop()
	rt.Stop()

	if err := rt.offer("whatever", Candidate{Round: 1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("offer after stop = %v, want ErrStopped", err)
	}
	s := rt.Snapshot()
	if len(s.Watched) != 0 || s.QueueDepth != 0 || s.ActiveCount != 0 {
		t.Fatalf("state after stop = %+v, want empty", s)
	}
}

func TestNewRuntime_Validation(t *testing.T) {
	st := newRuntimeStore(t)
	ok := func(context.Context, string, string) invoke.Result { return okResult("x") }

	if _, err := NewRuntime(Config{Store: st, Invoke: ok}); err == nil {
		t.Error("missing name accepted")
	}
	if _, err := NewRuntime(Config{Name: "alice", Invoke: ok}); err == nil {
		t.Error("missing store accepted")
	}
	if _, err := NewRuntime(Config{Name: "alice", Store: st}); err == nil {
		t.Error("missing invoker accepted")
	}

	rt, err := NewRuntime(Config{Name: "alice", Store: st, Invoke: ok, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if rt.cfg.PollInterval != DefaultPollInterval || rt.cfg.MaxRounds != DefaultMaxRounds {
		t.Error("defaults not applied")
	}
}
