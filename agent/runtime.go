package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/7788ken/multi-agent-discussion/agent/invoke"
	"github.com/7788ken/multi-agent-discussion/discussion"
	"github.com/7788ken/multi-agent-discussion/internal/metrics"
)

// 运行时默认参数。Poll 节奏与容量上限沿用守护进程的既定值，
// 重试退避按 30s 起步、120s 封顶。
// Runtime defaults. Derived intervals: scan = 2 x poll.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultCleanupInterval = 60 * time.Second

	DefaultMaxWatched    = 50
	DefaultMaxConcurrent = 5
	DefaultMaxQueueSize  = 20
	DefaultMaxRounds     = 5

	DefaultMaxRetries    = 3
	DefaultRetryBaseWait = 30 * time.Second
	DefaultRetryMaxWait  = 120 * time.Second

	DefaultCircuitThreshold = 5
	DefaultCircuitCooldown  = 60 * time.Second
)

// InvokeFunc runs the agent's underlying model once and reports the result.
// The runtime only cares about Result semantics, so tests can swap in fakes.
type InvokeFunc func(ctx context.Context, prompt, workingDir string) invoke.Result

// Archiver persists an ended discussion summary. Implementations must be
// safe for concurrent use.
type Archiver interface {
	Archive(ctx context.Context, st discussion.Status) error
}

// Config configures a Runtime.
type Config struct {
	// Name is the agent identity, e.g. "claude" or "codex".
	Name string

	// Store is the shared discussion log store.
	Store *discussion.Store

	// Invoke runs one model invocation. Required.
	Invoke InvokeFunc

	// PollInterval is the per-discussion poll period. The discovery scan
	// runs at twice this interval.
	PollInterval    time.Duration
	CleanupInterval time.Duration

	MaxWatched    int
	MaxConcurrent int
	MaxQueueSize  int
	MaxRounds     int

	MaxRetries    int
	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration

	CircuitThreshold int
	CircuitCooldown  time.Duration

	// Archiver receives ended discussions during cleanup. Optional.
	Archiver Archiver

	Logger  *slog.Logger
	Metrics *metrics.Exporter
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.MaxWatched <= 0 {
		c.MaxWatched = DefaultMaxWatched
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = DefaultRetryBaseWait
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = DefaultRetryMaxWait
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = DefaultCircuitThreshold
	}
	if c.CircuitCooldown <= 0 {
		c.CircuitCooldown = DefaultCircuitCooldown
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewExporter(metrics.DefaultConfig())
	}
	return c
}

// retryState tracks timeout retries for one discussion.
type retryState struct {
	attempts int // retries consumed so far, 1-indexed after first timeout
	round    int
	timer    *time.Timer
}

// pendingItem is a queued response attempt waiting for a concurrency slot.
type pendingItem struct {
	id         string
	round      int
	enqueuedAt time.Time
}

// Runtime 是单个代理的守护核心：发现讨论、轮询日志、判定轮次、
// 控制并发并驱动模型调用。所有状态由一把互斥锁保护。
// Runtime is one agent daemon: it discovers discussions, polls their logs,
// decides turns, and drives model invocations under concurrency control.
// A single mutex guards every state table; poll and response work happens
// in goroutines that re-acquire it briefly.
type Runtime struct {
	cfg     Config
	store   *discussion.Store
	logger  *slog.Logger
	metrics *metrics.Exporter

	mu      sync.Mutex
	running bool

	// watched maps discussion id to the last observed sequence number.
	watched map[string]int64
	// lastPolled feeds scan prioritization (longest-unpolled first).
	lastPolled map[string]time.Time
	// watchers maps discussion id to its poller's stop channel.
	watchers map[string]chan struct{}

	// responding holds discussions with an in-flight response attempt.
	responding map[string]bool
	// attemptedRounds records rounds already tried this process lifetime.
	attemptedRounds map[string]map[int]bool

	retries          map[string]*retryState
	failures         map[string]int
	circuitOpenUntil map[string]time.Time

	activeCount  int
	pendingQueue []pendingItem
	draining     bool

	done   chan struct{}
	loopWG sync.WaitGroup
}

// NewRuntime validates cfg and builds a stopped runtime.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("agent: store is required")
	}
	if cfg.Invoke == nil {
		return nil, fmt.Errorf("agent: invoke func is required")
	}
	cfg = cfg.withDefaults()
	return &Runtime{
		cfg:              cfg,
		store:            cfg.Store,
		logger:           cfg.Logger.With("agent", cfg.Name),
		metrics:          cfg.Metrics,
		watched:          make(map[string]int64),
		lastPolled:       make(map[string]time.Time),
		watchers:         make(map[string]chan struct{}),
		responding:       make(map[string]bool),
		attemptedRounds:  make(map[string]map[int]bool),
		retries:          make(map[string]*retryState),
		failures:         make(map[string]int),
		circuitOpenUntil: make(map[string]time.Time),
	}, nil
}

// Name returns the agent identity.
func (r *Runtime) Name() string { return r.cfg.Name }

// Start enumerates active discussions, spins up watchers for the highest
// priority ones, and launches the scan and cleanup loops. It returns
// immediately; Stop shuts the loops down.
func (r *Runtime) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("agent: already running")
	}
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.rewatch(r.prioritize())

	r.loopWG.Add(2)
	go r.scanLoop()
	go r.cleanupLoop()

	r.logger.Info("agent runtime started",
		"poll_interval", r.cfg.PollInterval,
		"max_watched", r.cfg.MaxWatched,
		"max_concurrent", r.cfg.MaxConcurrent,
		"max_rounds", r.cfg.MaxRounds)
	return nil
}

// Stop halts discovery and polling, cancels pending retry timers, and
// empties the queue. In-flight invocations are left to settle on their own
// timeouts; their results are appended if the log still accepts them.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.done)
	for id, stop := range r.watchers {
		close(stop)
		delete(r.watchers, id)
	}
	for id, rs := range r.retries {
		if rs.timer != nil {
			rs.timer.Stop()
		}
		delete(r.retries, id)
	}
	r.pendingQueue = nil
	r.metrics.SetWatchedDiscussions(0)
	r.metrics.SetQueueDepth(0)
	r.mu.Unlock()

	r.loopWG.Wait()
	r.logger.Info("agent runtime stopped")
}

// Snapshot is a point-in-time view of the runtime state tables.
type Snapshot struct {
	Watched     []string
	Responding  []string
	ActiveCount int
	QueueDepth  int
	Queue       []string
	Failures    map[string]int
	CircuitOpen []string
}

// Snapshot reports current state for status surfaces and tests.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		ActiveCount: r.activeCount,
		QueueDepth:  len(r.pendingQueue),
		Failures:    make(map[string]int, len(r.failures)),
	}
	for id := range r.watchers {
		s.Watched = append(s.Watched, id)
	}
	for id := range r.responding {
		s.Responding = append(s.Responding, id)
	}
	for _, it := range r.pendingQueue {
		s.Queue = append(s.Queue, it.id)
	}
	for id, n := range r.failures {
		s.Failures[id] = n
	}
	now := time.Now()
	for id, until := range r.circuitOpenUntil {
		if now.Before(until) {
			s.CircuitOpen = append(s.CircuitOpen, id)
		}
	}
	return s
}
