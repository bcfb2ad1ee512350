package agent

import (
	"errors"
	"time"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// 以下哨兵错误全部属于流控：offer 返回它们表示“这次不响应”，
// 属正常节奏控制，调用方只记 Debug 日志。
// Flow-control sentinels returned by offer. They mean "not this time",
// never "something broke", and are logged at debug level only.
var (
	// ErrCircuitOpen means the discussion's local circuit breaker is in
	// cooldown after repeated failures.
	ErrCircuitOpen = errors.New("agent: circuit open")

	// ErrQueued means the attempt was parked because every concurrency
	// slot is busy. The queue drains as slots free up.
	ErrQueued = errors.New("agent: queued for free slot")

	// ErrResponding means a response for this discussion is already in
	// flight.
	ErrResponding = errors.New("agent: response already in flight")

	// ErrRoundAttempted means this round was already tried during this
	// process lifetime.
	ErrRoundAttempted = errors.New("agent: round already attempted")

	// ErrStopped means the runtime is shutting down.
	ErrStopped = errors.New("agent: runtime stopped")
)

// offer 是响应尝试的唯一入口。依次检查：熔断、并发容量（满则入队，
// 队满先踢最老）、单讨论串行锁、轮次去重；全部通过才真正起调用。
// offer admits one response attempt. The checks run in a fixed order:
// circuit, capacity (full queues evict their oldest entry), per-discussion
// serialization, round dedup. Passing all of them claims a slot, marks the
// round attempted, and launches the response goroutine.
func (r *Runtime) offer(id string, cand Candidate) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrStopped
	}

	if until, ok := r.circuitOpenUntil[id]; ok {
		if time.Now().Before(until) {
			r.mu.Unlock()
			return ErrCircuitOpen
		}
		delete(r.circuitOpenUntil, id)
		r.failures[id] = 0
		r.logger.Info("circuit cooldown elapsed, closing", "discussion", id)
	}

	if r.activeCount >= r.cfg.MaxConcurrent {
		for _, it := range r.pendingQueue {
			if it.id == id {
				r.mu.Unlock()
				return ErrQueued
			}
		}
		if len(r.pendingQueue) >= r.cfg.MaxQueueSize {
			evicted := r.pendingQueue[0]
			r.pendingQueue = append(r.pendingQueue[:0], r.pendingQueue[1:]...)
			r.metrics.RecordEviction()
			r.logger.Warn("pending queue full, evicting oldest",
				"evicted", evicted.id,
				"queued_for", time.Since(evicted.enqueuedAt),
				"admitting", id)
		}
		r.pendingQueue = append(r.pendingQueue, pendingItem{id: id, round: cand.Round, enqueuedAt: time.Now()})
		r.metrics.SetQueueDepth(len(r.pendingQueue))
		r.mu.Unlock()
		return ErrQueued
	}

	r.activeCount++

	if r.responding[id] {
		r.activeCount--
		r.drainLocked()
		r.mu.Unlock()
		return ErrResponding
	}
	if r.attemptedRounds[id][cand.Round] {
		r.activeCount--
		r.drainLocked()
		r.mu.Unlock()
		return ErrRoundAttempted
	}

	r.responding[id] = true
	set := r.attemptedRounds[id]
	if set == nil {
		set = make(map[int]bool)
		r.attemptedRounds[id] = set
	}
	set[cand.Round] = true
	r.metrics.SetActiveResponses(r.activeCount)
	r.mu.Unlock()

	go r.respond(id, cand)
	return nil
}

// finalize releases the per-discussion lock and the concurrency slot, and
// feeds the circuit breaker. Every admitted attempt ends here exactly once.
func (r *Runtime) finalize(id string, success bool) {
	r.mu.Lock()
	delete(r.responding, id)
	if r.activeCount > 0 {
		r.activeCount--
	}
	if success {
		delete(r.failures, id)
		delete(r.circuitOpenUntil, id)
	} else {
		r.failures[id]++
		if r.failures[id] >= r.cfg.CircuitThreshold {
			until := time.Now().Add(r.cfg.CircuitCooldown)
			r.circuitOpenUntil[id] = until
			r.metrics.RecordCircuitOpen()
			r.logger.Warn("local circuit opened",
				"discussion", id,
				"failures", r.failures[id],
				"cooldown", r.cfg.CircuitCooldown)
		}
	}
	r.metrics.SetActiveResponses(r.activeCount)
	r.drainLocked()
	r.mu.Unlock()
}

// drainLocked starts a drain pass when slots are free and items wait.
// The draining flag stops recursive passes: re-offers from the drain
// goroutine run finalize/offer, which would otherwise drain again.
// Callers must hold r.mu.
func (r *Runtime) drainLocked() {
	if r.draining || !r.running {
		return
	}
	free := r.cfg.MaxConcurrent - r.activeCount
	if free <= 0 || len(r.pendingQueue) == 0 {
		return
	}
	n := free
	if n > len(r.pendingQueue) {
		n = len(r.pendingQueue)
	}
	batch := make([]pendingItem, n)
	copy(batch, r.pendingQueue[:n])
	r.pendingQueue = append(r.pendingQueue[:0], r.pendingQueue[n:]...)
	r.metrics.SetQueueDepth(len(r.pendingQueue))
	r.draining = true
	go r.drain(batch)
}

// drain 重新读取日志并重新判定轮次后再入场：排队期间讨论可能已经
// 前进、结束甚至被响应过，入队时的轮次不可信。
// drain re-derives the turn for each dequeued item before re-entering
// admission. The queued round is stale by definition, so only a fresh
// decision counts.
func (r *Runtime) drain(batch []pendingItem) {
	for _, it := range batch {
		msgs, err := r.store.Read(it.id)
		if err != nil || msgs == nil {
			continue
		}
		eff := discussion.Effective(msgs)
		cand := r.decideTurn(eff)
		if cand == nil {
			continue
		}
		if err := r.offer(it.id, *cand); err != nil {
			r.logger.Debug("drained offer declined",
				"discussion", it.id, "round", cand.Round, "reason", err)
		}
	}

	r.mu.Lock()
	r.draining = false
	r.drainLocked()
	r.mu.Unlock()
}
