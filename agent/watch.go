package agent

import (
	"context"
	"sort"
	"time"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// prioritize 返回本代理应当关注的讨论列表：先按日志活跃时间降序，
// 再按轮询饥饿程度排序，最多 maxWatched 个。
// prioritize lists the discussions this agent should watch, newest log
// activity first, then longest-unpolled first, capped at MaxWatched.
func (r *Runtime) prioritize() []string {
	all, err := r.store.List()
	if err != nil {
		r.logger.Warn("discussion scan failed", "error", err)
		return nil
	}

	var mine []discussion.Status
	for _, st := range all {
		if st.Active && st.HasParticipant(r.cfg.Name) {
			mine = append(mine, st)
		}
	}

	r.mu.Lock()
	lastPolled := make(map[string]time.Time, len(r.lastPolled))
	for id, t := range r.lastPolled {
		lastPolled[id] = t
	}
	r.mu.Unlock()

	sort.SliceStable(mine, func(i, j int) bool {
		if !mine[i].LastActivity.Equal(mine[j].LastActivity) {
			return mine[i].LastActivity.After(mine[j].LastActivity)
		}
		// Never-polled sorts before recently-polled.
		return lastPolled[mine[i].ID].Before(lastPolled[mine[j].ID])
	})

	if len(mine) > r.cfg.MaxWatched {
		mine = mine[:r.cfg.MaxWatched]
	}
	ids := make([]string, len(mine))
	for i, st := range mine {
		ids[i] = st.ID
	}
	return ids
}

// rewatch reconciles the watcher set against the prioritized ids: new ids
// get a poller, dropped ids lose theirs unless a response is in flight.
// Dropping a watcher keeps attemptedRounds and failure state so the
// discussion resumes where it left off if it climbs back into the set.
func (r *Runtime) rewatch(ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	for _, id := range ids {
		if _, ok := r.watchers[id]; ok {
			continue
		}
		stop := make(chan struct{})
		r.watchers[id] = stop
		r.loopWG.Add(1)
		go r.watchLoop(id, stop)
		r.logger.Debug("watching discussion", "discussion", id)
	}
	for id, stop := range r.watchers {
		if want[id] || r.responding[id] {
			continue
		}
		close(stop)
		delete(r.watchers, id)
		delete(r.watched, id)
		delete(r.lastPolled, id)
		r.logger.Debug("released watcher", "discussion", id)
	}
	r.metrics.SetWatchedDiscussions(len(r.watchers))
	r.mu.Unlock()
}

// scanLoop re-prioritizes the watcher set at twice the poll interval.
func (r *Runtime) scanLoop() {
	defer r.loopWG.Done()
	ticker := time.NewTicker(2 * r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.rewatch(r.prioritize())
		}
	}
}

// cleanupLoop sweeps watched discussions that ended or vanished.
func (r *Runtime) cleanupLoop() {
	defer r.loopWG.Done()
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Runtime) sweep() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.watchers))
	for id := range r.watchers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		msgs, err := r.store.Read(id)
		if err != nil {
			continue
		}
		if msgs == nil {
			r.logger.Info("discussion log vanished, releasing state", "discussion", id)
			r.cleanup(id, nil)
			continue
		}
		if !discussion.HasEnd(msgs) {
			continue
		}
		r.cleanup(id, msgs)
	}
}

// watchLoop polls one discussion until stopped.
func (r *Runtime) watchLoop(id string, stop chan struct{}) {
	defer r.loopWG.Done()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			if !r.pollOnce(id) {
				return
			}
		}
	}
}

// pollOnce reads the log, runs the turn decision, and offers any candidate
// to admission. It returns false once the watcher should stop (discussion
// ended or vanished).
func (r *Runtime) pollOnce(id string) bool {
	msgs, err := r.store.Read(id)
	if err != nil {
		r.logger.Warn("poll read failed", "discussion", id, "error", err)
		return true
	}
	if msgs == nil {
		// Left to the cleanup sweep so a slow creator is not raced.
		return true
	}

	lastSeq := msgs[len(msgs)-1].Seq
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return false
	}
	r.lastPolled[id] = time.Now()
	if prev, ok := r.watched[id]; !ok || lastSeq > prev {
		r.logger.Debug("log activity", "discussion", id, "seq", lastSeq)
	}
	r.watched[id] = lastSeq
	r.mu.Unlock()

	eff := discussion.Effective(msgs)
	if discussion.HasEnd(eff) {
		// Immediate cleanup keeps the watcher from ticking against a
		// finished log until the sweep happens to run.
		r.cleanup(id, msgs)
		return false
	}

	cand := r.decideTurn(eff)
	if cand == nil {
		return true
	}
	if err := r.offer(id, *cand); err != nil {
		// Flow-control rejections are routine, not failures.
		r.logger.Debug("offer declined", "discussion", id, "round", cand.Round, "reason", err)
	}
	return true
}

// cleanup 释放一个讨论占用的全部运行时状态：轮询定时器、重试定时器、
// attemptedRounds、熔断与失败计数，并从等待队列中清除。
// cleanup releases every state table entry for the discussion and purges it
// from the pending queue. Ended discussions are handed to the archiver.
func (r *Runtime) cleanup(id string, msgs []discussion.Message) {
	r.mu.Lock()
	stop, hadWatcher := r.watchers[id]
	if hadWatcher {
		close(stop)
		delete(r.watchers, id)
	}
	delete(r.watched, id)
	delete(r.lastPolled, id)
	delete(r.responding, id)
	delete(r.attemptedRounds, id)
	if rs, ok := r.retries[id]; ok {
		if rs.timer != nil {
			rs.timer.Stop()
		}
		delete(r.retries, id)
	}
	delete(r.failures, id)
	delete(r.circuitOpenUntil, id)
	if len(r.pendingQueue) > 0 {
		kept := r.pendingQueue[:0]
		for _, it := range r.pendingQueue {
			if it.id != id {
				kept = append(kept, it)
			}
		}
		r.pendingQueue = kept
	}
	r.metrics.SetWatchedDiscussions(len(r.watchers))
	r.metrics.SetQueueDepth(len(r.pendingQueue))
	r.mu.Unlock()

	r.logger.Info("released discussion state", "discussion", id)

	// Only the call that actually tore down the watcher archives, so a
	// poll callback racing the sweep cannot archive twice.
	if !hadWatcher || r.cfg.Archiver == nil || msgs == nil {
		return
	}
	st := discussion.DeriveStatus(id, msgs)
	if st.Active {
		return
	}
	if err := r.cfg.Archiver.Archive(context.Background(), st); err != nil {
		r.logger.Warn("archive failed", "discussion", id, "error", err)
	}
}
