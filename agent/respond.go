package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/7788ken/multi-agent-discussion/agent/invoke"
	"github.com/7788ken/multi-agent-discussion/discussion"
)

// respond 执行一次完整的响应：写 thinking 状态、构造提示词、调用模型、
// 校验身份（失败原地重试一次）、解析观点与置信度、补共识句、落盘。
// 超时走退避重试，其余失败写 error 记录。
// respond runs one admitted response attempt end to end. It owns the
// responding lock and the concurrency slot until finalize.
func (r *Runtime) respond(id string, cand Candidate) {
	ctx := context.Background()

	msgs, err := r.store.Read(id)
	if err != nil || msgs == nil {
		r.logger.Warn("response aborted, log unreadable", "discussion", id, "error", err)
		r.finalize(id, false)
		return
	}
	eff := discussion.Effective(msgs)
	if discussion.HasEnd(eff) {
		r.finalize(id, true)
		return
	}
	st := discussion.DeriveStatus(id, eff)

	r.appendStatus(id, cand.Round, discussion.StatusThinking,
		fmt.Sprintf("%s is thinking about round %d", r.cfg.Name, cand.Round))

	prompt := BuildPrompt(r.cfg.Name, st, eff, cand.Round)
	res := r.invokeOnce(ctx, prompt, st.WorkingDir())

	if !res.OK {
		if isTimeout(res) {
			r.handleTimeout(id, cand)
			return
		}
		r.appendError(id, cand.Round, res.Error)
		r.finalize(id, false)
		return
	}

	body, verr := ValidateIdentity(res.Output, r.cfg.Name, st.Participants)
	if verr != nil {
		r.logger.Warn("identity check failed, retrying once",
			"discussion", id, "round", cand.Round, "error", verr)
		r.appendStatus(id, cand.Round, discussion.StatusRetrying,
			fmt.Sprintf("%s identity check failed, retrying", r.cfg.Name))

		res = r.invokeOnce(ctx, prompt, st.WorkingDir())
		if !res.OK {
			if isTimeout(res) {
				r.handleTimeout(id, cand)
				return
			}
			r.appendError(id, cand.Round, res.Error)
			r.finalize(id, false)
			return
		}
		body, verr = ValidateIdentity(res.Output, r.cfg.Name, st.Participants)
		if verr != nil {
			r.appendError(id, cand.Round, fmt.Sprintf("identity check failed: %v", verr))
			r.finalize(id, false)
			return
		}
	}

	opinion := ParseOpinion(body)
	confidence := ParseConfidence(body)
	body = EnsureClosure(body, r.cfg.Name, st.Participants, opinion)

	if _, err := r.store.Append(ctx, id, discussion.NewResponse(r.cfg.Name, cand.Round, opinion, body, confidence)); err != nil {
		r.metrics.RecordAppendError()
		r.logger.Error("response append failed", "discussion", id, "round", cand.Round, "error", err)
		r.finalize(id, false)
		return
	}
	r.metrics.RecordResponse(r.cfg.Name, string(opinion))
	r.logger.Info("response appended",
		"discussion", id, "round", cand.Round, "opinion", opinion, "confidence", confidence)

	r.clearRetries(id)
	r.finalize(id, true)
}

// invokeOnce runs the configured invoker and records metrics for it.
func (r *Runtime) invokeOnce(ctx context.Context, prompt, workingDir string) invoke.Result {
	res := r.cfg.Invoke(ctx, prompt, workingDir)
	status := "ok"
	switch {
	case isTimeout(res):
		status = "timeout"
	case !res.OK:
		status = "error"
	}
	r.metrics.RecordInvocation(r.cfg.Name, status, res.Duration)
	return res
}

// isTimeout matches the invoker's timeout contract: the error string is or
// contains "Timeout".
func isTimeout(res invoke.Result) bool {
	return res.TimedOut || strings.Contains(res.Error, invoke.TimeoutError)
}

// handleTimeout consumes one retry, or exhausts them with an error record.
// The round stays in attemptedRounds until the backoff timer fires, so
// polls cannot sidestep the wait; the timer clears it and re-enters
// admission with a fresh turn decision.
func (r *Runtime) handleTimeout(id string, cand Candidate) {
	r.mu.Lock()
	rs := r.retries[id]
	if rs == nil {
		rs = &retryState{}
		r.retries[id] = rs
	}
	rs.attempts++
	rs.round = cand.Round
	attempt := rs.attempts
	if attempt > r.cfg.MaxRetries {
		delete(r.retries, id)
		r.mu.Unlock()
		r.appendError(id, cand.Round,
			fmt.Sprintf("Timeout after %d retries", r.cfg.MaxRetries))
		r.finalize(id, false)
		return
	}
	wait := backoffWait(r.cfg.RetryBaseWait, r.cfg.RetryMaxWait, attempt)
	r.mu.Unlock()

	r.metrics.RecordRetry()
	r.logger.Warn("invocation timed out, backing off",
		"discussion", id, "round", cand.Round,
		"attempt", attempt, "max_retries", r.cfg.MaxRetries, "wait", wait)
	r.appendStatus(id, cand.Round, discussion.StatusRetrying,
		fmt.Sprintf("%s timed out, retry %d/%d in %s", r.cfg.Name, attempt, r.cfg.MaxRetries, wait))
	r.finalize(id, false)

	timer := time.AfterFunc(wait, func() { r.retryFire(id, cand.Round) })
	r.mu.Lock()
	if cur, ok := r.retries[id]; ok && cur == rs && r.running {
		rs.timer = timer
	} else {
		timer.Stop()
	}
	r.mu.Unlock()
}

// retryFire reopens the timed-out round and re-enters admission.
func (r *Runtime) retryFire(id string, round int) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	if rs := r.retries[id]; rs != nil {
		rs.timer = nil
	}
	if set := r.attemptedRounds[id]; set != nil {
		delete(set, round)
	}
	r.mu.Unlock()

	msgs, err := r.store.Read(id)
	if err != nil || msgs == nil {
		return
	}
	cand := r.decideTurn(discussion.Effective(msgs))
	if cand == nil {
		return
	}
	if err := r.offer(id, *cand); err != nil {
		r.logger.Debug("retry offer declined",
			"discussion", id, "round", cand.Round, "reason", err)
	}
}

func (r *Runtime) clearRetries(id string) {
	r.mu.Lock()
	if rs, ok := r.retries[id]; ok {
		if rs.timer != nil {
			rs.timer.Stop()
		}
		delete(r.retries, id)
	}
	r.mu.Unlock()
}

// backoffWait returns min(base * 2^(attempt-1), max).
func backoffWait(base, max time.Duration, attempt int) time.Duration {
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}

// appendStatus writes a transient status record, best effort.
func (r *Runtime) appendStatus(id string, round int, kind discussion.StatusKind, text string) {
	if _, err := r.store.Append(context.Background(), id, discussion.NewStatus(r.cfg.Name, round, kind, text)); err != nil {
		r.metrics.RecordAppendError()
		r.logger.Warn("status append failed", "discussion", id, "error", err)
	}
}

// appendError writes a permanent error record, best effort.
func (r *Runtime) appendError(id string, round int, errMsg string) {
	if _, err := r.store.Append(context.Background(), id, discussion.NewError(r.cfg.Name, round, errMsg)); err != nil {
		r.metrics.RecordAppendError()
		r.logger.Warn("error append failed", "discussion", id, "error", err)
	}
}
