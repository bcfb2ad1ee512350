// Package render 负责把讨论日志渲染为人类可读的结果文件。
// 每次日志追加后结果文件整体重写，按讨论限速防止高频追加打爆磁盘。
// Package render turns discussion logs into the <id>-result.md files and
// keeps them fresh as logs grow. Rewrites are rate limited per discussion;
// the trailing edge always renders, so the final append is never lost.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/time/rate"

	"github.com/7788ken/multi-agent-discussion/discussion"
)

// DefaultRefreshInterval is the minimum gap between two rewrites of the
// same result file.
const DefaultRefreshInterval = time.Second

// Renderer watches the store and rewrites result files on log activity.
type Renderer struct {
	store    *discussion.Store
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	states map[string]*renderState
}

type renderState struct {
	limiter  *rate.Limiter
	deferred bool
}

// NewRenderer builds a renderer over the store. interval <= 0 selects the
// default refresh interval.
func NewRenderer(store *discussion.Store, interval time.Duration, logger *slog.Logger) *Renderer {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		store:    store,
		logger:   logger,
		interval: interval,
		states:   make(map[string]*renderState),
	}
}

// Run subscribes to store notifications and refreshes result files until
// ctx is canceled.
func (r *Renderer) Run(ctx context.Context) error {
	ch, cancel := r.store.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-ch:
			if !ok {
				return nil
			}
			r.schedule(id)
		}
	}
}

// schedule renders now when the limiter allows, otherwise arms one trailing
// render for when the current window closes. Bursts of appends collapse
// into at most one deferred rewrite.
func (r *Renderer) schedule(id string) {
	r.mu.Lock()
	st, ok := r.states[id]
	if !ok {
		st = &renderState{limiter: rate.NewLimiter(rate.Every(r.interval), 1)}
		r.states[id] = st
	}
	if st.deferred {
		r.mu.Unlock()
		return
	}
	res := st.limiter.Reserve()
	delay := res.Delay()
	if delay == 0 {
		r.mu.Unlock()
		r.renderNow(id)
		return
	}
	st.deferred = true
	r.mu.Unlock()

	time.AfterFunc(delay, func() {
		r.mu.Lock()
		st.deferred = false
		r.mu.Unlock()
		r.renderNow(id)
	})
}

func (r *Renderer) renderNow(id string) {
	if err := r.WriteResult(id); err != nil {
		r.logger.Warn("result render failed", "discussion", id, "error", err)
	}
}

// WriteResult rewrites the result file for one discussion in full.
func (r *Renderer) WriteResult(id string) error {
	msgs, err := r.store.Read(id)
	if err != nil {
		return err
	}
	if msgs == nil {
		return fmt.Errorf("render %s: %w", id, discussion.ErrNotFound)
	}
	st := discussion.DeriveStatus(id, msgs)
	md := RenderMarkdown(st, discussion.Effective(msgs))
	return os.WriteFile(r.store.ResultPath(id), []byte(md), 0o644)
}

// RenderMarkdown builds the result document for a discussion.
func RenderMarkdown(st discussion.Status, msgs []discussion.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", orUntitled(st.Topic))
	fmt.Fprintf(&b, "- **ID**: `%s`\n", st.ID)
	fmt.Fprintf(&b, "- **Participants**: %s\n", strings.Join(st.Participants, ", "))
	if wd := st.WorkingDir(); wd != "" {
		fmt.Fprintf(&b, "- **Working directory**: `%s`\n", wd)
	}
	if st.Active {
		b.WriteString("- **Status**: active\n")
	} else {
		b.WriteString("- **Status**: ended\n")
	}
	if st.Round > 0 {
		fmt.Fprintf(&b, "- **Rounds**: %d\n", st.Round)
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Started**: %s\n", st.StartedAt.Format(time.RFC3339))
	}

	currentRound := 0
	var errs []discussion.Message
	for _, m := range msgs {
		switch m.Type {
		case discussion.TypeFollowup:
			currentRound = m.Round
			fmt.Fprintf(&b, "\n## Follow-up (round %d)\n\n", m.Round)
			if m.Target != "" {
				fmt.Fprintf(&b, "*To %s:*\n\n", m.Target)
			}
			writeQuoted(&b, m.Content)
		case discussion.TypeResponse:
			if m.Round != currentRound {
				currentRound = m.Round
				fmt.Fprintf(&b, "\n## Round %d\n", m.Round)
			}
			fmt.Fprintf(&b, "\n### %s — %s", m.From, opinionLabel(m.Opinion))
			if m.Confidence > 0 {
				fmt.Fprintf(&b, " (confidence %.2f)", m.Confidence)
			}
			b.WriteString("\n\n")
			b.WriteString(strings.TrimSpace(m.Content))
			b.WriteString("\n")
		case discussion.TypeError:
			errs = append(errs, m)
		}
	}

	if len(errs) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, m := range errs {
			fmt.Fprintf(&b, "- round %d, %s: %s\n", m.Round, m.From, m.Error)
		}
	}

	if !st.Active {
		b.WriteString("\n## Outcome\n\n")
		if st.Decision != "" {
			fmt.Fprintf(&b, "- **Decision**: %s\n", st.Decision)
		}
		if st.Consensus {
			b.WriteString("- **Consensus**: reached\n")
		} else {
			b.WriteString("- **Consensus**: not reached\n")
		}
		if !st.EndedAt.IsZero() {
			fmt.Fprintf(&b, "- **Ended**: %s\n", st.EndedAt.Format(time.RFC3339))
		}
	}

	fmt.Fprintf(&b, "\n---\n\n*Updated %s (seq %d, %d messages)*\n",
		st.LastActivity.Format(time.RFC3339), st.LastSeq, st.MessageCount)
	return b.String()
}

// ExportHTML converts a rendered markdown document to HTML with GFM tables
// and strikethrough enabled.
func ExportHTML(markdown []byte) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(markdown, &buf); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	return buf.Bytes(), nil
}

func orUntitled(topic string) string {
	if topic == "" {
		return "Untitled discussion"
	}
	return topic
}

func opinionLabel(op discussion.Opinion) string {
	if op == "" {
		return string(discussion.OpinionNeutral)
	}
	return string(op)
}

func writeQuoted(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		fmt.Fprintf(b, "> %s\n", line)
	}
}
