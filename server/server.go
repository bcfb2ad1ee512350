// Package server exposes daemon state over HTTP: health, Prometheus
// metrics, discussion listings, transcripts and rendered results. It is a
// read-only surface; all writes go through the discussion log.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/7788ken/multi-agent-discussion/agent"
	"github.com/7788ken/multi-agent-discussion/discussion"
	"github.com/7788ken/multi-agent-discussion/discussion/render"
	"github.com/7788ken/multi-agent-discussion/internal/metrics"
	"github.com/7788ken/multi-agent-discussion/internal/version"
	"github.com/7788ken/multi-agent-discussion/store"
)

const shutdownTimeout = 5 * time.Second

// Config wires the server's data sources.
type Config struct {
	Addr string

	Store   *discussion.Store
	Runtime *agent.Runtime
	Metrics *metrics.Exporter

	// Archive is optional; without it the archive endpoints return 404.
	Archive *store.DB

	Logger *slog.Logger
}

// Server is the HTTP status server.
type Server struct {
	e      *echo.Echo
	cfg    Config
	logger *slog.Logger

	startedAt time.Time
}

// New builds the server and registers all routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		e:         echo.New(),
		cfg:       cfg,
		logger:    cfg.Logger,
		startedAt: time.Now(),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())

	s.e.GET("/healthz", s.healthz)
	if cfg.Metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))
	}

	api := s.e.Group("/api/v1", middleware.CORS())
	api.GET("/agent", s.agentStatus)
	api.GET("/discussions", s.listDiscussions)
	api.GET("/discussions/:id", s.getDiscussion)
	api.GET("/discussions/:id/messages", s.getMessages)
	api.GET("/discussions/:id/result", s.getResult)
	api.GET("/archive", s.listArchive)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.e.Start(s.cfg.Addr)
	}()
	s.logger.Info("status server listening", "addr", s.cfg.Addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Agent   string `json:"agent,omitempty"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) healthz(c echo.Context) error {
	resp := healthResponse{
		Status:  "ok",
		Version: version.String(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.cfg.Runtime != nil {
		resp.Agent = s.cfg.Runtime.Name()
	}
	return c.JSON(http.StatusOK, resp)
}

type agentStatusResponse struct {
	Agent       string   `json:"agent"`
	Watched     []string `json:"watched"`
	Responding  []string `json:"responding"`
	ActiveCount int      `json:"activeCount"`
	QueueDepth  int      `json:"queueDepth"`
	Queue       []string `json:"queue,omitempty"`
	CircuitOpen []string `json:"circuitOpen,omitempty"`
}

func (s *Server) agentStatus(c echo.Context) error {
	if s.cfg.Runtime == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no agent runtime attached")
	}
	snap := s.cfg.Runtime.Snapshot()
	return c.JSON(http.StatusOK, agentStatusResponse{
		Agent:       s.cfg.Runtime.Name(),
		Watched:     snap.Watched,
		Responding:  snap.Responding,
		ActiveCount: snap.ActiveCount,
		QueueDepth:  snap.QueueDepth,
		Queue:       snap.Queue,
		CircuitOpen: snap.CircuitOpen,
	})
}

type discussionSummary struct {
	ID           string   `json:"id"`
	Topic        string   `json:"topic"`
	Participants []string `json:"participants"`
	Active       bool     `json:"active"`
	Round        int      `json:"round"`
	Decision     string   `json:"decision,omitempty"`
	Consensus    bool     `json:"consensus,omitempty"`
	LastActivity string   `json:"lastActivity,omitempty"`
	MessageCount int      `json:"messageCount"`
}

func toSummary(st discussion.Status) discussionSummary {
	out := discussionSummary{
		ID:           st.ID,
		Topic:        st.Topic,
		Participants: st.Participants,
		Active:       st.Active,
		Round:        st.Round,
		Decision:     st.Decision,
		Consensus:    st.Consensus,
		MessageCount: st.MessageCount,
	}
	if !st.LastActivity.IsZero() {
		out.LastActivity = st.LastActivity.Format(time.RFC3339)
	}
	return out
}

func (s *Server) listDiscussions(c echo.Context) error {
	sts, err := s.cfg.Store.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	activeOnly := c.QueryParam("active") == "true"
	out := make([]discussionSummary, 0, len(sts))
	for _, st := range sts {
		if activeOnly && !st.Active {
			continue
		}
		out = append(out, toSummary(st))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getDiscussion(c echo.Context) error {
	st, err := s.cfg.Store.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, discussion.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "discussion not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toSummary(st))
}

func (s *Server) getMessages(c echo.Context) error {
	msgs, err := s.cfg.Store.Read(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if msgs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "discussion not found")
	}
	return c.JSON(http.StatusOK, msgs)
}

// getResult serves the rendered result. The file on disk is preferred;
// when it lags or is missing the result is rendered from the log directly.
func (s *Server) getResult(c echo.Context) error {
	id := c.Param("id")
	md, err := os.ReadFile(s.cfg.Store.ResultPath(id))
	if err != nil {
		msgs, rerr := s.cfg.Store.Read(id)
		if rerr != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, rerr.Error())
		}
		if msgs == nil {
			return echo.NewHTTPError(http.StatusNotFound, "discussion not found")
		}
		st := discussion.DeriveStatus(id, msgs)
		md = []byte(render.RenderMarkdown(st, discussion.Effective(msgs)))
	}

	if c.QueryParam("format") == "html" {
		html, err := render.ExportHTML(md)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.HTMLBlob(http.StatusOK, html)
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", md)
}

type archivedResponse struct {
	ID           string   `json:"id"`
	Topic        string   `json:"topic"`
	Participants []string `json:"participants"`
	Decision     string   `json:"decision,omitempty"`
	Consensus    bool     `json:"consensus"`
	Rounds       int      `json:"rounds"`
	MessageCount int      `json:"messageCount"`
	EndedTs      int64    `json:"endedTs"`
}

func (s *Server) listArchive(c echo.Context) error {
	if s.cfg.Archive == nil {
		return echo.NewHTTPError(http.StatusNotFound, "archive not configured")
	}
	find := &store.FindArchived{}
	if v := c.QueryParam("topic"); v != "" {
		find.TopicContains = &v
	}
	if v := c.QueryParam("participant"); v != "" {
		find.Participant = &v
	}
	if c.QueryParam("consensus") == "true" {
		find.ConsensusOnly = true
	}
	limit := 50
	find.Limit = &limit

	rows, err := s.cfg.Archive.ListArchived(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]archivedResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, archivedResponse{
			ID:           row.ID,
			Topic:        row.Topic,
			Participants: row.Participants,
			Decision:     row.Decision,
			Consensus:    row.Consensus,
			Rounds:       row.Rounds,
			MessageCount: row.MessageCount,
			EndedTs:      row.EndedTs,
		})
	}
	return c.JSON(http.StatusOK, out)
}
