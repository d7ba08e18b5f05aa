// Package httpapi provides the HTTP control plane for vaultd: health,
// metrics, task inspection, enqueue, and approval decisions.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vaultd/internal/audit"
	"github.com/fyrsmithlabs/vaultd/internal/briefing"
	"github.com/fyrsmithlabs/vaultd/internal/store"
	"github.com/fyrsmithlabs/vaultd/internal/task"
	"github.com/fyrsmithlabs/vaultd/internal/telemetry"
)

// Control is the orchestrator surface the API drives.
type Control interface {
	Enqueue(t *task.Task) error
	Approve(id string) error
	Deny(id string) error
}

// Briefer runs the weekly aggregator on demand.
type Briefer interface {
	Run(ctx context.Context, from, to time.Time) (*briefing.Summary, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the vaultd HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	store   *store.Store
	trail   *audit.Log
	control Control
	briefer Briefer
	metrics *telemetry.Metrics
	logger  *zap.Logger
	config  *Config
}

// NewServer creates the control-plane server.
func NewServer(st *store.Store, trail *audit.Log, control Control, briefer Briefer, metrics *telemetry.Metrics, logger *zap.Logger, cfg *Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if control == nil {
		return nil, fmt.Errorf("control cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		store:   st,
		trail:   trail,
		control: control,
		briefer: briefer,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.POST("/tasks", s.handleEnqueue)
	v1.POST("/tasks/:id/approve", s.handleApprove)
	v1.POST("/tasks/:id/deny", s.handleDeny)
	v1.POST("/briefing", s.handleBriefing)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Vault  string         `json:"vault"`
	Counts map[string]int `json:"counts"`
}

// TaskView is the JSON projection of a task document.
type TaskView struct {
	ID               string `json:"id"`
	Source           string `json:"source"`
	Domain           string `json:"domain,omitempty"`
	Intent           string `json:"intent,omitempty"`
	Priority         string `json:"priority,omitempty"`
	Status           string `json:"status"`
	Action           string `json:"action,omitempty"`
	Contact          string `json:"contact,omitempty"`
	BatchSize        int    `json:"batch_size,omitempty"`
	RetryCount       int    `json:"retry_count"`
	IterationCount   int    `json:"iteration_count"`
	RequiresApproval bool   `json:"requires_approval"`
	Approved         *bool  `json:"approved,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	Body             string `json:"body,omitempty"`
}

// EnqueueRequest is the request body for POST /api/v1/tasks.
type EnqueueRequest struct {
	Source    string `json:"source"`
	Body      string `json:"body"`
	Action    string `json:"action,omitempty"`
	Contact   string `json:"contact,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// EnqueueResponse is the response body for POST /api/v1/tasks.
type EnqueueResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TrailEntry is one audit record in a task detail response.
type TrailEntry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Status    string `json:"status,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// TaskDetailResponse is the response body for GET /api/v1/tasks/:id.
type TaskDetailResponse struct {
	Task  TaskView     `json:"task"`
	Trail []TrailEntry `json:"trail,omitempty"`
}

// BriefingRequest is the request body for POST /api/v1/briefing.
type BriefingRequest struct {
	// Days is the window length ending now. Default 7.
	Days int `json:"days,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	counts, err := s.store.Counts()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read store")
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return c.JSON(http.StatusOK, StatusResponse{Vault: s.store.Root(), Counts: out})
}

func (s *Server) handleListTasks(c echo.Context) error {
	statuses := task.AllStatuses()
	if q := c.QueryParam("status"); q != "" {
		st := task.Status(q)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", q))
		}
		statuses = []task.Status{st}
	}

	views := make([]TaskView, 0)
	for _, st := range statuses {
		tasks, err := s.store.List(st)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to read store")
		}
		for _, t := range tasks {
			views = append(views, viewOf(t, false))
		}
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetTask(c echo.Context) error {
	t, err := s.store.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read store")
	}

	resp := TaskDetailResponse{Task: viewOf(t, true)}
	if s.trail != nil {
		entries, err := s.trail.TaskEntries(t.ID)
		if err == nil {
			for _, e := range entries {
				resp.Trail = append(resp.Trail, TrailEntry{
					Timestamp: e.Timestamp.Format(time.RFC3339),
					Event:     string(e.Event),
					Status:    string(e.StatusAfter),
					Detail:    e.Detail,
				})
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEnqueue(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid enqueue request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source field is required")
	}
	if req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "body field is required")
	}

	t := &task.Task{
		Source:    req.Source,
		Body:      req.Body,
		Action:    req.Action,
		Contact:   req.Contact,
		BatchSize: req.BatchSize,
	}
	if err := s.control.Enqueue(t); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return echo.NewHTTPError(http.StatusConflict, "task already exists")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, EnqueueResponse{ID: t.ID, Status: string(t.Status)})
}

func (s *Server) handleApprove(c echo.Context) error {
	return s.decide(c, s.control.Approve)
}

func (s *Server) handleDeny(c echo.Context) error {
	return s.decide(c, s.control.Deny)
}

func (s *Server) decide(c echo.Context, fn func(id string) error) error {
	id := c.Param("id")
	if err := fn(id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		case errors.Is(err, store.ErrTerminal):
			return echo.NewHTTPError(http.StatusConflict, "task already finished")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleBriefing(c echo.Context) error {
	if s.briefer == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "briefing is not configured")
	}
	var req BriefingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Days <= 0 {
		req.Days = 7
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -req.Days)
	summary, err := s.briefer.Run(c.Request().Context(), from, to)
	if err != nil {
		s.logger.Error("briefing run failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "briefing run failed")
	}
	if s.metrics != nil {
		s.metrics.BriefingRuns.Inc()
	}
	return c.JSON(http.StatusOK, summary)
}

func viewOf(t *task.Task, withBody bool) TaskView {
	v := TaskView{
		ID:               t.ID,
		Source:           t.Source,
		Domain:           string(t.Domain),
		Intent:           string(t.Intent),
		Priority:         string(t.Priority),
		Status:           string(t.Status),
		Action:           t.Action,
		Contact:          t.Contact,
		BatchSize:        t.BatchSize,
		RetryCount:       t.RetryCount,
		IterationCount:   t.IterationCount,
		RequiresApproval: t.RequiresApproval,
		Approved:         t.Approved,
		FailureReason:    t.FailureReason,
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        t.UpdatedAt.Format(time.RFC3339),
	}
	if withBody {
		v.Body = t.Body
	}
	return v
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
