package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adsight/backfill/internal/chain"
	"github.com/adsight/backfill/internal/engine"
	"github.com/adsight/backfill/internal/gaps"
	"github.com/adsight/backfill/internal/stats"
	"github.com/adsight/backfill/internal/store"
	"github.com/adsight/backfill/internal/tasks"
	"github.com/adsight/backfill/internal/window"
)

// Config holds HTTP API server settings
type Config struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// DefaultConfig returns sensible HTTP defaults.
func DefaultConfig() Config {
	return Config{
		Address: "0.0.0.0",
		Port:    8080,
	}
}

// Server exposes the backfill engine over HTTP. Long-running work is accepted
// immediately and handed to the task registry or the durable month queue;
// outcomes surface through progress, tasks, and the run log.
type Server struct {
	config   Config
	store    *store.Store
	orch     *engine.Orchestrator
	chain    *chain.Scheduler
	scanner  *gaps.Scanner
	stats    *stats.Collector
	registry *tasks.Registry
	logger   *slog.Logger
	now      func() time.Time

	httpServer *http.Server
}

// New builds the API server and its routes.
func New(config Config, s *store.Store, orch *engine.Orchestrator, chainSched *chain.Scheduler, scanner *gaps.Scanner, registry *tasks.Registry, logger *slog.Logger, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}

	srv := &Server{
		config:   config,
		store:    s,
		orch:     orch,
		chain:    chainSched,
		scanner:  scanner,
		stats:    stats.NewCollector(s),
		registry: registry,
		logger:   logger,
		now:      now,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", srv.handleHealth)

	api := router.Group("/api")
	api.POST("/backfills", srv.handleBackfill)
	api.POST("/backfills/months", srv.handleMonthUnit)
	api.POST("/gaps/scan", srv.handleGapScan)
	api.GET("/tasks/:id", srv.handleGetTask)
	api.GET("/stats", srv.handleStats)
	api.GET("/projects/:id/stats", srv.handleProjectStats)
	api.GET("/projects/:id/progress", srv.handleGetProgress)
	api.GET("/projects/:id/runs", srv.handleListRuns)
	api.GET("/projects/:id/months", srv.handleListMonths)

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Address, config.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return srv
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

type backfillRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	Since     string `json:"since"`
	Until     string `json:"until"`
	SafeMode  bool   `json:"safe_mode"`
}

type rangeBody struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// handleBackfill accepts a full-range backfill and starts it as a background
// task. The response is always an acceptance: actual outcomes surface only
// through progress, the task handle, and the run log.
func (s *Server) handleBackfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	project, err := s.store.GetProject(req.ProjectID)
	if err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	rng, err := s.resolveRange(req.Since, req.Until)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	cfg := s.orch.Config()
	if req.SafeMode {
		cfg = cfg.SafeMode()
	}
	batches := window.Split(rng, cfg.BatchSizeDays)

	safeMode := req.SafeMode
	task := s.registry.Launch(context.Background(), store.RunTypeBackfill, func(ctx context.Context) (any, error) {
		run := s.orch.RunImport(ctx, project, rng, safeMode)
		return gin.H{
			"status":  run.Status,
			"records": run.Records,
		}, nil
	})

	c.JSON(http.StatusAccepted, gin.H{
		"success":           true,
		"message":           fmt.Sprintf("import started: %d batches over %s", len(batches), rng.String()),
		"project_id":        project.ID,
		"project_name":      project.Name,
		"range":             rangeBody{Since: rng.Since.Format(window.DateLayout), Until: rng.Until.Format(window.DateLayout)},
		"total_batches":     len(batches),
		"estimated_minutes": engine.EstimateMinutes(len(batches), cfg),
		"task_id":           task.ID,
	})
}

type monthUnitRequest struct {
	ProjectID     string `json:"project_id" binding:"required"`
	Year          int    `json:"year" binding:"required,min=2000,max=2100"`
	Month         int    `json:"month" binding:"required,min=1,max=12"`
	ContinueChain bool   `json:"continue_chain"`
	SafeMode      bool   `json:"safe_mode"`
}

// handleMonthUnit enqueues one chained month unit on the durable queue. The
// unit itself runs asynchronously in the chain worker.
func (s *Server) handleMonthUnit(c *gin.Context) {
	var req monthUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if _, err := s.store.GetProject(req.ProjectID); err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := s.chain.Enqueue(req.ProjectID, req.Year, time.Month(req.Month), req.ContinueChain, req.SafeMode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":    true,
		"message":    fmt.Sprintf("month unit %d-%02d queued", req.Year, req.Month),
		"project_id": req.ProjectID,
	})
}

type gapScanRequest struct {
	ProjectID string `json:"project_id"`
	Since     string `json:"since"`
	Until     string `json:"until"`
	AutoFix   bool   `json:"auto_fix"`
}

// handleGapScan runs gap detection (and optionally repair) synchronously.
// Gap lists are small, so unlike backfills this endpoint returns the result.
func (s *Server) handleGapScan(c *gin.Context) {
	var req gapScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	rng, err := s.resolveRange(req.Since, req.Until)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	var reports []*gaps.Report
	if req.ProjectID != "" {
		project, err := s.store.GetProject(req.ProjectID)
		if err != nil {
			if store.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "project not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		report, err := s.scanner.Scan(c.Request.Context(), project, rng, req.AutoFix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		reports = append(reports, report)
	} else {
		reports, err = s.scanner.ScanAll(c.Request.Context(), rng, req.AutoFix)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
	}

	found, fixed, records := 0, 0, 0
	allGaps := []gaps.Gap{}
	fixResults := []gaps.GapResult{}
	for _, r := range reports {
		found += r.GapsFound
		fixed += r.GapsFixed
		records += r.Records
		allGaps = append(allGaps, r.Gaps...)
		fixResults = append(fixResults, r.FixResults...)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"gaps_found":       found,
		"gaps_fixed":       fixed,
		"records_imported": records,
		"gaps":             allGaps,
		"fix_results":      fixResults,
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStats(c *gin.Context) {
	overview, err := s.stats.Overview()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) handleProjectStats(c *gin.Context) {
	projectID := c.Param("id")
	if _, err := s.store.GetProject(projectID); err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	summary, err := s.stats.ProjectSummary(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetProgress(c *gin.Context) {
	prog, err := s.store.GetSyncProgress(c.Param("id"))
	if err != nil {
		if store.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no progress recorded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     prog.Status,
		"progress":   prog.Percent,
		"message":    prog.Message,
		"started_at": prog.StartedAt,
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	entries, err := s.store.ListRunLog(c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": entries})
}

func (s *Server) handleListMonths(c *gin.Context) {
	months, err := s.store.ListMonths(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"months": months})
}

// resolveRange applies the default window: start of the current year through
// today.
func (s *Server) resolveRange(since, until string) (window.Range, error) {
	now := s.now().UTC()

	if since == "" {
		since = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).Format(window.DateLayout)
	}
	if until == "" {
		until = now.Format(window.DateLayout)
	}
	return window.ParseRange(since, until)
}
