// Package httpserver is the host HTTP server. It carries the capture
// middleware and serves the dashboard API.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/man4korea/kdv-erp/internal/capture"
	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/export"
	"github.com/man4korea/kdv-erp/internal/logparse"
	"github.com/man4korea/kdv-erp/internal/model"
)

const (
	staticPrefix = "/static/"
	// storageKeyPrefix namespaces the keys this service owns in a shared
	// key/value store.
	storageKeyPrefix    = "kdv_"
	defaultInteractions = 10
)

// StorageUsage reports the footprint of the persisted snapshot.
// *duckdb.Store implements it.
type StorageUsage interface {
	Keys(prefix string) ([]string, error)
	UsedBytes() (int64, error)
	MaxValueBytes() int
}

// Config configures a Server.
type Config struct {
	Addr      string
	Reader    model.DashboardReader
	Capture   *capture.Capture
	Hub       *capture.Hub
	StaticDir string
	// Storage adds the persisted footprint to /api/health when set.
	Storage StorageUsage
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Server provides the HTTP API over the log pipeline.
type Server struct {
	cfg       Config
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:3000"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: cfg.Clock.Now(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	if s.cfg.Capture != nil && s.cfg.Hub != nil {
		r.Use(s.cfg.Capture.Middleware(s.cfg.Hub, capture.MiddlewareConfig{
			StaticPrefix: staticPrefix,
			// Dashboard polling would flood the interaction trail.
			SkipInteraction: []string{"/api/"},
		}))
	}

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/logs", s.handleLogs)
	api.DELETE("/logs", s.handleClear)
	api.GET("/errors/recent", s.handleRecentErrors)
	api.GET("/stats", s.handleStats)
	api.GET("/export", s.handleExport)
	if s.cfg.Capture != nil {
		api.POST("/report", s.handleReport)
		api.POST("/interactions", s.handleInteraction)
		api.GET("/interactions", s.handleInteractions)
	}

	if s.cfg.StaticDir != "" {
		r.Static(strings.TrimSuffix(staticPrefix, "/"), s.cfg.StaticDir)
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.startTime = s.cfg.Clock.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error("httpserver: serve failed", "error", err)
		}
	}()
	s.cfg.Logger.Info("httpserver: listening", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	stats, err := s.cfg.Reader.LogStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	body := gin.H{
		"status":    "ok",
		"uptime":    s.cfg.Clock.Now().Sub(s.startTime).String(),
		"log_count": stats.TotalCount,
	}
	if s.cfg.Storage != nil {
		storage, err := storageFootprint(s.cfg.Storage)
		if err != nil {
			s.cfg.Logger.Warn("httpserver: reading storage footprint failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read storage usage"})
			return
		}
		body["storage"] = storage
	}
	c.JSON(http.StatusOK, body)
}

func storageFootprint(st StorageUsage) (gin.H, error) {
	used, err := st.UsedBytes()
	if err != nil {
		return nil, err
	}
	keys, err := st.Keys(storageKeyPrefix)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return gin.H{
		"used_bytes":      used,
		"max_value_bytes": st.MaxValueBytes(),
		"keys":            keys,
	}, nil
}

// parseFilter reads level, keyword, start and end. Times are RFC 3339.
func parseFilter(c *gin.Context) (model.LogFilter, error) {
	var f model.LogFilter
	if raw := c.Query("level"); raw != "" {
		lvl, ok := logparse.ParseLevel(raw)
		if !ok {
			return f, errors.New("unknown level " + strconv.Quote(raw))
		}
		f.MinLevel = lvl
	}
	f.Keyword = c.Query("keyword")
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &f.Start}, {"end", &f.End}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("invalid " + p.name + " time, want RFC 3339")
		}
		*p.dst = t
	}
	return f, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (s *Server) handleLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := queryInt(c, "limit", model.DefaultDashboardLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logs, err := s.cfg.Reader.QueryLogs(filter, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	count, err := queryInt(c, "count", model.DefaultRecentErrors)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logs, err := s.cfg.Reader.RecentErrors(count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read recent errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs, "count": len(logs)})
}

func (s *Server) handleStats(c *gin.Context) {
	logs, err := s.cfg.Reader.LogStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log stats"})
		return
	}
	errs, err := s.cfg.Reader.ErrorStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read error stats"})
		return
	}
	perf, err := s.cfg.Reader.Performance()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read performance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":        logs,
		"errors":      errs,
		"performance": perf,
	})
}

func (s *Server) handleExport(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := s.cfg.Reader.Export(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export logs"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName(s.cfg.Clock.Now())+`"`)
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleClear(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clearing logs requires confirm=true"})
		return
	}
	if err := s.cfg.Reader.ClearLogs(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear logs"})
		return
	}
	s.cfg.Logger.Info("httpserver: logs cleared", "remote", c.ClientIP())
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReport(c *gin.Context) {
	var req struct {
		Message  string         `json:"message" binding:"required"`
		Source   string         `json:"source"`
		Stack    string         `json:"stack"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing message field"})
		return
	}

	r := capture.NewReport(model.ReportManual, req.Message)
	r.Source = req.Source
	r.Stack = req.Stack
	r.Metadata = req.Metadata
	entry, stored := s.cfg.Capture.Submit(r)
	if !stored {
		c.JSON(http.StatusAccepted, gin.H{"stored": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stored": true, "id": entry.ID})
}

func (s *Server) handleInteraction(c *gin.Context) {
	var req struct {
		Kind   string `json:"kind" binding:"required"`
		Target string `json:"target"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing kind field"})
		return
	}
	s.cfg.Capture.TrackInteraction(req.Kind, req.Target)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleInteractions(c *gin.Context) {
	count, err := queryInt(c, "count", defaultInteractions)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.cfg.Capture.Interactions(count))
}
