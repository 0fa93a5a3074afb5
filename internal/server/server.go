// Package server hosts the HTTP and WebSocket front end over the grid
// lookups and the background recompute.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"payoffgrid/config"
	"payoffgrid/internal/metrics"
	"payoffgrid/logger"
	"payoffgrid/models"
	"payoffgrid/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server serves /api, /ws/progress and /metrics.
type Server struct {
	cfg        config.ServerConfig
	grid       *service.GridService
	sweeper    *service.Sweeper
	log        *logger.Log
	limiter    *clientLimiter
	events     *recentMetrics
	logs       *recentLogs
	upgrader   websocket.Upgrader
	baseCtx    context.Context
	httpServer *http.Server
}

// NewServer returns nil when the server is disabled.
func NewServer(cfg config.ServerConfig, grid *service.GridService, sweeper *service.Sweeper, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = "0.0.0.0:8080"
	}
	s := &Server{
		cfg:     cfg,
		grid:    grid,
		sweeper: sweeper,
		log:     log,
		baseCtx: context.Background(),
		events:  newRecentMetrics(recentLimit),
		logs:    newRecentLogs(recentLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	log.AddHook(s.logs)
	if cfg.RateLimit.RequestsPerSecond > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	}
	return s
}

// Run serves until ctx is cancelled. Recomputes started over HTTP run
// under ctx, not under the request.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()
	s.baseCtx = ctx

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("server").WithFields(logger.Fields{"address": s.cfg.Address}).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	s.events.close()
	s.logs.close()
	if s.limiter != nil {
		s.limiter.stop()
	}
}

// Address reports the listen address.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws/progress", s.handleProgressStream)

	api := router.Group("/api")
	if s.limiter != nil {
		api.Use(s.limiter.middleware())
	}
	api.GET("/payoff", s.handlePayoff)
	api.GET("/payments", s.handlePayments)
	api.GET("/recompute", s.handleStatus)
	api.POST("/recompute", s.handleStartRecompute)
	api.DELETE("/recompute", s.handleCancelRecompute)
	api.GET("/events/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": s.events.snapshot()})
	})
	api.GET("/events/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logs.snapshot()})
	})

	return router
}

func (s *Server) handlePayoff(c *gin.Context) {
	balance, ok := intQuery(c, "balance")
	if !ok {
		return
	}
	rate, ok := floatQuery(c, "rate")
	if !ok {
		return
	}
	payment, ok := intQuery(c, "payment")
	if !ok {
		return
	}
	years, err := s.grid.PayoffTime(c.Request.Context(), balance, rate, payment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
		"rate":    rate,
		"payment": payment,
		"years":   years,
	})
}

func (s *Server) handlePayments(c *gin.Context) {
	balance, ok := intQuery(c, "balance")
	if !ok {
		return
	}
	rate, ok := floatQuery(c, "rate")
	if !ok {
		return
	}
	points, err := s.grid.PaymentsVsTime(c.Request.Context(), balance, rate)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":  balance,
		"rate":     rate,
		"payments": points,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, progressPayload(s.sweeper.Status()))
}

func (s *Server) handleStartRecompute(c *gin.Context) {
	runID, err := s.sweeper.Start(s.baseCtx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (s *Server) handleCancelRecompute(c *gin.Context) {
	if err := s.sweeper.Cancel(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// handleProgressStream pushes every progress update as JSON until the client
// goes away.
func (s *Server) handleProgressStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("server").WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, stop := s.sweeper.Subscribe()
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(progressPayload(p)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func progressPayload(p models.Progress) gin.H {
	return gin.H{
		"run_id":     p.RunID,
		"phase":      p.Phase,
		"done":       p.Done,
		"total":      p.Total,
		"percent":    p.Percent(),
		"persisted":  p.Persisted,
		"skipped":    p.Skipped,
		"error":      p.Error,
		"started_at": p.StartedAt,
		"updated_at": p.UpdatedAt,
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrOutOfDomain), errors.Is(err, service.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSweepRunning), errors.Is(err, service.ErrNoSweep):
		status = http.StatusConflict
	default:
		s.log.WithComponent("server").WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": '" + raw + "'"})
		return 0, false
	}
	return v, true
}

func floatQuery(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": '" + raw + "'"})
		return 0, false
	}
	return v, true
}
