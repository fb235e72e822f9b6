package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tejiriaustin/slm/config"
	"github.com/tejiriaustin/slm/daemon"
	"github.com/tejiriaustin/slm/logger"
	"github.com/tejiriaustin/slm/models"
)

type (
	Server struct {
		cfg    *config.Config
		server *http.Server
		logger *logger.Logger
	}

	Handler struct {
		logger *logger.Logger
	}

	// StatusProvider reports the daemon's active monitors.
	StatusProvider interface {
		Snapshot() []models.MonitorStatus
	}
)

func New(cfg *config.Config, logger *logger.Logger) *Server {
	return &Server{
		cfg:    cfg,
		server: &http.Server{Addr: cfg.Port, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start serves handler until ctx is done, then shuts the listener down
// gracefully.
func (s *Server) Start(ctx context.Context, handler http.Handler) error {
	s.server.Handler = handler

	errChan := make(chan error, 1)
	go func() {
		s.logger.Infow("Control API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorw("Server forced to shutdown", "error", err)
		return err
	}

	s.logger.Info("Server gracefully stopped")
	return nil
}

func NewHandler(logger *logger.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) SetupHandler(monitors StatusProvider, cmdChan chan<- daemon.Command) *gin.Engine {
	r := gin.New()

	r.Use(h.loggerMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", h.healthCheck())
	r.GET("/monitors", h.listMonitors(monitors))
	r.POST("/reload", h.requestReload(cmdChan))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status": "not found",
		})
	})

	return r
}

func (h *Handler) healthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive and well",
		})
	}
}

func (h *Handler) listMonitors(monitors StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, monitors.Snapshot())
	}
}

func (h *Handler) requestReload(cmdChan chan<- daemon.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !daemon.Enqueue(cmdChan, daemon.CommandReload) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command queue full"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "reload queued"})
	}
}
