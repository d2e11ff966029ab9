// Package api serves the health endpoint used by container orchestration.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eliseohh/xuibot/internal/monitor"
)

const (
	apiHealthCheck  = "/healthz"
	shutdownTimeout = 5 * time.Second
)

// StatusSource reports the monitor state.
type StatusSource interface {
	Status() monitor.Status
}

type API struct {
	engine     *gin.Engine
	httpServer *http.Server
	log        *slog.Logger
}

func New(listen string, status StatusSource, log *slog.Logger) *API {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handlers{status: status}
	r.GET(apiHealthCheck, h.healthCheck)

	return &API{
		engine: r,
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the router for tests.
func (a *API) Handler() http.Handler {
	return a.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.InfoContext(ctx, "health endpoint listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("health endpoint: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.httpServer.Shutdown(shutdownCtx)
}

type handlers struct {
	status StatusSource
}

// healthCheck answers 503 when the last poll failed and 200 otherwise.
func (h *handlers) healthCheck(c *gin.Context) {
	st := h.status.Status()
	code := http.StatusOK
	if st.LastError != "" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}
