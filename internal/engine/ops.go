package engine

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/quantpulse/trading-engine/internal/observ"
)

// OpsServer exposes the operational surface: health, status, and Prometheus
// metrics.
type OpsServer struct {
	e      *echo.Echo
	engine *Engine
}

func NewOpsServer(engine *Engine) *OpsServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &OpsServer{e: e, engine: engine}
	e.GET("/healthz", s.health)
	e.GET("/status", s.status)
	e.GET("/metrics", echo.WrapHandler(observ.MetricsHandler()))
	return s
}

// Start serves until Shutdown; it returns http.ErrServerClosed on clean stop.
func (s *OpsServer) Start(addr string) error {
	observ.Log("ops_server_started", map[string]any{"addr": addr})
	return s.e.Start(addr)
}

func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *OpsServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *OpsServer) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Status())
}
