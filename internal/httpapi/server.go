// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package httpapi is the supervisor's optional local observability HTTP
// API: /healthz and /metrics. It is not a web UI (spec.md §1 names a web UI
// a non-goal) — every response is JSON, the same split the teacher draws
// between its gin-based management handlers (internal/api/handlers/management,
// internal/api/statebox_handler.go) and any end-user-facing surface.
//
// Grounded on the teacher's internal/api/statebox_handler.go (a
// gin.HandlerFunc reporting on-disk state for operators) and
// internal/api/handlers/management/superbrain_metrics.go (a gin.HandlerFunc
// exposing a *metrics.Metrics snapshot as JSON) — this package is the same
// shape applied to the Monitor's own Metrics instead of the teacher's
// superbrain metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/piv-supervisor/internal/supervisor/monitor"
)

// Server wraps a gin.Engine and the *http.Server serving it. ListenAndServe runs
// until the supervisor process shuts down; it is started detached from the
// Monitor Loop's own cycle goroutine so a slow or absent metrics consumer
// never affects cycle timing.
type Server struct {
	http *http.Server
}

// New builds a Server bound to addr, reporting m's metrics.
func New(addr string, m *monitor.Monitor, startedAt time.Time) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", healthzHandler(startedAt))
	engine.GET("/metrics", metricsHandler(m))

	return &Server{http: &http.Server{Addr: addr, Handler: engine}}
}

// healthzHandler reports liveness plus process uptime, grounded on the
// teacher's StateBoxStatusHandler's "report what's true on disk/in memory
// right now" shape.
func healthzHandler(startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		})
	}
}

// metricsHandler mirrors the teacher's GetSuperbrainMetrics handler:
// fetch a snapshot, wrap it under one top-level key, respond as JSON.
func metricsHandler(m *monitor.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || m.Metrics == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not initialized"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"supervisor": m.Metrics.Snapshot()})
	}
}

// ListenAndServe starts serving and blocks until the listener errors or
// Shutdown is called, at which point it returns http.ErrServerClosed (the
// caller should treat that specific error as a clean stop).
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
