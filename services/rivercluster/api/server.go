// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the clustering pipeline over HTTP.
//
// Routes:
//
//	GET  /v1/rivercluster/health
//	POST /v1/rivercluster/runs       run the pipeline on inline rows
//	GET  /v1/rivercluster/runs       list stored runs (?limit=N)
//	GET  /v1/rivercluster/runs/:id   fetch a stored run
//	GET  /metrics                    when the prometheus exporter is on
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AleutianAI/RiverCluster/pkg/logging"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/config"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/storage"
	"github.com/AleutianAI/RiverCluster/services/rivercluster/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// Server is the HTTP front end.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Server struct {
	cfg    *config.Config
	store  *storage.DB
	logger *logging.Logger
	router *gin.Engine
}

// NewServer builds the router. store may be nil, in which case the run
// endpoints that read stored records answer 503.
func NewServer(cfg *config.Config, store *storage.DB, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "api"),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(s.requestLogger())

	v1 := router.Group("/v1/rivercluster")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/runs", rateLimit(cfg.Server.RunsPerSecond, cfg.Server.RunBurst), s.handleCreateRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
	}
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"trace_id", telemetry.TraceID(c.Request.Context()))
	}
}

// rateLimit rejects requests beyond perSecond with 429. perSecond <= 0
// disables the limit.
func rateLimit(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many runs, retry later"})
			return
		}
		c.Next()
	}
}
