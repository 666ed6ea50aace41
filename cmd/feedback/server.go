// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/diagnostics"
	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

const (
	defaultListLimit        = 20
	serverShutdownTimeout   = 10 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
)

// bundleGenerator produces one feedback archive per call.
type bundleGenerator interface {
	Generate(ctx context.Context, auxiliaryRoots []string) (*diagnostics.ArchiveBundle, error)
}

// archiveLister lists finished archives, newest first.
type archiveLister interface {
	List(ctx context.Context, limit int) ([]diagnostics.ArchiveEntry, error)
}

// -----------------------------------------------------------------------------
// Request / Response Types
// -----------------------------------------------------------------------------

// CreateBundleRequest is the body of POST /v1/bundles. An empty body is a
// bundle without auxiliary paths.
type CreateBundleRequest struct {
	AuxPaths []string `json:"aux_paths"`
	Upload   bool     `json:"upload"`
}

// BundleResponse describes a finished archive.
type BundleResponse struct {
	diagnostics.ArchiveBundle
	UploadURL string `json:"upload_url,omitempty"`
}

// ListBundlesResponse is the body of GET /v1/bundles.
type ListBundlesResponse struct {
	Bundles []diagnostics.ArchiveEntry `json:"bundles"`
	Count   int                        `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// -----------------------------------------------------------------------------
// BundleServer
// -----------------------------------------------------------------------------

type bundleJob struct {
	auxPaths []string
	upload   bool
	logger   *logging.Logger
	result   chan bundleResult
}

type bundleResult struct {
	bundle    *diagnostics.ArchiveBundle
	uploadURL string
	err       error
	uploadErr error
}

// BundleServer exposes bundle generation over HTTP.
//
// # Description
//
// Requests never run the pipeline themselves. They hand a job to a single
// worker goroutine started by Start and wait for its result. A job keeps
// running when its client disconnects so cleanup always completes.
//
// # Thread Safety
//
// Safe for concurrent use once Start has been called.
type BundleServer struct {
	generator      bundleGenerator
	lister         archiveLister
	upload         func(ctx context.Context, path string) (string, error)
	metricsHandler http.Handler
	logger         *logging.Logger

	jobs    chan bundleJob
	stopped chan struct{}
	wg      sync.WaitGroup
}

// BundleServerConfig holds the collaborators of a BundleServer. Upload and
// MetricsHandler are optional.
type BundleServerConfig struct {
	Generator      bundleGenerator
	Lister         archiveLister
	Upload         func(ctx context.Context, path string) (string, error)
	MetricsHandler http.Handler
	Logger         *logging.Logger
}

// NewBundleServer creates a server. Call Start before serving requests.
func NewBundleServer(config BundleServerConfig) *BundleServer {
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &BundleServer{
		generator:      config.Generator,
		lister:         config.Lister,
		upload:         config.Upload,
		metricsHandler: config.MetricsHandler,
		logger:         logger,
		jobs:           make(chan bundleJob),
		stopped:        make(chan struct{}),
	}
}

// Start launches the worker. The worker exits when ctx is cancelled; jobs
// submitted afterwards are rejected with 503.
func (s *BundleServer) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-s.jobs:
				job.result <- s.execute(ctx, job)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (s *BundleServer) Wait() {
	s.wg.Wait()
}

func (s *BundleServer) execute(ctx context.Context, job bundleJob) bundleResult {
	bundle, err := s.generator.Generate(ctx, job.auxPaths)
	if err != nil {
		return bundleResult{err: err}
	}

	res := bundleResult{bundle: bundle}
	if job.upload {
		if s.upload == nil {
			res.uploadErr = errors.New("upload is not configured")
		} else {
			res.uploadURL, res.uploadErr = s.upload(ctx, bundle.Path)
		}
		if res.uploadErr != nil {
			job.logger.Warn("bundle kept locally after upload failure", "path", bundle.Path, "error", res.uploadErr)
		}
	}
	return res
}

// Router builds the gin engine.
//
// # Endpoints
//
//	POST /v1/bundles - Generate a bundle
//	GET  /v1/bundles - List finished bundles
//	GET  /healthz    - Liveness
//	GET  /metrics    - Prometheus metrics (when enabled)
func (s *BundleServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	v1 := router.Group("/v1")
	v1.POST("/bundles", s.HandleCreateBundle)
	v1.GET("/bundles", s.HandleListBundles)

	router.GET("/healthz", s.HandleHealth)
	if s.metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(s.metricsHandler))
	}
	return router
}

// HandleCreateBundle handles POST /v1/bundles.
//
// Response:
//
//	200 OK: BundleResponse
//	400 Bad Request: Invalid body
//	409 Conflict: Another process holds the storage directory
//	500 Internal Server Error: No archive produced
//	502 Bad Gateway: Archive produced but upload failed
//	503 Service Unavailable: Server shutting down
func (s *BundleServer) HandleCreateBundle(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleCreateBundle")

	var req CreateBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	job := bundleJob{
		auxPaths: req.AuxPaths,
		upload:   req.Upload,
		logger:   logger,
		result:   make(chan bundleResult, 1),
	}

	select {
	case s.jobs <- job:
	case <-s.stopped:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "server is shutting down",
			Code:  "UNAVAILABLE",
		})
		return
	case <-c.Request.Context().Done():
		return
	}

	var res bundleResult
	select {
	case res = <-job.result:
	case <-c.Request.Context().Done():
		logger.Info("client went away; bundle continues in the background")
		return
	}

	if res.err != nil {
		status, code := bundleErrorStatus(res.err)
		logger.Error("bundle failed", "error", res.err, "stage", string(diagnostics.FailedStage(res.err)))
		c.JSON(status, ErrorResponse{
			Error:   "no archive produced",
			Code:    code,
			Details: res.err.Error(),
		})
		return
	}

	if res.uploadErr != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "archive produced but upload failed",
			Code:    "UPLOAD_FAILED",
			Details: res.bundle.Path + ": " + res.uploadErr.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, BundleResponse{ArchiveBundle: *res.bundle, UploadURL: res.uploadURL})
}

// HandleListBundles handles GET /v1/bundles?limit=N.
func (s *BundleServer) HandleListBundles(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	entries, err := s.lister.List(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("listing bundles failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}
	if entries == nil {
		entries = []diagnostics.ArchiveEntry{}
	}
	c.JSON(http.StatusOK, ListBundlesResponse{Bundles: entries, Count: len(entries)})
}

// HandleHealth handles GET /healthz.
func (s *BundleServer) HandleHealth(c *gin.Context) {
	status := "healthy"
	select {
	case <-s.stopped:
		status = "stopping"
	default:
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func (s *BundleServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("feedback server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("feedback server stopped")
	return nil
}

func bundleErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, diagnostics.ErrRunInProgress):
		return http.StatusConflict, "RUN_IN_PROGRESS"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	case errors.Is(err, diagnostics.ErrArchiveFailure):
		return http.StatusInternalServerError, "ARCHIVE_FAILED"
	case errors.Is(err, diagnostics.ErrExecutionFailed):
		return http.StatusInternalServerError, "COLLECTION_FAILED"
	default:
		return http.StatusInternalServerError, "IO_FAILURE"
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
