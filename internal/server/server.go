// Package server exposes the engine's command surface (spec §6) over
// HTTP via gin, generalizing the teacher's net/http JobQueue server
// (internal/server/server.go) into a thin REST+SSE adapter over
// engine.Engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3u8dl/engine/internal/engine"
	"github.com/m3u8dl/engine/internal/version"
)

// Server is the HTTP command-surface adapter for one engine.Engine.
type Server struct {
	port   int
	apiKey string
	engine *engine.Engine
	srv    *http.Server
}

// New builds a command-surface server backed by an engine sized for
// poolSize concurrent segment fetches across every task combined.
func New(port, poolSize int, apiKey string) *Server {
	return &Server{
		port:   port,
		apiKey: apiKey,
		engine: engine.NewEngine(poolSize),
	}
}

// Start runs the HTTP server until the process is asked to stop.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if s.apiKey != "" {
		r.Use(s.authMiddleware)
	}

	r.GET("/health", s.handleHealth)
	r.POST("/download", s.handleStartDownload)
	r.GET("/download/:id", s.handleQuery)
	r.GET("/download/:id/events", s.handleEvents)
	r.DELETE("/download/:id", s.handleCancel)
	r.DELETE("/download/:id/temp", s.handleDeleteDownload)
	r.DELETE("/file", s.handleDeleteFile)
	r.GET("/cpu-info", s.handleCPUInfo)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived SSE streams
		IdleTimeout:  120 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) authMiddleware(c *gin.Context) {
	if c.Request.URL.Path == "/health" {
		c.Next()
		return
	}
	if c.GetHeader("X-API-Key") != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

type startDownloadRequest struct {
	ID          string            `json:"id" binding:"required"`
	URL         string            `json:"url" binding:"required"`
	Name        string            `json:"name" binding:"required"`
	OutputDir   string            `json:"output_dir" binding:"required"`
	ThreadCount int               `json:"thread_count"`
	Headers     map[string]string `json:"headers"`
}

// handleStartDownload implements `start_download` (spec §6).
func (s *Server) handleStartDownload(c *gin.Context) {
	var req startDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ThreadCount <= 0 {
		req.ThreadCount = 8
	}

	task, err := s.engine.StartDownload(req.ID, req.URL, req.Name, req.OutputDir, req.ThreadCount, req.Headers)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshotJSON(task))
}

// handleQuery implements `query`: a poll-style status check alongside
// the SSE event stream.
func (s *Server) handleQuery(c *gin.Context) {
	task, ok := s.engine.Query(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task id"})
		return
	}
	c.JSON(http.StatusOK, snapshotJSON(task))
}

// handleEvents streams task's event bus as SSE.
func (s *Server) handleEvents(c *gin.Context) {
	task, ok := s.engine.Query(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task id"})
		return
	}
	streamEvents(c, task)
}

// handleCancel implements `cancel_download` (spec §6, idempotent).
func (s *Server) handleCancel(c *gin.Context) {
	s.engine.CancelDownload(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

// handleDeleteDownload implements `delete_download`: cancels if active
// and removes the task's temp directory.
func (s *Server) handleDeleteDownload(c *gin.Context) {
	outputDir := c.Query("output_dir")
	if outputDir == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "output_dir is required"})
		return
	}
	if err := s.engine.DeleteDownload(c.Param("id"), outputDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
}

// handleDeleteFile implements `delete_file`: unconditional removal of a
// finalized MP4 (spec §9's second Open Question).
func (s *Server) handleDeleteFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	if err := s.engine.DeleteFile(path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

// handleCPUInfo implements `get_cpu_info` (spec §6).
func (s *Server) handleCPUInfo(c *gin.Context) {
	info, err := s.engine.GetCPUInfo()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"physical_cores": info.PhysicalCores,
		"logical_cores":  info.LogicalCores,
	})
}

func snapshotJSON(task *engine.Task) gin.H {
	snap := task.Snapshot()
	return gin.H{
		"id":          task.ID,
		"status":      int(snap.Status),
		"done_count":  snap.DoneCount,
		"total_count": snap.TotalCount,
		"bytes_total": snap.BytesTotal,
		"speed_bps":   snap.SpeedBps,
	}
}
