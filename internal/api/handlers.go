package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llm-bench/llm-bench/internal/service/orchestrator"
	"github.com/llm-bench/llm-bench/internal/storage"
	"github.com/llm-bench/llm-bench/pkg/models"
)

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// RunsResponse lists every run of the current matrix
type RunsResponse struct {
	MatrixID string                  `json:"matrix_id"`
	Runs     []orchestrator.RunState `json:"runs"`
	Count    int                     `json:"count"`
}

// ScoreboardResponse is the scoreboard of completed runs so far
type ScoreboardResponse struct {
	MatrixID   string            `json:"matrix_id"`
	Scoreboard models.Scoreboard `json:"scoreboard"`
}

func (s *Server) errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{
		Error:     msg,
		RequestID: c.GetString("request_id"),
	})
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  map[string]string{"status_board": "ok"},
	}

	if s.history != nil {
		response.Services["history"] = "ok"
	} else {
		response.Services["history"] = "disabled"
	}

	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !response.Ready {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleListRuns(c *gin.Context) {
	runs := s.status.Runs()
	c.JSON(http.StatusOK, RunsResponse{
		MatrixID: s.status.MatrixID(),
		Runs:     runs,
		Count:    len(runs),
	})
}

func (s *Server) handleGetRun(c *gin.Context) {
	name := c.Param("name")

	run, ok := s.status.Run(name)
	if !ok {
		s.errorJSON(c, http.StatusNotFound, "run not found: "+name)
		return
	}

	c.JSON(http.StatusOK, run)
}

func (s *Server) handleScoreboard(c *gin.Context) {
	c.JSON(http.StatusOK, ScoreboardResponse{
		MatrixID:   s.status.MatrixID(),
		Scoreboard: s.status.Scoreboard(),
	})
}

func (s *Server) handleListHistory(c *gin.Context) {
	if s.history == nil {
		s.errorJSON(c, http.StatusNotImplemented, "history store not configured")
		return
	}

	var query models.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		s.errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.history.ListRunResults(c.Request.Context(), query)
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "failed to list run history", "error", err)
		s.errorJSON(c, http.StatusInternalServerError, "failed to list run history")
		return
	}
	if results == nil {
		results = []*models.RunResult{}
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleGetHistory(c *gin.Context) {
	if s.history == nil {
		s.errorJSON(c, http.StatusNotImplemented, "history store not configured")
		return
	}

	result, err := s.history.GetRunResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorJSON(c, http.StatusNotFound, err.Error())
			return
		}
		s.errorJSON(c, http.StatusInternalServerError, "failed to get run result")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListMatrices(c *gin.Context) {
	if s.history == nil {
		s.errorJSON(c, http.StatusNotImplemented, "history store not configured")
		return
	}

	var query struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		s.errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	matrices, err := s.history.ListMatrices(c.Request.Context(), query.Limit)
	if err != nil {
		s.errorJSON(c, http.StatusInternalServerError, "failed to list matrix runs")
		return
	}
	if matrices == nil {
		matrices = []*models.MatrixRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"matrices": matrices,
		"count":    len(matrices),
	})
}
