package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/lotus/internal/application/orchestrator"
	"github.com/garyjia/lotus/internal/application/port"
	"github.com/garyjia/lotus/internal/application/service"
	"github.com/garyjia/lotus/internal/domain/entity"
)

// InferenceService is the application service behind the API
type InferenceService interface {
	Infer(ctx context.Context, in service.InferInput) (*service.InferOutput, error)
	ReplayDeferred(ctx context.Context) (*service.ReplayReport, error)
	ListTasks(ctx context.Context, status string, limit int) ([]*port.TaskRecord, error)
}

// TextExtractor turns an uploaded file into raw text
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// TaskExporter renders tasks as a spreadsheet
type TaskExporter interface {
	Write(w io.Writer, tasks []*port.TaskRecord) error
}

// BudgetReporter reports the daily cloud budget
type BudgetReporter interface {
	Snapshot() orchestrator.BudgetSnapshot
}

// CallStats reports model call attempts per tier
type CallStats interface {
	Local() int64
	Cloud() int64
}

// Dependencies are the collaborators the handlers call
type Dependencies struct {
	Service   InferenceService
	Extractor TextExtractor
	Exporter  TaskExporter
	Budget    BudgetReporter
	Calls     CallStats
	Version   string
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps           Dependencies
	maxUploadBytes int64
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, maxUploadBytes int64, logger Logger) *Handlers {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	return &Handlers{
		deps:           deps,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// InferRequest is the body of POST /api/infer
type InferRequest struct {
	Text       string    `json:"text" binding:"required"`
	SourceType string    `json:"source_type" binding:"required"`
	SourceID   string    `json:"source_id"`
	OriginTime time.Time `json:"origin_time"`
}

// BudgetResponse reports budget and model call counters
type BudgetResponse struct {
	orchestrator.BudgetSnapshot
	LocalCalls int64 `json:"local_calls"`
	CloudCalls int64 `json:"cloud_calls"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	exportLimit      = 10000
)

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.deps.Version,
		},
	})
}

// Infer handles POST /api/infer
func (h *Handlers) Infer(c *gin.Context) {
	var req InferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid infer request", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body: text and source_type are required",
		})
		return
	}

	h.runInfer(c, service.InferInput{
		RawText:    req.Text,
		SourceType: entity.SourceType(req.SourceType),
		SourceID:   req.SourceID,
		OriginTime: req.OriginTime,
	})
}

// InferUpload handles POST /api/infer/upload with a multipart "file" field
func (h *Handlers) InferUpload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, Response{Success: false, Error: "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "missing file field"})
		return
	}

	f, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to read upload"})
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		h.logger.Error("Failed to read upload", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to read upload"})
		return
	}

	text, err := h.deps.Extractor.Extract(c.Request.Context(), header.Filename, buf.Bytes())
	if err != nil {
		h.logger.Error("Failed to extract upload text", "error", err, "file", header.Filename)
		c.JSON(http.StatusUnprocessableEntity, Response{
			Success: false,
			Error:   fmt.Sprintf("cannot extract text: %v", err),
		})
		return
	}

	sourceID := c.PostForm("source_id")
	if sourceID == "" {
		sourceID = header.Filename
	}

	h.runInfer(c, service.InferInput{
		RawText:    text,
		SourceType: entity.SourceFileUpload,
		SourceID:   sourceID,
	})
}

func (h *Handlers) runInfer(c *gin.Context, in service.InferInput) {
	out, err := h.deps.Service.Infer(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
		h.logger.Error("Inference failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "inference failed"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// ListTasks handles GET /api/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid limit"})
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	tasks, err := h.deps.Service.ListTasks(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.logger.Error("Failed to list tasks", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []*port.TaskRecord{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// ExportTasks handles GET /api/tasks/export
func (h *Handlers) ExportTasks(c *gin.Context) {
	tasks, err := h.deps.Service.ListTasks(c.Request.Context(), c.Query("status"), exportLimit)
	if err != nil {
		h.logger.Error("Failed to load tasks for export", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to export tasks"})
		return
	}

	var buf bytes.Buffer
	if err := h.deps.Exporter.Write(&buf, tasks); err != nil {
		h.logger.Error("Failed to render export", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to export tasks"})
		return
	}

	filename := fmt.Sprintf("tasks-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// Budget handles GET /api/budget
func (h *Handlers) Budget(c *gin.Context) {
	resp := BudgetResponse{BudgetSnapshot: h.deps.Budget.Snapshot()}
	if h.deps.Calls != nil {
		resp.LocalCalls = h.deps.Calls.Local()
		resp.CloudCalls = h.deps.Calls.Cloud()
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// ReplayDeferred handles POST /api/deferred/replay
func (h *Handlers) ReplayDeferred(c *gin.Context) {
	report, err := h.deps.Service.ReplayDeferred(c.Request.Context())
	if err != nil {
		h.logger.Error("Deferred replay failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "replay failed"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}
