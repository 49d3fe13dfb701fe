package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scripthost/internal/scripthost"
	"github.com/GriffinCanCode/scripthost/internal/scripthost/sandbox"
)

// Version is reported by the root endpoint
const Version = "0.1.0"

// Content types returned by the graph endpoint
const (
	ContentTypeSVG  = "image/svg+xml"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Error kinds in failure bodies
const (
	KindLoad        = "load"
	KindExecution   = "execution"
	KindUnavailable = "unavailable"
	KindInternal    = "internal"
)

// ScriptHost is the script runner behind the graph endpoint
type ScriptHost interface {
	GenerateGraph(ctx context.Context) (string, error)
	Stats() sandbox.Stats
}

// ErrorResponse is the JSON body of a failed graph request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	host    ScriptHost
	metrics *monitoring.Metrics
	started time.Time
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(host ScriptHost, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		host:    host,
		metrics: metrics,
		started: time.Now(),
	}
}

// Root describes the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"service":   "scripthost",
		"version":   Version,
		"endpoints": []string{"/graph", "/health", "/metrics"},
	})
}

// Health reports liveness with sandbox usage
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"sandboxes": h.host.Stats(),
	}
	if h.metrics != nil {
		resp["scripts"] = h.metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// Graph runs the script and returns its text. SVG output is served as
// image/svg+xml, anything else as plain text.
func (h *Handlers) Graph(c *gin.Context) {
	out, err := h.host.GenerateGraph(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		status, body := errorResponse(err)
		if status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
		c.JSON(status, body)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType(out), []byte(out))
}

func contentType(out string) string {
	if strings.HasPrefix(strings.TrimSpace(out), "<svg") {
		return ContentTypeSVG
	}
	return ContentTypeText
}

// errorResponse maps host errors to a status and body. Timeouts become 504
// and calls that never got a sandbox 503.
func errorResponse(err error) (int, ErrorResponse) {
	var (
		loadErr *scripthost.ScriptLoadError
		execErr *scripthost.ScriptExecutionError
		busyErr *scripthost.UnavailableError
	)

	switch {
	case errors.As(err, &busyErr):
		return http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Kind: KindUnavailable}
	case errors.As(err, &loadErr):
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: KindLoad}
	case errors.As(err, &execErr):
		status := http.StatusInternalServerError
		if execErr.Timeout {
			status = http.StatusGatewayTimeout
		}
		return status, ErrorResponse{Error: err.Error(), Kind: KindExecution}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: KindInternal}
	}
}
