package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/scripthost/internal/infrastructure/config"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/tracing"
)

const svgScript = `
var ns = 'http://www.w3.org/2000/svg';
var svg = document.createElementNS(ns, 'svg');
svg.setAttribute('width', '40');
document.body.appendChild(svg);
module.exports = svg.outerHTML
`

func newTestServer(t *testing.T, script string, mutate ...func(*config.Config)) *Server {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "graph.js"), []byte(script), 0o644))

	cfg := config.Default()
	cfg.Script.ResourceRoot = root
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false
	for _, m := range mutate {
		m(cfg)
	}

	s, err := NewServer(cfg, WithLogger(logging.NewNop()), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func serve(s *Server, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestGraphEndpoint(t *testing.T) {
	s := newTestServer(t, svgScript)

	w := serve(s, "/graph", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	assert.Equal(t, `<svg width="40"></svg>`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(tracing.HeaderTraceID))
}

func TestGraphEndpointGzip(t *testing.T) {
	s := newTestServer(t, svgScript)

	w := serve(s, "/graph", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, `<svg width="40"></svg>`, string(body))

	// health stays uncompressed
	w = serve(s, "/health", map[string]string{"Accept-Encoding": "gzip"})
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestGraphEndpointFailures(t *testing.T) {
	t.Run("execution error", func(t *testing.T) {
		s := newTestServer(t, "(")
		w := serve(s, "/graph", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"execution"`)
	})

	t.Run("load error", func(t *testing.T) {
		s := newTestServer(t, "'x'", func(c *config.Config) {
			c.Script.Path = "static/missing.js"
		})
		w := serve(s, "/graph", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), `"kind":"load"`)
	})

	t.Run("timeout", func(t *testing.T) {
		s := newTestServer(t, "while (true) {}", func(c *config.Config) {
			c.Sandbox.Timeout = 100 * time.Millisecond
		})
		w := serve(s, "/graph", nil)
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "'hello'")

	serve(s, "/graph", nil)
	w := serve(s, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `scripthost_script_runs_total{outcome="success"} 1`)
	assert.Contains(t, body, `scripthost_http_requests_total{method="GET",path="/graph",status="200"} 1`)
	assert.True(t, strings.Contains(body, "scripthost_sandboxes_created_total 1"))
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, "'hello'")

	w := serve(s, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"scripthost"`)

	w = serve(s, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = serve(s, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitWired(t *testing.T) {
	s := newTestServer(t, "'hello'", func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerSecond = 1
		c.RateLimit.Burst = 1
	})

	assert.Equal(t, http.StatusOK, serve(s, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(s, "/health", nil).Code)
}

func TestGlobalRateLimitWired(t *testing.T) {
	s := newTestServer(t, "'hello'", func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerSecond = 100
		c.RateLimit.Burst = 100
		c.RateLimit.GlobalRPS = 1
		c.RateLimit.GlobalBurst = 1
	})

	assert.Equal(t, http.StatusOK, serve(s, "/health", nil).Code)
	w := serve(s, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestShutdownStopsHost(t *testing.T) {
	s := newTestServer(t, "'hello'")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	w := serve(s, "/graph", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "closed")
	assert.Contains(t, w.Body.String(), `"kind":"unavailable"`)
}
