package scripthost

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scripthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scripthost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scripthost/internal/scripthost/sandbox"
	"github.com/GriffinCanCode/scripthost/internal/shared/id"
)

// Options configures a Host
type Options struct {
	ScriptPath    string         // Script file, absolute or relative to the working directory
	Sandbox       sandbox.Config // Per-call sandbox settings; ModuleRoot defaults to the script directory
	MaxConcurrent int            // Sandboxes allowed at once
	AcquireWait   time.Duration  // Longest wait for a free sandbox; zero waits on ctx only
	Sanitize      bool           // Pass results through the SVG sanitizer
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
}

// Host runs one script file per call in a fresh sandbox
type Host struct {
	scriptPath string
	limiter    *sandbox.Limiter
	sanitizer  *Sanitizer
	logger     *zap.Logger
	metrics    *monitoring.Metrics
}

// New creates a script host
func New(opts Options) (*Host, error) {
	if opts.ScriptPath == "" {
		return nil, fmt.Errorf("script path is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := opts.Sandbox
	if cfg.ModuleRoot == "" {
		cfg.ModuleRoot = filepath.Dir(opts.ScriptPath)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("sandbox")
	}

	limiterOpts := []sandbox.LimiterOption{sandbox.WithAcquireTimeout(opts.AcquireWait)}
	if opts.Metrics != nil {
		limiterOpts = append(limiterOpts, sandbox.WithObserver(opts.Metrics))
	}

	h := &Host{
		scriptPath: opts.ScriptPath,
		limiter:    sandbox.NewLimiter(cfg, opts.MaxConcurrent, limiterOpts...),
		logger:     logger,
		metrics:    opts.Metrics,
	}
	if opts.Sanitize {
		h.sanitizer = NewSanitizer()
	}

	return h, nil
}

// GenerateGraph reads the script, runs it with a DOM shim installed, and
// returns its final value as text. Errors are *ScriptLoadError,
// *ScriptExecutionError or *UnavailableError.
func (h *Host) GenerateGraph(ctx context.Context) (string, error) {
	execID := id.NewExecutionID()
	log := h.logger.With(tracing.Fields(ctx)...).With(
		zap.String("execution_id", execID.String()),
		zap.String("script", h.scriptPath),
	)
	timer := monitoring.NewTimer(h.metrics)

	src, err := ReadScript(h.scriptPath)
	if err != nil {
		timer.Stop(monitoring.OutcomeLoad, 0)
		log.Error("Failed to load script", zap.Error(err))
		return "", err
	}

	var (
		out       string
		sandboxID string
		console   int
	)
	err = h.limiter.Run(ctx, func(rt *sandbox.Runtime) error {
		sandboxID = rt.ID()

		if err := rt.InstallDOM(); err != nil {
			return fmt.Errorf("failed to install DOM: %w", err)
		}

		res, err := rt.Eval(ctx, filepath.Base(h.scriptPath), src)
		if res != nil {
			console = len(res.Console)
			h.recordConsole(res.Console)
		}
		if err != nil {
			return err
		}

		out, err = rt.Text(res.Value)
		return err
	})
	if errors.Is(err, sandbox.ErrAcquireTimeout) || errors.Is(err, sandbox.ErrLimiterClosed) {
		duration := timer.Stop(monitoring.OutcomeRejected, 0)
		log.Warn("No sandbox available", zap.Duration("waited", duration), zap.Error(err))
		return "", &UnavailableError{Script: h.scriptPath, Err: err}
	}
	if err != nil {
		execErr := h.executionError(err)
		outcome := monitoring.OutcomeExecution
		if execErr.Timeout {
			outcome = monitoring.OutcomeTimeout
		}
		duration := timer.Stop(outcome, 0)

		log.Error("Script execution failed",
			zap.String("sandbox_id", sandboxID),
			zap.Bool("timeout", execErr.Timeout),
			zap.Duration("duration", duration),
			zap.String("stack", execErr.Stack),
			zap.Error(err),
		)
		return "", execErr
	}

	if h.sanitizer != nil {
		out = h.sanitizer.Sanitize(out)
	}

	duration := timer.Stop(monitoring.OutcomeSuccess, len(out))
	log.Debug("Script executed",
		zap.String("sandbox_id", sandboxID),
		zap.Duration("duration", duration),
		zap.Int("console_entries", console),
		zap.Int("bytes", len(out)),
	)

	return out, nil
}

func (h *Host) executionError(err error) *ScriptExecutionError {
	execErr := &ScriptExecutionError{
		Script:  h.scriptPath,
		Message: err.Error(),
		Err:     err,
	}

	var evalErr *sandbox.EvalError
	if errors.As(err, &evalErr) {
		execErr.Stack = evalErr.Stack
		execErr.Timeout = evalErr.Timeout()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		execErr.Timeout = true
	}
	return execErr
}

func (h *Host) recordConsole(entries []sandbox.LogEntry) {
	if h.metrics == nil {
		return
	}
	for _, e := range entries {
		h.metrics.RecordConsole(e.Level)
	}
}

// ScriptPath returns the script file the host runs
func (h *Host) ScriptPath() string {
	return h.scriptPath
}

// Stats reports sandbox usage
func (h *Host) Stats() sandbox.Stats {
	return h.limiter.Stats()
}

// Close stops accepting new calls
func (h *Host) Close() error {
	return h.limiter.Close()
}
