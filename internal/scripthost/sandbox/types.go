package sandbox

import (
	"errors"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var (
	// ErrTimeout is the interrupt reason when an evaluation runs too long
	ErrTimeout = errors.New("execution timeout exceeded")
	// ErrClosed is returned by a runtime after Close
	ErrClosed = errors.New("sandbox is closed")
	// ErrNoResult means the program's completion value was undefined or null
	ErrNoResult = errors.New("script produced no result")
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Per-evaluation timeout; zero disables it
	MaxCallStack  int           // Maximum JS call stack depth; zero keeps goja's default
	EnableConsole bool          // Capture console.log/info/warn/error/debug
	EnableDOM     bool          // Allow InstallDOM to bind document/window
	EnableRequire bool          // Expose CommonJS require()
	ModuleRoot    string        // Directory require() resolves relative paths against
	RequireAllow  []string      // doublestar patterns a required file must match
	Logger        *zap.Logger   // Receives console output at debug level; may be nil
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		MaxCallStack:  1024,
		EnableConsole: true,
		EnableDOM:     true,
		EnableRequire: true,
		ModuleRoot:    ".",
		RequireAllow:  []string{"**/*.js", "**/*.json"},
	}
}

// Result holds one evaluation's outcome. Value is only meaningful while
// the runtime that produced it is open.
type Result struct {
	Value    goja.Value    // Completion value of the program
	Console  []LogEntry    // Console output produced during this evaluation
	Duration time.Duration // Evaluation time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, info, warn, error, debug
	Message string    // Space-joined arguments
	Time    time.Time // Timestamp
}

// ErrorKind classifies evaluation failures
type ErrorKind string

const (
	KindSyntax      ErrorKind = "syntax"
	KindException   ErrorKind = "exception"
	KindInterrupted ErrorKind = "interrupted"
	KindInternal    ErrorKind = "internal"
)

// EvalError is the diagnostic reported by the engine for a failed evaluation
type EvalError struct {
	Kind    ErrorKind
	Message string // Engine diagnostic text
	Stack   string // JS stack trace, when the engine provides one
	Err     error  // Underlying engine error
}

func (e *EvalError) Error() string {
	return e.Message
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the evaluation was stopped by the sandbox timeout
func (e *EvalError) Timeout() bool {
	return e.Kind == KindInterrupted && errors.Is(e.Err, ErrTimeout)
}
