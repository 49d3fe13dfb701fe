package scripthost

import (
	"errors"
	"fmt"
)

var (
	// ErrScriptLoad matches every *ScriptLoadError
	ErrScriptLoad = errors.New("script load failed")
	// ErrScriptExecution matches every *ScriptExecutionError
	ErrScriptExecution = errors.New("script execution failed")
	// ErrUnavailable matches every *UnavailableError
	ErrUnavailable = errors.New("script host unavailable")
)

// ScriptLoadError means the script resource could not be read or decoded.
// No sandbox is created when loading fails.
type ScriptLoadError struct {
	Path string
	Err  error
}

func (e *ScriptLoadError) Error() string {
	return fmt.Sprintf("failed to load script %s: %v", e.Path, e.Err)
}

func (e *ScriptLoadError) Unwrap() error {
	return e.Err
}

func (e *ScriptLoadError) Is(target error) bool {
	return target == ErrScriptLoad
}

// ScriptExecutionError carries the diagnostic the sandbox reported
type ScriptExecutionError struct {
	Script  string // Script path
	Message string // Engine diagnostic text
	Stack   string // JS stack trace, if any
	Timeout bool   // Stopped by the sandbox timeout or a context deadline
	Err     error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script %s failed: %s", e.Script, e.Message)
}

func (e *ScriptExecutionError) Unwrap() error {
	return e.Err
}

func (e *ScriptExecutionError) Is(target error) bool {
	return target == ErrScriptExecution
}

// UnavailableError means no sandbox could be obtained for the call. The
// script never ran.
type UnavailableError struct {
	Script string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("script %s not run: %v", e.Script, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}
