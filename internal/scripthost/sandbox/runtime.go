package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runtime wraps one goja VM. A runtime is meant to serve a single host
// call and is never shared between callers.
type Runtime struct {
	id     string
	vm     *goja.Runtime
	dom    *domBinder
	config Config
	mu     sync.Mutex
	closed bool

	// The built-in String, captured before any script can replace it
	toString goja.Callable

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	vm := goja.New()

	r := &Runtime{
		id:      uuid.NewString(),
		vm:      vm,
		config:  config,
		console: []LogEntry{},
	}

	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}

	r.dom = newDOMBinder(vm)

	toString, ok := goja.AssertFunction(vm.Get("String"))
	if !ok {
		return nil, fmt.Errorf("runtime has no String function")
	}
	r.toString = toString

	if err := r.setupGlobals(); err != nil {
		return nil, fmt.Errorf("failed to set up sandbox globals: %w", err)
	}
	if err := r.enableModules(); err != nil {
		return nil, fmt.Errorf("failed to enable modules: %w", err)
	}

	return r, nil
}

// ID returns the runtime's unique identifier
func (r *Runtime) ID() string {
	return r.id
}

// InstallDOM binds a fresh <html><body></body></html> document as the
// global `document` unless one is already defined. Calling it again is a
// no-op, so an existing document (including one a script assigned itself)
// is never replaced.
func (r *Runtime) InstallDOM() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.config.EnableDOM {
		return nil
	}

	global := r.vm.GlobalObject()
	if global.Get(LinkedomModule) == nil {
		if err := global.Set(LinkedomModule, r.linkedomObject()); err != nil {
			return err
		}
	}
	if existing := global.Get("document"); existing != nil && !goja.IsUndefined(existing) {
		return nil
	}

	db, err := r.dom.newDocument(DefaultHTML)
	if err != nil {
		return err
	}
	if err := global.Set("document", r.dom.object(db.doc.Root())); err != nil {
		return err
	}
	if window := global.Get("window"); window == nil || goja.IsUndefined(window) {
		return global.Set("window", db.window)
	}
	return nil
}

// Eval compiles and runs src as one program. Globals persist across calls
// on the same runtime. The timeout and ctx only bound this evaluation.
func (r *Runtime) Eval(ctx context.Context, name, src string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	mark := r.consoleLen()

	program, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, classify(err)
	}

	stop := r.watch(ctx)
	val, err := r.run(program)
	stop()

	result := &Result{
		Value:    val,
		Console:  r.consoleSince(mark),
		Duration: time.Since(start),
	}

	if err != nil {
		return result, classify(err)
	}
	return result, nil
}

// watch interrupts the VM when the timeout fires or ctx ends. The returned
// func stops the watcher and clears any interrupt that raced completion.
func (r *Runtime) watch(ctx context.Context) func() {
	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	if r.config.Timeout > 0 {
		timer = time.NewTimer(r.config.Timeout)
		timeout = timer.C
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timeout:
			r.vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	return func() {
		if timer != nil {
			timer.Stop()
		}
		close(done)
		wg.Wait()
		r.vm.ClearInterrupt()
	}
}

// run executes the program, turning Go panics raised by host bindings into errors
func (r *Runtime) run(program *goja.Program) (val goja.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &EvalError{
				Kind:    KindInternal,
				Message: fmt.Sprintf("host panic: %v", p),
			}
		}
	}()
	return r.vm.RunProgram(program)
}

// Text coerces a completion value to a string with JavaScript String()
// semantics. undefined and null yield ErrNoResult.
func (r *Runtime) Text(v goja.Value) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	if isNullish(v) {
		return "", ErrNoResult
	}
	if s, ok := v.Export().(string); ok {
		return s, nil
	}

	text, err := r.toString(goja.Undefined(), v)
	if err != nil {
		return "", classify(err)
	}
	return text.String(), nil
}

func (r *Runtime) consoleLen() int {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return len(r.console)
}

func (r *Runtime) consoleSince(mark int) []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console[mark:]...)
}

// setupGlobals configures global objects
func (r *Runtime) setupGlobals() error {
	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error", "debug"} {
			if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return err
		}
	}

	// Timers never fire: scripts run to completion in one synchronous pass
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return err
		}
	}

	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		if r.config.Logger != nil {
			r.config.Logger.Debug("Script console",
				zap.String("sandbox_id", r.id),
				zap.String("level", level),
				zap.String("message", msg),
			)
		}

		return goja.Undefined()
	}
}

// Close releases the VM. Further calls fail with ErrClosed.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.vm = nil
	r.dom = nil

	r.consoleMu.Lock()
	r.console = nil
	r.consoleMu.Unlock()
	return nil
}

// classify converts an engine error into an *EvalError
func classify(err error) *EvalError {
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return &EvalError{Kind: KindSyntax, Message: syntaxErr.Error(), Err: err}
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, _ := interrupted.Value().(error)
		if cause == nil {
			cause = err
		}
		return &EvalError{
			Kind:    KindInterrupted,
			Message: interrupted.Error(),
			Stack:   interrupted.String(),
			Err:     cause,
		}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &EvalError{
			Kind:    KindException,
			Message: exception.Error(),
			Stack:   exception.String(),
			Err:     err,
		}
	}

	return &EvalError{Kind: KindInternal, Message: err.Error(), Err: err}
}
