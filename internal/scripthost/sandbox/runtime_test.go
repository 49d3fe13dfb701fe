package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRuntime(t *testing.T, mutate ...func(*Config)) *Runtime {
	t.Helper()
	config := DefaultConfig()
	config.ModuleRoot = t.TempDir()
	for _, m := range mutate {
		m(&config)
	}
	rt, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// evalText evaluates src and coerces the completion value
func evalText(t *testing.T, rt *Runtime, src string) string {
	t.Helper()
	res, err := rt.Eval(context.Background(), "main.js", src)
	require.NoError(t, err)
	out, err := rt.Text(res.Value)
	require.NoError(t, err)
	return out
}

func TestRuntimeExecution(t *testing.T) {
	rt := newTestRuntime(t)

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "simple return", script: "42", want: "42"},
		{name: "math operations", script: "Math.sqrt(16)", want: "4"},
		{name: "string operations", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "module exports", script: "module.exports = '<svg></svg>'", want: "<svg></svg>"},
		{name: "array coercion", script: "[1, 2, 3]", want: "1,2,3"},
		{name: "custom toString", script: "({ toString() { return 'custom' } })", want: "custom"},
		{name: "boolean", script: "1 < 2", want: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalText(t, rt, tt.script))
		})
	}
}

func TestRuntimeNoResult(t *testing.T) {
	rt := newTestRuntime(t)

	for _, script := range []string{"undefined", "null", "var x = 1;"} {
		t.Run(script, func(t *testing.T) {
			res, err := rt.Eval(context.Background(), "main.js", script)
			require.NoError(t, err)
			_, err = rt.Text(res.Value)
			assert.ErrorIs(t, err, ErrNoResult)
		})
	}
}

func TestRuntimeTextCoercion(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "symbol", script: "Symbol('x')", want: "Symbol(x)"},
		{name: "array", script: "[1, 2]", want: "1,2"},
		{name: "custom toString", script: "({ toString: function () { return 'axis' } })", want: "axis"},
		{name: "boolean", script: "false", want: "false"},
		{name: "String replaced by script", script: "String = function () { return 'hijacked' }; 7", want: "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t)
			assert.Equal(t, tt.want, evalText(t, rt, tt.script))
		})
	}
}

func TestRuntimeTextThrowingToString(t *testing.T) {
	rt := newTestRuntime(t)

	res, err := rt.Eval(context.Background(), "main.js", "({ toString: function () { throw new Error('no text') } })")
	require.NoError(t, err)

	_, err = rt.Text(res.Value)
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindException, evalErr.Kind)
	assert.Contains(t, evalErr.Message, "no text")
}

func TestRuntimeErrors(t *testing.T) {
	rt := newTestRuntime(t)

	tests := []struct {
		name     string
		script   string
		wantKind ErrorKind
		wantMsg  string
	}{
		{name: "syntax error", script: "function (", wantKind: KindSyntax},
		{name: "thrown error", script: "throw new Error('boom')", wantKind: KindException, wantMsg: "boom"},
		{name: "reference error", script: "notDefined.call()", wantKind: KindException, wantMsg: "notDefined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Eval(context.Background(), "main.js", tt.script)
			require.Error(t, err)

			var evalErr *EvalError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, tt.wantKind, evalErr.Kind)
			assert.Contains(t, evalErr.Message, tt.wantMsg)
			assert.False(t, evalErr.Timeout())
		})
	}
}

func TestRuntimeExceptionStack(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Eval(context.Background(), "graph.js", "function draw() { throw new Error('bad axis') }\ndraw()")
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Contains(t, evalErr.Stack, "graph.js")
	assert.Contains(t, evalErr.Stack, "draw")
}

func TestRuntimeTimeout(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.Timeout = 100 * time.Millisecond
	})

	start := time.Now()
	_, err := rt.Eval(context.Background(), "main.js", "let i = 0; while (true) { i++ }")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, KindInterrupted, evalErr.Kind)
	assert.True(t, evalErr.Timeout())
	assert.ErrorIs(t, err, ErrTimeout)

	// The interrupt does not leak into the next evaluation
	assert.Equal(t, "2", evalText(t, rt, "1 + 1"))
}

func TestRuntimeContextCancel(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.Timeout = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := rt.Eval(ctx, "main.js", "while (true) {}")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.False(t, evalErr.Timeout())
}

func TestRuntimeConsoleCapture(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rt := newTestRuntime(t, func(c *Config) {
		c.Logger = zap.New(core)
	})

	script := `
		console.log('info message', 1);
		console.warn('warning message');
		console.error('error message');
		'done'
	`
	res, err := rt.Eval(context.Background(), "main.js", script)
	require.NoError(t, err)
	require.Len(t, res.Console, 3)

	levels := []string{"log", "warn", "error"}
	for i, entry := range res.Console {
		assert.Equal(t, levels[i], entry.Level)
	}
	assert.Equal(t, "info message 1", res.Console[0].Message)
	assert.Equal(t, 3, logs.FilterMessage("Script console").Len())

	// Entries are reported per evaluation
	res, err = rt.Eval(context.Background(), "main.js", "console.info('second'); 1")
	require.NoError(t, err)
	require.Len(t, res.Console, 1)
	assert.Equal(t, "second", res.Console[0].Message)
	assert.Equal(t, 4, rt.consoleLen())
}

func TestRuntimeConsoleDisabled(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.EnableConsole = false
	})
	assert.Equal(t, "undefined", evalText(t, rt, "typeof console"))
}

func TestRuntimeGlobalsPersist(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Eval(context.Background(), "a.js", "var counter = 41;")
	require.NoError(t, err)
	assert.Equal(t, "42", evalText(t, rt, "++counter"))
}

func TestRuntimeTimersAreInert(t *testing.T) {
	rt := newTestRuntime(t)
	assert.Equal(t, "0", evalText(t, rt, "var hits = 0; setTimeout(function () { hits++ }, 0); hits"))
}

func TestRuntimeClose(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())

	_, err := rt.Eval(context.Background(), "main.js", "1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, rt.InstallDOM(), ErrClosed)
	assert.NotEmpty(t, rt.ID())
}

func TestRuntimeIDsAreUnique(t *testing.T) {
	a := newTestRuntime(t)
	b := newTestRuntime(t)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestInstallDOM(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.InstallDOM())

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "document type", script: "typeof document", want: "object"},
		{name: "body is empty", script: "document.body.childNodes.length", want: "0"},
		{name: "window document", script: "window.document === document", want: "true"},
		{name: "node identity", script: "document.body === document.querySelector('body')", want: "true"},
		{name: "document element", script: "document.documentElement.tagName", want: "HTML"},
		{name: "node type", script: "document.nodeType", want: "9"},
		{
			name: "create and query",
			script: `
				var p = document.createElement('p');
				p.id = 'msg';
				p.className = 'note big';
				p.textContent = 'hello';
				document.body.appendChild(p);
				document.getElementById('msg').textContent + ':' +
					document.getElementsByClassName('big').length + ':' +
					document.querySelectorAll('p.note').length
			`,
			want: "hello:1:1",
		},
		{
			name:   "expando survives rewrap",
			script: "document.body.__data__ = 7; document.querySelector('body').__data__",
			want:   "7",
		},
		{
			name: "svg serialization",
			script: `
				var ns = 'http://www.w3.org/2000/svg';
				var svg = document.createElementNS(ns, 'svg');
				svg.setAttribute('width', '100');
				var line = document.createElementNS(ns, 'line');
				line.setAttribute('x2', '10');
				svg.appendChild(line);
				document.body.appendChild(svg);
				svg.outerHTML
			`,
			want: `<svg width="100"><line x2="10"></line></svg>`,
		},
		{
			name: "inner html",
			script: `
				var d = document.createElement('div');
				d.innerHTML = '<span>a</span><span>b</span>';
				d.children.length + ':' + d.firstElementChild.textContent + ':' + d.innerHTML
			`,
			want: "2:a:<span>a</span><span>b</span>",
		},
		{
			name: "style",
			script: `
				var s = document.createElement('span');
				s.style.setProperty('fill', 'red');
				s.getAttribute('style') + '|' + s.style.getPropertyValue('fill')
			`,
			want: "fill: red;|red",
		},
		{
			name:   "owner document",
			script: "document.createElement('b').ownerDocument === document",
			want:   "true",
		},
		{
			name:   "connected",
			script: "var x = document.createElement('i'); var before = x.isConnected; document.body.appendChild(x); before + ',' + x.isConnected",
			want:   "false,true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalText(t, rt, tt.script))
		})
	}
}

func TestInstallDOMIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.InstallDOM())

	_, err := rt.Eval(context.Background(), "main.js", "document.body.setAttribute('data-mark', '1'); var first = document;")
	require.NoError(t, err)

	require.NoError(t, rt.InstallDOM())
	assert.Equal(t, "true", evalText(t, rt, "document === first && document.body.getAttribute('data-mark') === '1'"))
}

func TestInstallDOMKeepsScriptDocument(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := rt.Eval(context.Background(), "main.js", "var document = { custom: true };")
	require.NoError(t, err)

	require.NoError(t, rt.InstallDOM())
	assert.Equal(t, "true", evalText(t, rt, "document.custom"))
}

func TestInstallDOMDisabled(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.EnableDOM = false
	})
	require.NoError(t, rt.InstallDOM())
	assert.Equal(t, "undefined", evalText(t, rt, "typeof document"))
}

func TestDOMErrorsSurfaceAsExceptions(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.InstallDOM())

	tests := []struct {
		name   string
		script string
	}{
		{name: "append ancestor", script: "var a = document.createElement('div'); var b = document.createElement('div'); a.appendChild(b); b.appendChild(a)"},
		{name: "remove non-child", script: "document.body.removeChild(document.createElement('p'))"},
		{name: "non-node argument", script: "document.body.appendChild({})"},
		{name: "illegal invocation", script: "var f = document.body.appendChild; f(document.createElement('p'))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Eval(context.Background(), "main.js", tt.script)
			var evalErr *EvalError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, KindException, evalErr.Kind)
		})
	}
}

func TestLinkedomGlobal(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.EnableRequire = false
	})
	require.NoError(t, rt.InstallDOM())

	out := evalText(t, rt, `
		var parsed = linkedom.parseHTML('<html><body><p id="a">hi</p></body></html>');
		parsed.document.getElementById('a').textContent + ':' + (parsed.document !== document)
	`)
	assert.Equal(t, "hi:true", out)
}

func writeModule(t *testing.T, root, name, src string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(src), 0o644))
}

func TestRequire(t *testing.T) {
	rt := newTestRuntime(t)
	root := rt.config.ModuleRoot

	writeModule(t, root, "lib.js", "module.exports = { answer: 42 };")
	writeModule(t, root, "scales/index.js", "exports.linear = function (x) { return x * 2 };")
	writeModule(t, root, "data.json", `{"points": [1, 2, 3]}`)
	writeModule(t, root, "secret.txt", "nope")

	outside := t.TempDir()
	writeModule(t, outside, "secret.js", "module.exports = 'outside root';")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.js"), filepath.Join(root, "link.js")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "vendor")))

	tests := []struct {
		name    string
		script  string
		want    string
		wantErr bool
	}{
		{name: "relative file", script: "require('./lib.js').answer", want: "42"},
		{name: "extension resolution", script: "require('./lib').answer", want: "42"},
		{name: "directory index", script: "require('./scales').linear(4)", want: "8"},
		{name: "json module", script: "require('./data.json').points.length", want: "3"},
		{name: "native linkedom", script: "typeof require('linkedom').parseHTML", want: "function"},
		{name: "disallowed extension", script: "require('./secret.txt')", wantErr: true},
		{name: "missing module", script: "require('./missing.js')", wantErr: true},
		{name: "escapes root", script: "require('../outside.js')", wantErr: true},
		{name: "symlinked file outside root", script: "require('./link.js')", wantErr: true},
		{name: "symlinked dir outside root", script: "require('./vendor/secret.js')", wantErr: true},
		{name: "builtin not exposed", script: "require('fs')", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := rt.Eval(context.Background(), "main.js", tt.script)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			out, err := rt.Text(res.Value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRequireDisabled(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) {
		c.EnableRequire = false
	})
	assert.Equal(t, "undefined", evalText(t, rt, "typeof require"))
	assert.Equal(t, "object", evalText(t, rt, "typeof module.exports"))
}
