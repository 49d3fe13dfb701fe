package sandbox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// LinkedomModule is the native module name scripts require for parseHTML
const LinkedomModule = "linkedom"

var errModuleOutsideRoot = errors.New("module path escapes the module root")

// enableModules wires require(), module and exports into the runtime
func (r *Runtime) enableModules() error {
	if r.config.EnableRequire {
		registry := require.NewRegistry(require.WithLoader(r.loadModuleSource))
		registry.RegisterNativeModule(LinkedomModule, r.linkedomModule)
		registry.Enable(r.vm)
	}

	// Top-level programs are not CommonJS modules; give them a module object
	// so `module.exports = value` works as the final statement
	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return err
	}
	if err := r.vm.Set("module", module); err != nil {
		return err
	}
	return r.vm.Set("exports", exports)
}

// linkedomModule exports parseHTML backed by the runtime's DOM binder
func (r *Runtime) linkedomModule(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("parseHTML", r.dom.parseHTML)
}

// linkedomObject builds the same exports without going through require
func (r *Runtime) linkedomObject() *goja.Object {
	obj := r.vm.NewObject()
	_ = obj.Set("parseHTML", r.dom.parseHTML)
	return obj
}

// loadModuleSource reads a module file for require(). Paths arrive
// slash-separated and relative to the module root. Files are opened through
// an os.Root, so symlinks cannot lead outside it. Files that fall outside
// the allow patterns are reported as missing so resolution can move on to
// the next candidate (lib -> lib.js -> lib/index.js).
func (r *Runtime) loadModuleSource(p string) ([]byte, error) {
	clean := path.Clean(strings.TrimPrefix(p, "./"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, fmt.Errorf("%w: %s", errModuleOutsideRoot, p)
	}

	if !r.moduleAllowed(clean) {
		return nil, require.ModuleFileDoesNotExistError
	}

	root, err := os.OpenRoot(r.config.ModuleRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open module root: %w", err)
	}
	defer root.Close()

	name := filepath.FromSlash(clean)
	info, err := root.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, require.ModuleFileDoesNotExistError
		}
		return nil, fmt.Errorf("%w: %s: %v", errModuleOutsideRoot, p, err)
	}
	if info.IsDir() {
		return nil, require.ModuleFileDoesNotExistError
	}

	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errModuleOutsideRoot, p, err)
	}
	defer f.Close()

	return io.ReadAll(f)
}

func (r *Runtime) moduleAllowed(p string) bool {
	for _, pattern := range r.config.RequireAllow {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
	}
	return false
}
