/*
Package sandbox runs JavaScript in isolated goja runtimes with a minimal
browser-like document.

# Overview

A Runtime wraps one goja VM. Each runtime has:

  - A per-evaluation timeout enforced through vm.Interrupt
  - A bounded call stack
  - Captured console output
  - An optional DOM shim exposed as the global `document`
  - CommonJS require() restricted to an allow-listed module root

# DOM

Documents are golang.org/x/net/html trees. The binder maps each node to a
single JS object, so `a === b` holds for the same node reached by different
paths and scripts may attach their own properties (d3 stores __data__ this
way). Selectors go through goquery. Namespaced elements created with
createElementNS serialize with their local names, which is what SVG output
expects.

InstallDOM only binds `document` when it is absent; a second call, or a
script-defined document, is left untouched.

# Concurrency

A Runtime is not shared between callers. The Limiter hands every Run a new
runtime and closes it afterwards, bounding only how many exist at once.

# Usage Example

	limiter := sandbox.NewLimiter(sandbox.DefaultConfig(), 8)

	err := limiter.Run(ctx, func(rt *sandbox.Runtime) error {
		if err := rt.InstallDOM(); err != nil {
			return err
		}
		res, err := rt.Eval(ctx, "graph.js", src)
		if err != nil {
			return err
		}
		out, err = rt.Text(res.Value)
		return err
	})
*/
package sandbox
