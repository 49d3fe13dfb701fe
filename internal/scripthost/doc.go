/*
Package scripthost runs a static JavaScript file and returns its result as
text.

Each GenerateGraph call reads the script from disk, creates a fresh sandbox,
installs a DOM shim so browser-oriented code can touch `document`, evaluates
the script once and coerces its final value with JavaScript String()
semantics. Nothing is cached between calls.

Failures come back as *ScriptLoadError (the file could not be read or is not
text) or *ScriptExecutionError (the engine reported a diagnostic, the result
was undefined or null, or the run was interrupted). Both match their
sentinels with errors.Is:

	out, err := host.GenerateGraph(ctx)
	switch {
	case errors.Is(err, scripthost.ErrScriptLoad):
		// missing or binary script
	case errors.Is(err, scripthost.ErrScriptExecution):
		// script failed
	}
*/
package scripthost
