/*
Package tracing provides lightweight request tracing.

Each HTTP request gets a span whose trace ID is taken from the X-Trace-ID
header or freshly generated. The IDs travel on the request context so the
script host can attach them to its log lines, and finished spans are logged
asynchronously through zap.

	tracer := tracing.New("scripthost", logger.Logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
