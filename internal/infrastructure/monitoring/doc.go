/*
Package monitoring provides Prometheus metrics for the script host.

# Overview

Collectors are registered on a caller-supplied registry and cover HTTP
traffic, script invocations (by outcome), console output and sandbox
lifecycle.

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics)
	// ... run the script ...
	timer.Stop(monitoring.OutcomeSuccess, len(out))
*/
package monitoring
