// Package breaker provides per-server circuit breaking and request
// metrics. Each back-end server gets its own circuit (consecutive
// failures open it, a cooldown admits half-open probes, consecutive
// successes close it) and a metrics record feeding the weighted routing
// score.
package breaker
