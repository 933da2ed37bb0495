// Package breaker implements the core's health predicate: a provider is
// healthy exactly when its consecutive-error count is below a threshold.
// There is deliberately no state machine here — no Open/HalfOpen, no
// recovery timer. A richer, stateful breaker view for operator-facing
// health reporting lives in internal/cbview, layered on top of this.
package breaker

// DefaultThreshold is the consecutive-error count at or above which a
// provider is considered unhealthy.
const DefaultThreshold uint64 = 5

// Healthy reports whether a provider with the given consecutive-error
// count should be considered eligible for selection under threshold K.
func Healthy(consecutiveErrors, threshold uint64) bool {
	return consecutiveErrors < threshold
}
