package pipeline

import (
	"math"
	"math/rand/v2"
	"time"
)

// calculateBackoff returns a full-jitter exponential delay for the given
// retry count, capped at maxDelay.
func calculateBackoff(retryCount int, baseDelay, maxDelay time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if baseDelay <= 0 {
		return 0
	}
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(retryCount)))
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}
	return time.Duration(rand.Float64() * float64(delay))
}
