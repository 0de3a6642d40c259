package scheduler

import "time"

// backoff computes the exponential retry window: min(1000·2^(attempts-1),
// 30s). attempts is 1-based (the count after the failure that just
// happened).
func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	ms := int64(1000)
	for i := 1; i < attempts; i++ {
		ms *= 2
		if ms >= 30_000 {
			ms = 30_000
			break
		}
	}
	return time.Duration(ms) * time.Millisecond
}
