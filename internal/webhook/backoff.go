package webhook

import "time"

// exponentialBackoffMinutes is the fixed retry schedule for exponential
// backoff, indexed by min(attempts, 5). Caps at 24 hours.
var exponentialBackoffMinutes = [...]int{1, 5, 15, 60, 360, 1440}

// RetryDelay returns the delay before the next delivery attempt, given the
// number of attempts already made.
//
// linear:      attempts+1 minutes (1, 2, 3, 4, ...)
// exponential: [1, 5, 15, 60, 360, 1440] minutes, indexed by min(attempts, 5)
func RetryDelay(backoff string, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if backoff == BackoffLinear {
		return time.Duration(attempts+1) * time.Minute
	}
	idx := attempts
	if idx > len(exponentialBackoffMinutes)-1 {
		idx = len(exponentialBackoffMinutes) - 1
	}
	return time.Duration(exponentialBackoffMinutes[idx]) * time.Minute
}
