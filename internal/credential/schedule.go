package credential

import (
	"time"

	"github.com/JohnPreston/credproxy/internal/config"
)

// Outcome is the result of one fetch attempt, as seen by the scheduler.
type Outcome struct {
	Err        error
	Expiration time.Time
}

// NextDelay computes how long to wait before the next fetch. Failures retry
// at the fixed retry delay. Successes refresh refresh_buffer_seconds before
// expiration, clamped to zero when the returned lifetime is already inside
// the buffer (the just-fetched snapshot still serves once in the meantime).
func NextDelay(outcome Outcome, settings config.CredentialSettings, now time.Time) time.Duration {
	if outcome.Err != nil {
		return settings.RetryDelayDuration()
	}
	delay := outcome.Expiration.Add(-settings.RefreshBuffer()).Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}
