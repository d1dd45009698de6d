// Package credential implements the credential lifecycle engine: per-service
// background refresh against STS, atomic snapshot serving, and the service
// table the HTTP façade reads from.
package credential

import "time"

// Snapshot is one assumed-role credential set. Snapshots are immutable; a
// refresh installs a new Snapshot rather than mutating fields, so concurrent
// readers never observe a torn value.
type Snapshot struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
	FetchedAt       time.Time
}

// Expired reports whether the snapshot's own expiration has passed.
func (s *Snapshot) Expired(now time.Time) bool {
	return !s.Expiration.After(now)
}
