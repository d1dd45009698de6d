package credential

import (
	"errors"
	"fmt"
)

// ErrNotReady means no snapshot has ever been fetched for the service: the
// entry is still warming up. Distinct from ErrFetchFailed so callers can
// tell "warming up" from "persistently broken".
var ErrNotReady = errors.New("credentials not ready")

// ErrFetchFailed means the provider exchange is failing and no unexpired
// snapshot remains to serve.
var ErrFetchFailed = errors.New("credential fetch failed")

// ErrUnknownService means the requested service name is not in the table.
var ErrUnknownService = errors.New("unknown service")

// ErrUnknownToken means the presented auth token resolves to no service.
var ErrUnknownToken = errors.New("unknown token")

// CollisionError rejects a registration whose name or token is already held
// by another entry. The table is left in its previous state.
type CollisionError struct {
	// Service is the name of the rejected definition.
	Service string
	// Field is "name" or "token".
	Field string
	// Existing is the name of the entry already holding the value.
	Existing string
}

func (e *CollisionError) Error() string {
	if e.Field == "token" {
		return fmt.Sprintf("service %q rejected: auth token already used by %q", e.Service, e.Existing)
	}
	return fmt.Sprintf("service %q rejected: name already registered", e.Service)
}
