// Package limiter guards the authentication engine's login path against
// repeatedly hammering the upstream profile service with bad credentials
// for the same pool account.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed upstream login attempts per account username and
// imposes a temporary block once a threshold is crossed.
type Limiter interface {
	// Allow reports whether a login attempt is currently permitted, and a
	// retry-after duration when it is not.
	Allow(ctx context.Context, username string) (bool, time.Duration, error)
	// Success resets the failure count after a successful login.
	Success(ctx context.Context, username string) error
	// Failure records a failed login attempt; the bool reports whether
	// this call crossed the threshold and applied a new block.
	Failure(ctx context.Context, username string) (bool, time.Duration, error)
}
