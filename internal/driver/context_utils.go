// internal/driver/context_utils.go
package driver

import (
	"context"
	"time"
)

// CombineContext derives a context from primary, keeping its values, that is
// also cancelled when secondary is done. Drivers use it to run an operation on
// a target context (which carries the connection) under the caller's
// deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// Detach returns a context with the values of ctx but none of its
// cancellation, bounded by timeout. Teardown paths use it so that a cancelled
// caller still releases browser resources.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
