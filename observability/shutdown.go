package observability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultShutdownTimeout bounds Shutdown when no positive timeout is given.
// A command exits right after, so anything not exported by then is lost.
const DefaultShutdownTimeout = 5 * time.Second

// Shutdown exports whatever spans and metrics are still buffered and stops
// the provider. A failed flush does not skip the shutdown; both errors are
// reported. A nil provider is a no-op.
func Shutdown(provider Provider, timeout time.Duration) error {
	if provider == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	flushErr := provider.ForceFlush(ctx)
	if err := errors.Join(flushErr, provider.Shutdown(ctx)); err != nil {
		return fmt.Errorf("telemetry shutdown failed: %w", err)
	}
	return nil
}
