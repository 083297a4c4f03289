package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is implemented by storage handles and the Redis limiter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a CheckFunc.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// BackendCounter reports how many backends are configured and how many are
// not down.
type BackendCounter func() (total, available int)

// BackendsCheck fails when every backend is down.
func BackendsCheck(count BackendCounter) CheckFunc {
	return func(ctx context.Context) error {
		total, available := count()
		if total == 0 {
			return errors.New("no backends configured")
		}
		if available == 0 {
			return fmt.Errorf("all %d backends are down", total)
		}
		return nil
	}
}
