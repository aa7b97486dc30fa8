package someip

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// RetryConfig computes exponentially growing delays between reconnect
// attempts. The zero value is usable.
type RetryConfig struct {
	// MaxTries limits the number of delays handed out; 0 means unlimited.
	MaxTries int
	// InitialDelay defaults to 100ms.
	InitialDelay time.Duration
	// MaxDelay defaults to 30s.
	MaxDelay time.Duration
	// MaxDelayAfterTries is the number of tries after which MaxDelay is
	// reached. Defaults to 10.
	MaxDelayAfterTries int

	currentTry int
}

func (rc *RetryConfig) initDefaults() {
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = 100 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 30 * time.Second
	}
	if rc.MaxDelayAfterTries <= 0 {
		rc.MaxDelayAfterTries = 10
	}
}

// NextDelay returns the delay before the next attempt, or false once
// MaxTries is exhausted.
func (rc *RetryConfig) NextDelay() (time.Duration, bool) {
	rc.initDefaults()

	if rc.MaxTries != 0 && rc.currentTry >= rc.MaxTries {
		return 0, false
	}

	k := math.Log2(float64(rc.MaxDelay)/float64(rc.InitialDelay)) / float64(rc.MaxDelayAfterTries)
	d := time.Duration(float64(rc.InitialDelay) * math.Exp2(float64(rc.currentTry)*k))
	rc.currentTry++

	if d > rc.MaxDelay {
		d = rc.MaxDelay
	}
	return d, true
}

// Reset starts the delay sequence over, typically after a connection
// lasted.
func (rc *RetryConfig) Reset() {
	rc.currentTry = 0
}

// Serve keeps the endpoint connected, reconnecting with the delays of retry
// after failed attempts and peer disconnects. A nil retry uses the
// RetryConfig defaults. Serve returns when the context is canceled, the
// endpoint is closed or retry is exhausted.
func (e *Endpoint) Serve(ctx context.Context, retry *RetryConfig) error {
	if retry == nil {
		retry = &RetryConfig{}
	}

	for {
		err := e.Connect(ctx)
		if err == nil {
			retry.Reset()
			err = e.Run(ctx)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrEndpointClosed) || e.IsClosed() {
			return ErrEndpointClosed
		}

		delay, ok := retry.NextDelay()
		if !ok {
			return err
		}
		e.logger.Info("reconnecting", "addr", e.remote, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
