// Package backoff runs connect and reconnect loops with exponential backoff.
//
// Two flavours are used: pool slots retry forever at startup because the
// broker may not be listening yet, while workers give up re-attaching to the
// backend after a bounded number of attempts.
package backoff

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Policy describes a retry schedule.
type Policy struct {
	// InitialInterval is the wait after the first failure.
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"omitempty,gt=0"`

	// MaxInterval caps the wait between two attempts.
	MaxInterval time.Duration `mapstructure:"max_interval" validate:"omitempty,gt=0"`

	// Multiplier grows the interval after every failure.
	Multiplier float64 `mapstructure:"multiplier" validate:"omitempty,gte=1"`

	// MaxRetries bounds the number of retries after the first attempt.
	// Zero retries forever.
	MaxRetries uint64 `mapstructure:"max_retries"`
}

// ApplyDefaults fills zero fields.
func (p *Policy) ApplyDefaults() {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
}

// Notify is invoked after each failed attempt with the error and the wait
// before the next one.
type Notify func(err error, wait time.Duration)

// Permanent wraps err so that Retry stops immediately and returns err.
func Permanent(err error) error {
	return cbackoff.Permanent(err)
}

func (p Policy) schedule(ctx context.Context) cbackoff.BackOffContext {
	p.ApplyDefaults()

	exp := cbackoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b cbackoff.BackOff = exp
	if p.MaxRetries > 0 {
		b = cbackoff.WithMaxRetries(b, p.MaxRetries)
	}

	return cbackoff.WithContext(b, ctx)
}

// Retry calls op until it succeeds, returns a Permanent error, the policy
// runs out of retries, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, op func() error, notify Notify) error {
	var n cbackoff.Notify
	if notify != nil {
		n = cbackoff.Notify(notify)
	}

	err := cbackoff.RetryNotify(op, p.schedule(ctx), n)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
