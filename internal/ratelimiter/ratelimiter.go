// Package ratelimiter throttles inbound frames on the broker's public endpoint.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every connection of one endpoint.
//
// A zero rate disables limiting: Wait never blocks and Allow always succeeds.
// The zero value is not usable, construct with New.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter admitting requestsPerSecond frames with the given
// burst. A burst smaller than one second's worth of frames is raised to
// requestsPerSecond so that steady traffic at the configured rate never waits.
func New(requestsPerSecond, burst uint) *Limiter {
	if requestsPerSecond == 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	if burst < requestsPerSecond {
		burst = requestsPerSecond
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Unlimited reports whether the limiter admits everything.
func (l *Limiter) Unlimited() bool {
	return l.limiter.Limit() == rate.Inf
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// SetLimit changes the rate. Zero disables limiting.
func (l *Limiter) SetLimit(requestsPerSecond uint) {
	if requestsPerSecond == 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}

	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
	if uint(l.limiter.Burst()) < requestsPerSecond {
		l.limiter.SetBurst(int(requestsPerSecond))
	}
}

// Limit returns the current rate in frames per second, 0 when unlimited.
func (l *Limiter) Limit() uint {
	if l.Unlimited() {
		return 0
	}
	return uint(l.limiter.Limit())
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	return l.limiter.Burst()
}
