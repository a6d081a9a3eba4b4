// Package ratelimit bounds how often a process calls an external API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultMargin widens the trailing window before counting calls, so the
// limiter stays under the provider's limit despite clock skew.
const DefaultMargin = 1.1

// Config is a per-backend limit as it appears in the config file. A zero
// Margin keeps DefaultMargin.
type Config struct {
	MaxCalls int     `yaml:"max_calls"`
	PeriodS  float64 `yaml:"period_s"`
	Margin   float64 `yaml:"margin,omitempty"`
}

func (c Config) Period() time.Duration {
	return time.Duration(c.PeriodS * float64(time.Second))
}

// Limiter enforces "at most maxCalls calls in any trailing period" using a
// log of recent call times.
type Limiter struct {
	mu     sync.Mutex
	calls  []time.Time
	margin float64

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New() *Limiter {
	return &Limiter{
		margin: DefaultMargin,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// NewWithClock returns a limiter driven by the given clock and sleep
// functions.
func NewWithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) *Limiter {
	l := New()
	l.now = now
	l.sleep = sleep
	return l
}

// SetMargin changes the window margin. Values below 1 are ignored.
func (l *Limiter) SetMargin(m float64) {
	if m < 1 {
		return
	}
	l.mu.Lock()
	l.margin = m
	l.mu.Unlock()
}

func (l *Limiter) Margin() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.margin
}

// Wait blocks until a call is allowed, then records it. The sleep between
// checks is period/maxCalls.
func (l *Limiter) Wait(ctx context.Context, maxCalls int, period time.Duration) error {
	if maxCalls <= 0 || period <= 0 {
		return nil
	}
	step := period / time.Duration(maxCalls)
	for {
		if l.tryAcquire(maxCalls, period) {
			return nil
		}
		if err := l.sleep(ctx, step); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAcquire(maxCalls int, period time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-time.Duration(float64(period) * l.margin))
	keep := 0
	for keep < len(l.calls) && l.calls[keep].Before(cutoff) {
		keep++
	}
	l.calls = l.calls[keep:]

	if len(l.calls) >= maxCalls {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

// Calls returns how many calls are currently in the log.
func (l *Limiter) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*Limiter{}
)

// Shared returns the process-wide limiter for an external resource,
// creating it on first use.
func Shared(resource string) *Limiter {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	l, ok := shared[resource]
	if !ok {
		l = New()
		shared[resource] = l
	}
	return l
}
