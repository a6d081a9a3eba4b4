// Package backoff computes randomized exponential delays for retrying
// transient provider errors.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff. Delays start at InitialMs, grow by
// Factor per attempt, get up to Jitter*delay of random extra, and never
// exceed MaxMs.
type Policy struct {
	InitialMs float64 `yaml:"initial_ms"`
	MaxMs     float64 `yaml:"max_ms"`
	Factor    float64 `yaml:"factor"`
	Jitter    float64 `yaml:"jitter"`
}

// ProviderPolicy waits between 1s and 60s, doubling each attempt.
func ProviderPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     60000,
		Factor:    2,
		Jitter:    1,
	}
}

func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// ComputeWithRand is Compute with the random value supplied, for tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
