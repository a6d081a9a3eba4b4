package model

import (
	"context"
	"math/rand"

	"github.com/signalnine/moralmachine/internal/usage"
)

// Fixed always replies with the same answer. It makes no network calls.
type Fixed struct {
	Answer string
}

func NewFixed(answer string) *Fixed {
	return &Fixed{Answer: answer}
}

func (f *Fixed) Prompt(context.Context, string) (string, error) { return f.Answer, nil }
func (f *Fixed) Reset(context.Context) error                    { return nil }

func (f *Fixed) ReportUsage() usage.APIUsage {
	return usage.APIUsage{Name: "dummy", InputTokens: usage.Unknown, OutputTokens: usage.Unknown}
}

// Random replies "1" or "2" from a seeded source, so a run is reproducible
// for a given seed.
type Random struct {
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))} // #nosec G404 -- reproducible answers, not security
}

func (r *Random) Prompt(context.Context, string) (string, error) {
	if r.rng.Intn(2) == 0 {
		return "1", nil
	}
	return "2", nil
}

func (r *Random) Reset(context.Context) error { return nil }

func (r *Random) ReportUsage() usage.APIUsage {
	return usage.APIUsage{Name: "mock", InputTokens: usage.Unknown, OutputTokens: usage.Unknown}
}
