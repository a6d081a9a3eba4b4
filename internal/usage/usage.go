// Package usage tracks token and cost accounting for model backends.
package usage

import (
	"errors"
	"fmt"
)

// Unknown marks a counter the backend does not track.
const Unknown = -1

var ErrNameMismatch = errors.New("usage reports from different backends")

// APIUsage is a snapshot of one backend's token and cost counters.
type APIUsage struct {
	Name         string  `json:"name"`
	InputTokens  int     `json:"num_input_tokens"`
	OutputTokens int     `json:"num_output_tokens"`
	Cost         float64 `json:"cost"`
}

func (u APIUsage) String() string {
	return fmt.Sprintf("%s used %d input tokens and %d output tokens ($%.2f)",
		u.Name, u.InputTokens, u.OutputTokens, u.Cost)
}

// Merge sums reports from the same backend. A field that is Unknown in any
// report stays Unknown in the result.
func Merge(reports ...APIUsage) (APIUsage, error) {
	if len(reports) == 0 {
		return APIUsage{}, errors.New("merge: no reports")
	}
	out := reports[0]
	for _, r := range reports[1:] {
		if r.Name != out.Name {
			return APIUsage{}, fmt.Errorf("%w: %q and %q", ErrNameMismatch, out.Name, r.Name)
		}
		out.InputTokens = addCount(out.InputTokens, r.InputTokens)
		out.OutputTokens = addCount(out.OutputTokens, r.OutputTokens)
		if out.Cost == Unknown || r.Cost == Unknown {
			out.Cost = Unknown
		} else {
			out.Cost += r.Cost
		}
	}
	return out, nil
}

// Sub returns the usage accrued between snapshot before and snapshot after.
func Sub(after, before APIUsage) (APIUsage, error) {
	if after.Name != before.Name {
		return APIUsage{}, fmt.Errorf("%w: %q and %q", ErrNameMismatch, after.Name, before.Name)
	}
	out := APIUsage{Name: after.Name}
	out.InputTokens = subCount(after.InputTokens, before.InputTokens)
	out.OutputTokens = subCount(after.OutputTokens, before.OutputTokens)
	if after.Cost == Unknown || before.Cost == Unknown {
		out.Cost = Unknown
	} else {
		out.Cost = after.Cost - before.Cost
	}
	return out, nil
}

func addCount(a, b int) int {
	if a == Unknown || b == Unknown {
		return Unknown
	}
	return a + b
}

func subCount(a, b int) int {
	if a == Unknown || b == Unknown {
		return Unknown
	}
	return a - b
}
