package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/signalnine/moralmachine/internal/usage"
)

// Placeholders stored in place of a session's answers.
const (
	PlaceholderSkipped = "skipped"
	PlaceholderFailed  = "failed: unexpected answer after 10 attempts"
	blockedPrefix      = "blocked: scenario "
	errorPrefix        = "error: "
)

// Outcome kinds, also used as the sessions_total metric label.
const (
	KindCompleted = "completed"
	KindBlocked   = "blocked"
	KindFailed    = "failed"
	KindError     = "error"
	KindSkipped   = "skipped"
)

// Outcome is one session's entry in results.json: either the answer list
// or a placeholder string.
type Outcome struct {
	Answers     []int
	Placeholder string
}

func Answers(a []int) Outcome { return Outcome{Answers: a} }

func Blocked(scenario int) Outcome {
	return Outcome{Placeholder: fmt.Sprintf("%s%d", blockedPrefix, scenario)}
}

func Failed() Outcome { return Outcome{Placeholder: PlaceholderFailed} }

func Errored(err error) Outcome {
	return Outcome{Placeholder: errorPrefix + err.Error()}
}

func Skipped() Outcome { return Outcome{Placeholder: PlaceholderSkipped} }

// Completed reports whether the session produced answers.
func (o Outcome) Completed() bool { return o.Placeholder == "" && o.Answers != nil }

func (o Outcome) Kind() string {
	switch {
	case o.Completed():
		return KindCompleted
	case strings.HasPrefix(o.Placeholder, blockedPrefix):
		return KindBlocked
	case o.Placeholder == PlaceholderSkipped:
		return KindSkipped
	case strings.HasPrefix(o.Placeholder, "failed"):
		return KindFailed
	default:
		return KindError
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Placeholder != "" || o.Answers == nil {
		return json.Marshal(o.Placeholder)
	}
	return json.Marshal(o.Answers)
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*o = Outcome{}
		return json.Unmarshal(data, &o.Placeholder)
	}
	var answers []int
	if err := json.Unmarshal(data, &answers); err != nil {
		return fmt.Errorf("session outcome: %w", err)
	}
	*o = Outcome{Answers: answers}
	return nil
}

// ExperimentResult is the content of one experiment's results.json.
type ExperimentResult struct {
	RunID       string           `json:"run_id"`
	Model       string           `json:"model"`
	Language    string           `json:"language"`
	FromSession int              `json:"from_session"`
	ToSession   int              `json:"to_session"`
	DryRun      bool             `json:"dry_run"`
	StartedAt   time.Time        `json:"started_at"`
	DurationS   float64          `json:"duration_s"`
	Answers     []Outcome        `json:"answers"`
	APIUsage    []usage.APIUsage `json:"api_usage"`
	Total       usage.APIUsage   `json:"api_usage_total"`
}
