// Package validation checks stored experiment results for malformed
// sessions. It reports problems and never rewrites results.
package validation

import (
	"fmt"
	"sort"

	"github.com/signalnine/moralmachine/internal/moralmachine"
	"github.com/signalnine/moralmachine/internal/result"
)

type IssueKind string

const (
	SessionCount IssueKind = "session_count"
	AnswerCount  IssueKind = "answer_count"
	AnswerValue  IssueKind = "answer_value"
	Placeholder  IssueKind = "placeholder"
)

// Issue is one problem found in a result. Session is the absolute session
// index, or -1 for result-level issues.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Session int       `json:"session"`
	Detail  string    `json:"detail"`
}

func (i Issue) String() string {
	if i.Session < 0 {
		return fmt.Sprintf("%s: %s", i.Kind, i.Detail)
	}
	return fmt.Sprintf("session %d: %s: %s", i.Session, i.Kind, i.Detail)
}

// Check validates res. wantSessions is the expected number of sessions;
// zero or less derives it from the stored range.
func Check(res *result.ExperimentResult, wantSessions int) []Issue {
	var issues []Issue
	if wantSessions <= 0 {
		wantSessions = res.ToSession - res.FromSession
	}
	if len(res.Answers) != wantSessions {
		issues = append(issues, Issue{
			Kind:    SessionCount,
			Session: -1,
			Detail:  fmt.Sprintf("got %d sessions, want %d", len(res.Answers), wantSessions),
		})
	}
	for i, o := range res.Answers {
		session := res.FromSession + i
		if !o.Completed() {
			if o.Kind() == result.KindSkipped {
				continue
			}
			issues = append(issues, Issue{Kind: Placeholder, Session: session, Detail: o.Placeholder})
			continue
		}
		if len(o.Answers) != moralmachine.SessionLength {
			issues = append(issues, Issue{
				Kind:    AnswerCount,
				Session: session,
				Detail:  fmt.Sprintf("got %d answers, want %d", len(o.Answers), moralmachine.SessionLength),
			})
		}
		for j, v := range o.Answers {
			if v != 1 && v != 2 {
				issues = append(issues, Issue{
					Kind:    AnswerValue,
					Session: session,
					Detail:  fmt.Sprintf("answer %d is %d", j, v),
				})
				break
			}
		}
	}
	return issues
}

// RerunSessions returns the sorted, distinct session indices named by issues.
func RerunSessions(issues []Issue) []int {
	seen := map[int]bool{}
	var out []int
	for _, is := range issues {
		if is.Session >= 0 && !seen[is.Session] {
			seen[is.Session] = true
			out = append(out, is.Session)
		}
	}
	sort.Ints(out)
	return out
}

// CompletionRate is the share of non-skipped sessions that produced
// well-formed answers.
func CompletionRate(res *result.ExperimentResult) float64 {
	var played, ok int
	for _, o := range res.Answers {
		if o.Kind() == result.KindSkipped {
			continue
		}
		played++
		if o.Completed() && len(o.Answers) == moralmachine.SessionLength {
			ok++
		}
	}
	if played == 0 {
		return 0
	}
	return float64(ok) / float64(played)
}
