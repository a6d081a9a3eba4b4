// Package agent plays moral machine sessions against a model.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/signalnine/moralmachine/internal/model"
	"github.com/signalnine/moralmachine/internal/moralmachine"
	"github.com/signalnine/moralmachine/internal/observability"
	"github.com/signalnine/moralmachine/internal/usage"
)

// MaxAttempts bounds how many times a session is replayed after
// unexpected answers.
const MaxAttempts = 10

var ErrUnexpectedAnswer = errors.New("unexpected answer")

type State int

const (
	StateIdle State = iota
	StateResetting
	StatePlaying
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResetting:
		return "resetting"
	case StatePlaying:
		return "playing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BlockedError reports a session that stopped because the model's reply
// was blocked. It is never retried.
type BlockedError struct {
	SessionID     int
	ScenarioIndex int
	Attempt       int
	Err           error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("session %d: response blocked at scenario %d (attempt %d): %v",
		e.SessionID, e.ScenarioIndex, e.Attempt, e.Err)
}

func (e *BlockedError) Unwrap() error { return e.Err }

// SessionError reports a session that could not be completed.
type SessionError struct {
	SessionID int
	Attempts  int
	// LastReply is the reply that failed validation, if any.
	LastReply string
	Err       error
}

func (e *SessionError) Error() string {
	if errors.Is(e.Err, ErrUnexpectedAnswer) {
		return fmt.Sprintf("session %d: unexpected answer %q after %d attempts", e.SessionID, e.LastReply, e.Attempts)
	}
	return fmt.Sprintf("session %d: attempt %d: %v", e.SessionID, e.Attempts, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Agent drives one model through sessions. It is not safe for concurrent
// use; parallel players each need their own Agent and model.
type Agent struct {
	model       model.Model
	logger      *slog.Logger
	maxAttempts int
	// OnAttempt, if set, is called at the start of every attempt.
	OnAttempt func(session, attempt int)

	mu    sync.Mutex
	state State
}

func New(m model.Model, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Agent{model: m, logger: logger, maxAttempts: MaxAttempts}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// FormatPrompt renders a scenario as the two-option user turn.
func FormatPrompt(s moralmachine.Scenario) string {
	return "1: " + s.DescLeft + "\n\n\n\n\n2: " + s.DescRight
}

// Play runs the session and returns one canonical answer per scenario.
// Swapped scenarios have their answer inverted. An unexpected reply
// restarts the whole session with a fresh reset.
func (a *Agent) Play(ctx context.Context, session moralmachine.Session) ([]int, error) {
	var lastReply string
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if a.OnAttempt != nil {
			a.OnAttempt(session.ID, attempt)
		}
		answers, reply, err := a.playOnce(ctx, session, attempt)
		if err == nil {
			a.setState(StateCompleted)
			return answers, nil
		}
		if !errors.Is(err, ErrUnexpectedAnswer) {
			a.setState(StateFailed)
			return nil, err
		}
		lastReply = reply
		a.logger.Warn("unexpected answer, replaying session",
			"session", session.ID, "attempt", attempt, "reply", reply)
	}
	a.setState(StateFailed)
	return nil, &SessionError{
		SessionID: session.ID,
		Attempts:  a.maxAttempts,
		LastReply: lastReply,
		Err:       ErrUnexpectedAnswer,
	}
}

func (a *Agent) playOnce(ctx context.Context, session moralmachine.Session, attempt int) ([]int, string, error) {
	a.setState(StateResetting)
	if err := a.model.Reset(ctx); err != nil {
		return nil, "", &SessionError{SessionID: session.ID, Attempts: attempt, Err: fmt.Errorf("reset: %w", err)}
	}

	a.setState(StatePlaying)
	answers := make([]int, 0, len(session.Scenarios))
	for i, sc := range session.Scenarios {
		reply, err := a.model.Prompt(ctx, FormatPrompt(sc))
		if err != nil {
			if errors.Is(err, model.ErrResponseBlocked) {
				return nil, "", &BlockedError{SessionID: session.ID, ScenarioIndex: i, Attempt: attempt, Err: err}
			}
			return nil, "", &SessionError{SessionID: session.ID, Attempts: attempt, Err: fmt.Errorf("scenario %d: %w", i, err)}
		}
		var answer int
		switch reply {
		case "1":
			answer = 1
		case "2":
			answer = 2
		default:
			return nil, reply, fmt.Errorf("scenario %d: %w %q", i, ErrUnexpectedAnswer, reply)
		}
		if sc.LeftRightSwapped {
			answer = 3 - answer
		}
		answers = append(answers, answer)
	}
	return answers, "", nil
}

// ReportUsage forwards the model's cumulative usage.
func (a *Agent) ReportUsage() usage.APIUsage {
	return a.model.ReportUsage()
}
