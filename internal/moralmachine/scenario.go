package moralmachine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SessionLength is the number of scenarios in one session.
const SessionLength = 13

type Scenario struct {
	DescLeft         string `json:"desc_left"`
	DescRight        string `json:"desc_right"`
	LeftRightSwapped bool   `json:"left_right_swapped"`
}

// Session is a fixed-length run of scenarios. ID is the session's index in
// the dataset, stable across slicing.
type Session struct {
	ID        int
	Scenarios []Scenario
}

var requiredColumns = []string{"desc_left", "desc_right", "left_right_swapped"}

// ReadScenarios parses a preprocessed dataset CSV. Columns are matched by
// header name; extra columns are ignored.
func ReadScenarios(r io.Reader) ([]Scenario, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty dataset")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var scenarios []Scenario
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) (string, error) {
			i := idx[name]
			if i >= len(rec) {
				return "", fmt.Errorf("line %d: missing %s", line, name)
			}
			return rec[i], nil
		}
		left, err := field("desc_left")
		if err != nil {
			return nil, err
		}
		right, err := field("desc_right")
		if err != nil {
			return nil, err
		}
		rawSwap, err := field("left_right_swapped")
		if err != nil {
			return nil, err
		}
		swapped, err := parseSwapFlag(rawSwap)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		scenarios = append(scenarios, Scenario{DescLeft: left, DescRight: right, LeftRightSwapped: swapped})
	}
	return scenarios, nil
}

func parseSwapFlag(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid left_right_swapped value %q", s)
	}
	return b, nil
}

// GroupSessions splits scenarios into sessions of SessionLength. Trailing
// scenarios that do not fill a session are dropped.
func GroupSessions(scenarios []Scenario) []Session {
	n := len(scenarios) / SessionLength
	sessions := make([]Session, 0, n)
	for i := 0; i < n; i++ {
		chunk := make([]Scenario, SessionLength)
		copy(chunk, scenarios[i*SessionLength:(i+1)*SessionLength])
		sessions = append(sessions, Session{ID: i, Scenarios: chunk})
	}
	return sessions
}

// DatasetPath returns the preprocessed dataset file for a language.
func DatasetPath(dir, lang string) string {
	return filepath.Join(dir, fmt.Sprintf("dataset_%s.csv", lang))
}

// LoadSessions reads the dataset for lang and returns sessions [from, to).
// A negative or out-of-range to is clamped to the number of sessions.
func LoadSessions(dir, lang string, from, to int) ([]Session, error) {
	lang, err := NormalizeLanguage(lang)
	if err != nil {
		return nil, err
	}
	path := DatasetPath(dir, lang)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %s: %w", path, err)
	}
	defer f.Close()
	scenarios, err := ReadScenarios(f)
	if err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	return Slice(GroupSessions(scenarios), from, to)
}

// Slice returns sessions[from:to] with to clamped to len(sessions).
func Slice(sessions []Session, from, to int) ([]Session, error) {
	if to < 0 || to > len(sessions) {
		to = len(sessions)
	}
	if from < 0 || from > to {
		return nil, fmt.Errorf("invalid session range [%d, %d) for %d sessions", from, to, len(sessions))
	}
	return sessions[from:to], nil
}
