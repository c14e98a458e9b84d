// Package stage tracks progression through a role's fixed list of onboarding stages.
package stage

import "github.com/ashureev/tennis-onboard/internal/domain"

// DefaultThreshold is the number of completed exchanges each stage lasts.
const DefaultThreshold = 4

// Tracker advances a session through its stage list by counting exchanges.
// It does not inspect what the user said.
type Tracker struct {
	threshold int
	stages    map[domain.RoleKind][]string
}

// NewTracker creates a tracker over the given stage lists. A threshold <= 0
// falls back to DefaultThreshold.
func NewTracker(stages map[domain.RoleKind][]string, threshold int) Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Tracker{threshold: threshold, stages: stages}
}

// Threshold returns the configured exchange count per stage.
func (t Tracker) Threshold() int {
	return t.threshold
}

// Stages returns the stage list for a role kind.
func (t Tracker) Stages(kind domain.RoleKind) []string {
	return t.stages[kind]
}

// Index returns the position of the session's stage, or -1 when unknown.
func (t Tracker) Index(s *domain.Session) int {
	return IndexOf(t.stages[s.RoleKind], s.Stage)
}

// Initial returns the first stage of a role kind.
func (t Tracker) Initial(kind domain.RoleKind) string {
	stages := t.stages[kind]
	if len(stages) == 0 {
		return ""
	}
	return stages[0]
}

// IsTerminal reports whether the session sits on the last stage of its list.
func (t Tracker) IsTerminal(s *domain.Session) bool {
	stages := t.stages[s.RoleKind]
	return len(stages) > 0 && s.Stage == stages[len(stages)-1]
}

// Valid reports whether the session's stage belongs to its role's list.
func (t Tracker) Valid(s *domain.Session) bool {
	return t.Index(s) >= 0
}

// MaybeAdvance moves the session one stage forward once the number of
// completed exchanges exceeds (index+1)*threshold. An exchange is an
// assistant turn, not a transcript entry: the count is not the raw
// transcript length, so with a threshold of 4 the fifth answered turn
// leaves stage 0. It never moves more than one step and never leaves the
// terminal stage.
func (t Tracker) MaybeAdvance(s *domain.Session) bool {
	stages := t.stages[s.RoleKind]
	idx := IndexOf(stages, s.Stage)
	if idx < 0 || idx >= len(stages)-1 {
		return false
	}
	if s.Transcript.Exchanges() <= (idx+1)*t.threshold {
		return false
	}
	s.Stage = stages[idx+1]
	return true
}

// IndexOf returns the position of name in stages, or -1.
func IndexOf(stages []string, name string) int {
	for i, s := range stages {
		if s == name {
			return i
		}
	}
	return -1
}
