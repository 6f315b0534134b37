package restore

import (
	"slices"

	"github.com/starford/guardian/internal/models"
)

// ScoreRange is an inclusive grief score bound. Nil ends are open.
type ScoreRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// DateRange is an inclusive capsule timestamp bound in Unix milliseconds.
// Nil ends are open.
type DateRange struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// Selective narrows which capsules of a backup are restored. Every set
// filter must match for a capsule to be kept.
type Selective struct {
	CapsuleIDs      []string    `json:"capsule_ids,omitempty"`
	Types           []string    `json:"types,omitempty"`
	GriefScoreRange *ScoreRange `json:"grief_score_range,omitempty"`
	DateRange       *DateRange  `json:"date_range,omitempty"`
}

// Match reports whether c passes every filter in s. A nil Selective matches everything.
func (s *Selective) Match(c models.CapsuleBackup) bool {
	if s == nil {
		return true
	}
	if len(s.CapsuleIDs) > 0 && !slices.Contains(s.CapsuleIDs, c.ID) {
		return false
	}
	if len(s.Types) > 0 && !slices.Contains(s.Types, c.Type) {
		return false
	}
	if r := s.GriefScoreRange; r != nil {
		if r.Min != nil && c.GriefScore < *r.Min {
			return false
		}
		if r.Max != nil && c.GriefScore > *r.Max {
			return false
		}
	}
	if r := s.DateRange; r != nil {
		if r.Start != nil && c.Timestamp < *r.Start {
			return false
		}
		if r.End != nil && c.Timestamp > *r.End {
			return false
		}
	}
	return true
}

// Apply returns the capsules that pass s, preserving order.
func (s *Selective) Apply(capsules []models.CapsuleBackup) []models.CapsuleBackup {
	out := make([]models.CapsuleBackup, 0, len(capsules))
	for _, c := range capsules {
		if s.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Selective) clone() *Selective {
	if s == nil {
		return &Selective{}
	}
	c := *s
	c.CapsuleIDs = slices.Clone(s.CapsuleIDs)
	c.Types = slices.Clone(s.Types)
	if s.GriefScoreRange != nil {
		r := *s.GriefScoreRange
		c.GriefScoreRange = &r
	}
	if s.DateRange != nil {
		r := *s.DateRange
		c.DateRange = &r
	}
	return &c
}
