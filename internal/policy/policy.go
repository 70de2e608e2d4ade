// Package policy decides whether a scan result warrants a moderation flag.
package policy

import (
	"fmt"

	"github.com/chorusfm/moderation-server/internal/domain"
)

// Policy maps provider matches to a flag decision.
type Policy interface {
	// Flagged reports whether the matches warrant a copyright-match label.
	Flagged(matches []domain.MatchCandidate) bool
	// Name identifies the policy in logs and scan records.
	Name() string
}

// Presence flags any non-empty match set. This is the default: the provider
// already filters low-quality matches, so presence alone is a strong signal.
type Presence struct{}

func (Presence) Flagged(matches []domain.MatchCandidate) bool {
	return len(matches) > 0
}

func (Presence) Name() string { return "presence" }

// Threshold flags only when some match reaches a minimum confidence.
type Threshold struct {
	Min float64 // 0-100
}

func (t Threshold) Flagged(matches []domain.MatchCandidate) bool {
	for _, m := range matches {
		if m.Confidence >= t.Min {
			return true
		}
	}
	return false
}

func (t Threshold) Name() string { return "threshold" }

// FromConfig builds the configured policy.
// A threshold of 0 degenerates to presence.
func FromConfig(name string, threshold int) (Policy, error) {
	switch name {
	case "", "presence":
		return Presence{}, nil
	case "threshold":
		if threshold <= 0 {
			return Presence{}, nil
		}
		return Threshold{Min: float64(threshold)}, nil
	default:
		return nil, fmt.Errorf("unknown scan policy %q", name)
	}
}
