package domain

import "time"

// Resolution is a human verdict on a flagged subject.
type Resolution string

const (
	ResolutionUnreviewed     Resolution = "unreviewed"
	ResolutionViolation      Resolution = "violation"
	ResolutionFalsePositive  Resolution = "false_positive"
	ResolutionOriginalArtist Resolution = "original_artist"
)

// Valid reports whether r is a known resolution value.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionUnreviewed, ResolutionViolation, ResolutionFalsePositive, ResolutionOriginalArtist:
		return true
	}
	return false
}

// Terminal reports whether r ends the review (anything but unreviewed).
func (r Resolution) Terminal() bool {
	return r.Valid() && r != ResolutionUnreviewed
}

// Negates reports whether r retracts the affirmative label.
// violation upholds the label; the other terminal outcomes clear it.
func (r Resolution) Negates() bool {
	return r == ResolutionFalsePositive || r == ResolutionOriginalArtist
}

// ReviewCase tracks a flagged subject through human review.
type ReviewCase struct {
	ID         string     `json:"id"`
	SubjectID  string     `json:"subject_id"`
	SubjectURI string     `json:"subject_uri"`
	// LabelSeq is the affirmative label this case reviews, 0 if emission
	// failed and the label is pending backfill.
	LabelSeq   int64      `json:"label_seq,omitempty"`
	Resolution Resolution `json:"resolution"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	// Notes is the reviewer's free-form rationale, recorded with the verdict.
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Pending reports whether the case still awaits review.
func (c *ReviewCase) Pending() bool {
	return c.Resolution == ResolutionUnreviewed || c.Resolution == ""
}
