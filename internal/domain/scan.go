package domain

import "time"

// ScanOutcome describes how a scan terminated.
type ScanOutcome string

const (
	// ScanCompleted means the provider answered (or the scan was skipped by
	// the cost guard) and the result is authoritative.
	ScanCompleted ScanOutcome = "completed"
	// ScanProviderError means the provider could not be reached or answered
	// malformed; the subject needs a rescan.
	ScanProviderError ScanOutcome = "provider_error"
)

// MatchCandidate is one recognized source work from the fingerprint provider.
type MatchCandidate struct {
	SourceArtist string  `json:"source_artist"`
	SourceTitle  string  `json:"source_title"`
	Confidence   float64 `json:"confidence"` // 0-100
	ExternalID   string  `json:"external_id,omitempty"`
	Album        string  `json:"album,omitempty"`
	// Timecode is the provider's position within the source work, e.g. "01:24".
	Timecode string `json:"timecode,omitempty"`
	// OffsetMS is where in the scanned content the match begins.
	OffsetMS int64 `json:"offset_ms,omitempty"`
}

// ScanResult is the current recognition verdict for a subject.
// Exactly one current row exists per subject; rescans replace it.
type ScanResult struct {
	SubjectID  string      `json:"subject_id"`
	SubjectURI string      `json:"subject_uri"`
	// AudioURL is where the provider fetched the audio; kept for rescans.
	AudioURL string `json:"audio_url,omitempty"`
	// Fingerprint is the content hash of the scanned audio, carried into
	// any label emitted for it.
	Fingerprint string `json:"fingerprint,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Outcome    ScanOutcome      `json:"outcome"`
	Flagged    bool             `json:"flagged"`
	Matches    []MatchCandidate `json:"matches,omitempty"`
	// Skipped is set when the cost guard bypassed the provider call.
	Skipped   bool      `json:"skipped,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BestConfidence returns the highest match confidence, or 0 with no matches.
func (r *ScanResult) BestConfidence() float64 {
	best := 0.0
	for _, m := range r.Matches {
		if m.Confidence > best {
			best = m.Confidence
		}
	}
	return best
}
