// Package domain contains the core business entities for the Chorus moderation service.
package domain

import "time"

// Label values emitted by this service.
const (
	// LabelCopyrightMatch marks a track whose audio fingerprint matched
	// commercially registered content.
	LabelCopyrightMatch = "copyright-match"
)

// Label is a signed moderation statement about a subject.
//
// Labels are append-only: negations are new rows with Negated set, never
// updates to existing rows. Seq is a strictly increasing, gapless-per-writer
// ordering assigned at append time.
type Label struct {
	// Seq is the global ordering of this label in the log.
	Seq int64 `json:"seq"`
	// Version of the label wire schema.
	Version int `json:"ver"`
	// Issuer is the DID of the authority that signed this label.
	Issuer string `json:"src"`
	// SubjectURI identifies the labeled content (e.g., chorus://track/abc).
	SubjectURI string `json:"uri"`
	// SubjectFingerprint optionally pins the label to a specific content hash.
	SubjectFingerprint string `json:"cid,omitempty"`
	// Value is the label value, e.g. copyright-match.
	Value string `json:"val"`
	// Negated marks this row as retracting an earlier affirmative label.
	Negated bool `json:"neg,omitempty"`
	// CreatedAt is the issuance timestamp.
	CreatedAt time.Time `json:"cts"`
	// ExpiresAt, when set, bounds the label's validity.
	ExpiresAt *time.Time `json:"exp,omitempty"`
	// Signature is the issuer's signature over the canonical unsigned form.
	Signature []byte `json:"sig,omitempty"`
	// KeyVersion names the signing key, so verifiers can resolve rotated
	// keys. Outside the signed byte set.
	KeyVersion string `json:"keyVersion,omitempty"`
}

// Expired reports whether the label has an expiry in the past.
func (l *Label) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}
