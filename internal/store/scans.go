package store

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"errors"
	"fmt"

	"github.com/chorusfm/moderation-server/internal/domain"
	domainerrors "github.com/chorusfm/moderation-server/internal/errors"
)

const scanColumns = `subject_id, subject_uri, audio_url, fingerprint, duration_ms, outcome, flagged, matches, skipped, scanned_at, updated_at`

func scanScanResult(scanner interface{ Scan(dest ...any) error }) (*domain.ScanResult, error) {
	var r domain.ScanResult

	var (
		flagged   int
		matches   string
		skipped   int
		scannedAt string
		updatedAt string
	)

	err := scanner.Scan(
		&r.SubjectID,
		&r.SubjectURI,
		&r.AudioURL,
		&r.Fingerprint,
		&r.DurationMS,
		&r.Outcome,
		&flagged,
		&matches,
		&skipped,
		&scannedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Flagged = flagged != 0
	r.Skipped = skipped != 0

	if err := json.Unmarshal([]byte(matches), &r.Matches); err != nil {
		return nil, fmt.Errorf("unmarshal matches: %w", err)
	}
	r.ScannedAt, err = parseTime(scannedAt)
	if err != nil {
		return nil, err
	}
	r.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// UpsertScanResult writes the current scan verdict for a subject,
// replacing any previous verdict.
func (s *Store) UpsertScanResult(ctx context.Context, r *domain.ScanResult) error {
	matches := r.Matches
	if matches == nil {
		matches = []domain.MatchCandidate{}
	}
	matchesJSON, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}

	flagged := 0
	if r.Flagged {
		flagged = 1
	}
	skipped := 0
	if r.Skipped {
		skipped = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_results (subject_id, subject_uri, audio_url, fingerprint, duration_ms, outcome, flagged, matches, skipped, scanned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			subject_uri = excluded.subject_uri,
			audio_url = excluded.audio_url,
			fingerprint = excluded.fingerprint,
			duration_ms = excluded.duration_ms,
			outcome = excluded.outcome,
			flagged = excluded.flagged,
			matches = excluded.matches,
			skipped = excluded.skipped,
			scanned_at = excluded.scanned_at,
			updated_at = excluded.updated_at`,
		r.SubjectID,
		r.SubjectURI,
		r.AudioURL,
		r.Fingerprint,
		r.DurationMS,
		string(r.Outcome),
		flagged,
		string(matchesJSON),
		skipped,
		formatTime(r.ScannedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert scan result: %w", err)
	}
	return nil
}

// GetScanResult returns the current scan verdict for a subject.
func (s *Store) GetScanResult(ctx context.Context, subjectID string) (*domain.ScanResult, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM scan_results WHERE subject_id = ?`, scanColumns),
		subjectID)

	r, err := scanScanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundf("no scan result for subject %s", subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan result: %w", err)
	}
	return r, nil
}

// ListScansByOutcome returns scan results with the given outcome, oldest
// first, for the reconciliation job.
func (s *Store) ListScansByOutcome(ctx context.Context, outcome domain.ScanOutcome, limit int) ([]domain.ScanResult, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM scan_results WHERE outcome = ? ORDER BY updated_at ASC LIMIT ?`, scanColumns),
		string(outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("list scans by outcome: %w", err)
	}
	defer rows.Close()

	var results []domain.ScanResult
	for rows.Next() {
		r, err := scanScanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}
