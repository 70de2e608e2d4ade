package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	domainerrors "github.com/chorusfm/moderation-server/internal/errors"
)

const caseColumns = `id, subject_id, subject_uri, label_seq, resolution, resolved_by, resolved_at, notes, created_at`

func scanReviewCase(scanner interface{ Scan(dest ...any) error }) (*domain.ReviewCase, error) {
	var c domain.ReviewCase

	var (
		resolvedBy sql.NullString
		resolvedAt sql.NullString
		createdAt  string
	)

	err := scanner.Scan(
		&c.ID,
		&c.SubjectID,
		&c.SubjectURI,
		&c.LabelSeq,
		&c.Resolution,
		&resolvedBy,
		&resolvedAt,
		&c.Notes,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.ResolvedBy = resolvedBy.String
	c.ResolvedAt, err = parseNullableTime(resolvedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// CreateReviewCase inserts a new review case.
func (s *Store) CreateReviewCase(ctx context.Context, c *domain.ReviewCase) error {
	if c.Resolution == "" {
		c.Resolution = domain.ResolutionUnreviewed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_cases (id, subject_id, subject_uri, label_seq, resolution, resolved_by, resolved_at, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.SubjectID,
		c.SubjectURI,
		c.LabelSeq,
		string(c.Resolution),
		nullString(c.ResolvedBy),
		sql.NullString{},
		c.Notes,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert review case: %w", err)
	}
	return nil
}

// GetReviewCase returns a case by ID.
func (s *Store) GetReviewCase(ctx context.Context, id string) (*domain.ReviewCase, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM review_cases WHERE id = ?`, caseColumns), id)

	c, err := scanReviewCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundf("review case %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review case: %w", err)
	}
	return c, nil
}

// GetPendingCaseBySubject returns the open case for a subject, if any.
func (s *Store) GetPendingCaseBySubject(ctx context.Context, subjectID string) (*domain.ReviewCase, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM review_cases WHERE subject_id = ? AND resolution = ? ORDER BY created_at DESC LIMIT 1`, caseColumns),
		subjectID, string(domain.ResolutionUnreviewed))

	c, err := scanReviewCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundf("no pending case for subject %s", subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("pending case by subject: %w", err)
	}
	return c, nil
}

// ResolveReviewCase records a terminal resolution on a case.
func (s *Store) ResolveReviewCase(ctx context.Context, id string, resolution domain.Resolution, resolvedBy, notes string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_cases SET resolution = ?, resolved_by = ?, resolved_at = ?, notes = ? WHERE id = ?`,
		string(resolution),
		nullString(resolvedBy),
		formatTime(at),
		notes,
		id,
	)
	if err != nil {
		return fmt.Errorf("resolve review case: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domainerrors.NotFoundf("review case %s not found", id)
	}
	return nil
}

// SetCaseLabelSeq links a case to its affirmative label after a deferred emission.
func (s *Store) SetCaseLabelSeq(ctx context.Context, id string, seq int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE review_cases SET label_seq = ? WHERE id = ?`, seq, id)
	if err != nil {
		return fmt.Errorf("set case label seq: %w", err)
	}
	return nil
}

// ListReviewQueue returns cases for the review UI: pending cases first,
// newest first within each group.
func (s *Store) ListReviewQueue(ctx context.Context, limit int) ([]domain.ReviewCase, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM review_cases
		ORDER BY CASE WHEN resolution = ? THEN 0 ELSE 1 END, created_at DESC
		LIMIT ?`, caseColumns),
		string(domain.ResolutionUnreviewed), limit)
	if err != nil {
		return nil, fmt.Errorf("list review queue: %w", err)
	}
	defer rows.Close()

	var cases []domain.ReviewCase
	for rows.Next() {
		c, err := scanReviewCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review case: %w", err)
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

// ListUnlinkedCases returns pending cases whose affirmative label was never
// emitted (label_seq = 0), for the reconciliation job. Resolved cases are
// excluded; re-emitting for them could re-flag a cleared subject.
func (s *Store) ListUnlinkedCases(ctx context.Context, limit int) ([]domain.ReviewCase, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM review_cases WHERE label_seq = 0 AND resolution = ? ORDER BY created_at ASC LIMIT ?`, caseColumns),
		string(domain.ResolutionUnreviewed), limit)
	if err != nil {
		return nil, fmt.Errorf("list unlinked cases: %w", err)
	}
	defer rows.Close()

	var cases []domain.ReviewCase
	for rows.Next() {
		c, err := scanReviewCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review case: %w", err)
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}
