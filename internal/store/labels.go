package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chorusfm/moderation-server/internal/domain"
	domainerrors "github.com/chorusfm/moderation-server/internal/errors"
)

// Query limit bounds, matching the label protocol's queryLabels contract.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 250
)

// labelColumns is the ordered list of columns selected in label queries.
// Must match the scan order in scanLabel.
const labelColumns = `seq, version, issuer, uri, cid, val, neg, cts, exp, sig, key_version`

// scanLabel scans a sql.Row (or sql.Rows via its Scan method) into a domain.Label.
func scanLabel(scanner interface{ Scan(dest ...any) error }) (*domain.Label, error) {
	var l domain.Label

	var (
		cid sql.NullString
		neg int
		cts string
		exp sql.NullString
		sig []byte
	)

	err := scanner.Scan(
		&l.Seq,
		&l.Version,
		&l.Issuer,
		&l.SubjectURI,
		&cid,
		&l.Value,
		&neg,
		&cts,
		&exp,
		&sig,
		&l.KeyVersion,
	)
	if err != nil {
		return nil, err
	}

	l.SubjectFingerprint = cid.String
	l.Negated = neg != 0
	l.Signature = sig

	l.CreatedAt, err = parseTime(cts)
	if err != nil {
		return nil, err
	}
	l.ExpiresAt, err = parseNullableTime(exp)
	if err != nil {
		return nil, err
	}

	return &l, nil
}

// AppendLabel appends a signed label to the log, assigning the next seq.
// Seq assignment and the insert happen in one transaction under a mutex,
// so the log never has gaps or duplicate seqs from this writer.
func (s *Store) AppendLabel(ctx context.Context, l *domain.Label) error {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM labels`).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read max seq: %w", err)
	}
	seq := maxSeq.Int64 + 1

	var exp sql.NullString
	if l.ExpiresAt != nil {
		exp = sql.NullString{String: formatTime(*l.ExpiresAt), Valid: true}
	}
	neg := 0
	if l.Negated {
		neg = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO labels (seq, version, issuer, uri, cid, val, neg, cts, exp, sig, key_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq,
		l.Version,
		l.Issuer,
		l.SubjectURI,
		nullString(l.SubjectFingerprint),
		l.Value,
		neg,
		formatTime(l.CreatedAt),
		exp,
		l.Signature,
		l.KeyVersion,
	)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeSequenceConflict, "commit label append")
	}

	l.Seq = seq
	return nil
}

// LabelQuery filters a queryLabels page.
type LabelQuery struct {
	// URIPatterns are exact URIs or prefixes ending in '*'. Required.
	URIPatterns []string
	// Sources restricts results to these issuer DIDs. Optional.
	Sources []string
	// Cursor returns labels with seq strictly greater. Zero starts at the head.
	Cursor int64
	// Limit is clamped to [1, MaxQueryLimit]; zero means DefaultQueryLimit.
	Limit int
}

// QueryLabels returns labels matching q in ascending seq order, and the
// cursor for the next page (0 when this page exhausted the results).
// Negation rows are included; readers fold them.
func (s *Store) QueryLabels(ctx context.Context, q LabelQuery) ([]domain.Label, int64, error) {
	if len(q.URIPatterns) == 0 {
		return nil, 0, domainerrors.Validation("at least one uri pattern is required")
	}

	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultQueryLimit
	case limit > MaxQueryLimit:
		limit = MaxQueryLimit
	}

	var (
		where []string
		args  []any
	)

	uriClauses := make([]string, 0, len(q.URIPatterns))
	for _, p := range q.URIPatterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			uriClauses = append(uriClauses, `uri LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(prefix)+"%")
		} else {
			uriClauses = append(uriClauses, `uri = ?`)
			args = append(args, p)
		}
	}
	where = append(where, "("+strings.Join(uriClauses, " OR ")+")")

	if len(q.Sources) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Sources)), ",")
		where = append(where, "issuer IN ("+placeholders+")")
		for _, src := range q.Sources {
			args = append(args, src)
		}
	}

	where = append(where, "seq > ?")
	args = append(args, q.Cursor)

	// Fetch one extra row to know whether a next page exists.
	args = append(args, limit+1)

	query := fmt.Sprintf(`SELECT %s FROM labels WHERE %s ORDER BY seq ASC LIMIT ?`,
		labelColumns, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var labels []domain.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var nextCursor int64
	if len(labels) > limit {
		labels = labels[:limit]
		nextCursor = labels[len(labels)-1].Seq
	}

	return labels, nextCursor, nil
}

// ListLabelsSince returns up to limit labels with seq strictly greater than
// cursor, in ascending order. Used for subscription replay.
func (s *Store) ListLabelsSince(ctx context.Context, cursor int64, limit int) ([]domain.Label, error) {
	if limit <= 0 {
		limit = MaxQueryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM labels WHERE seq > ? ORDER BY seq ASC LIMIT ?`, labelColumns),
		cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list labels since: %w", err)
	}
	defer rows.Close()

	var labels []domain.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, *l)
	}
	return labels, rows.Err()
}

// LatestSeq returns the highest assigned seq, 0 when the log is empty.
func (s *Store) LatestSeq(ctx context.Context) (int64, error) {
	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM labels`).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return maxSeq.Int64, nil
}

// EffectiveLabel returns the latest label row for a (subject, value) pair,
// which determines the pair's effective state. Returns NotFound when no
// label was ever emitted for the pair.
func (s *Store) EffectiveLabel(ctx context.Context, uri, val string) (*domain.Label, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM labels WHERE uri = ? AND val = ? ORDER BY seq DESC LIMIT 1`, labelColumns),
		uri, val)

	l, err := scanLabel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.NotFoundf("no label for %s", uri)
	}
	if err != nil {
		return nil, fmt.Errorf("effective label: %w", err)
	}
	return l, nil
}

// escapeLike escapes LIKE metacharacters so user prefixes match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
