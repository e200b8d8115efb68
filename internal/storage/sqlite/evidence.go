package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/copysentry/backend/internal/domain"
)

func (c *Client) CreateEvidence(ctx context.Context, e *domain.EvidenceRecord) error {
	errKind, errMessage, errAt := errInfoColumns(e.LastError)
	succeeded := 0
	if e.Succeeded {
		succeeded = 1
	}

	query := `
		INSERT INTO evidence_records (id, match_id, full_key, thumb_key, captured_at, succeeded,
			last_error_kind, last_error_message, last_error_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.db.ExecContext(ctx, query,
		e.ID,
		e.MatchID,
		e.FullKey,
		e.ThumbKey,
		e.CapturedAt.Unix(),
		succeeded,
		errKind, errMessage, errAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}
	return nil
}

func (c *Client) GetEvidence(ctx context.Context, id string) (*domain.EvidenceRecord, error) {
	row := c.db.QueryRowContext(ctx, selectEvidence+` WHERE id = ?`, id)
	e, err := scanEvidence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	return e, err
}

func (c *Client) ListEvidenceByMatch(ctx context.Context, matchID string) ([]*domain.EvidenceRecord, error) {
	rows, err := c.db.QueryContext(ctx, selectEvidence+` WHERE match_id = ? ORDER BY captured_at DESC`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var records []*domain.EvidenceRecord
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, e)
	}
	return records, rows.Err()
}

const selectEvidence = `
	SELECT id, match_id, full_key, thumb_key, captured_at, succeeded,
	       last_error_kind, last_error_message, last_error_at
	FROM evidence_records
`

func scanEvidence(row rowScanner) (*domain.EvidenceRecord, error) {
	var e domain.EvidenceRecord
	var succeeded int
	var capturedAt int64
	var errKind, errMessage sql.NullString
	var errAt sql.NullInt64

	err := row.Scan(
		&e.ID,
		&e.MatchID,
		&e.FullKey,
		&e.ThumbKey,
		&capturedAt,
		&succeeded,
		&errKind, &errMessage, &errAt,
	)
	if err != nil {
		return nil, err
	}

	e.Succeeded = succeeded == 1
	e.CapturedAt = unixTime(capturedAt)
	e.LastError = errInfoFromNull(errKind, errMessage, errAt)
	return &e, nil
}
