package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/copysentry/backend/internal/domain"
)

func (c *Client) CreateNotice(ctx context.Context, n *domain.TakedownNotice) error {
	errKind, errMessage, errAt := errInfoColumns(n.LastError)

	query := `
		INSERT INTO takedown_notices (
			id, match_id, user_id, platform, recipient,
			owner_name, owner_contact, infringing_url, content_ref,
			subject, body, status, drafted_at,
			submitted_at, approved_at, rejected_at, sent_at, responded_at, resolved_at,
			response_text, retry_count,
			last_error_kind, last_error_message, last_error_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.db.ExecContext(ctx, query,
		n.ID, n.MatchID, n.UserID, n.Platform, n.Recipient,
		n.OwnerName, n.OwnerContact, n.InfringingURL, n.ContentRef,
		n.Subject, n.Body, string(n.Status), n.DraftedAt.Unix(),
		unixOrNil(n.SubmittedAt), unixOrNil(n.ApprovedAt), unixOrNil(n.RejectedAt),
		unixOrNil(n.SentAt), unixOrNil(n.RespondedAt), unixOrNil(n.ResolvedAt),
		n.ResponseText, n.RetryCount,
		errKind, errMessage, errAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notice: %w", err)
	}
	return nil
}

func (c *Client) UpdateNotice(ctx context.Context, n *domain.TakedownNotice) error {
	errKind, errMessage, errAt := errInfoColumns(n.LastError)

	query := `
		UPDATE takedown_notices SET
			platform = ?, recipient = ?,
			owner_name = ?, owner_contact = ?, infringing_url = ?, content_ref = ?,
			subject = ?, body = ?, status = ?,
			submitted_at = ?, approved_at = ?, rejected_at = ?,
			sent_at = ?, responded_at = ?, resolved_at = ?,
			response_text = ?, retry_count = ?,
			last_error_kind = ?, last_error_message = ?, last_error_at = ?
		WHERE id = ?
	`
	result, err := c.db.ExecContext(ctx, query,
		n.Platform, n.Recipient,
		n.OwnerName, n.OwnerContact, n.InfringingURL, n.ContentRef,
		n.Subject, n.Body, string(n.Status),
		unixOrNil(n.SubmittedAt), unixOrNil(n.ApprovedAt), unixOrNil(n.RejectedAt),
		unixOrNil(n.SentAt), unixOrNil(n.RespondedAt), unixOrNil(n.ResolvedAt),
		n.ResponseText, n.RetryCount,
		errKind, errMessage, errAt,
		n.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notice: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("notice %s: %w", n.ID, ErrNotFound)
	}
	return nil
}

func (c *Client) GetNotice(ctx context.Context, id string) (*domain.TakedownNotice, error) {
	row := c.db.QueryRowContext(ctx, selectNotice+` WHERE id = ?`, id)
	n, err := scanNotice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notice %s: %w", id, ErrNotFound)
	}
	return n, err
}

// GetNoticeByMatch returns the live (non-rejected) notice for a match, or
// nil when none exists.
func (c *Client) GetNoticeByMatch(ctx context.Context, matchID string) (*domain.TakedownNotice, error) {
	row := c.db.QueryRowContext(ctx,
		selectNotice+` WHERE match_id = ? AND status != 'rejected' ORDER BY drafted_at DESC LIMIT 1`,
		matchID,
	)
	n, err := scanNotice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (c *Client) ListNotices(ctx context.Context, status string, limit int) ([]*domain.TakedownNotice, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = c.db.QueryContext(ctx, selectNotice+` ORDER BY drafted_at DESC LIMIT ?`, limit)
	} else {
		rows, err = c.db.QueryContext(ctx, selectNotice+` WHERE status = ? ORDER BY drafted_at DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list notices: %w", err)
	}
	defer rows.Close()

	var notices []*domain.TakedownNotice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	return notices, rows.Err()
}

const selectNotice = `
	SELECT id, match_id, user_id, platform, recipient,
	       owner_name, owner_contact, infringing_url, content_ref,
	       subject, body, status, drafted_at,
	       submitted_at, approved_at, rejected_at, sent_at, responded_at, resolved_at,
	       response_text, retry_count,
	       last_error_kind, last_error_message, last_error_at
	FROM takedown_notices
`

func scanNotice(row rowScanner) (*domain.TakedownNotice, error) {
	var n domain.TakedownNotice
	var status string
	var draftedAt int64
	var submittedAt, approvedAt, rejectedAt, sentAt, respondedAt, resolvedAt sql.NullInt64
	var errKind, errMessage sql.NullString
	var errAt sql.NullInt64

	err := row.Scan(
		&n.ID, &n.MatchID, &n.UserID, &n.Platform, &n.Recipient,
		&n.OwnerName, &n.OwnerContact, &n.InfringingURL, &n.ContentRef,
		&n.Subject, &n.Body, &status, &draftedAt,
		&submittedAt, &approvedAt, &rejectedAt, &sentAt, &respondedAt, &resolvedAt,
		&n.ResponseText, &n.RetryCount,
		&errKind, &errMessage, &errAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = domain.NoticeStatus(status)
	n.DraftedAt = unixTime(draftedAt)
	n.SubmittedAt = timeFromNull(submittedAt)
	n.ApprovedAt = timeFromNull(approvedAt)
	n.RejectedAt = timeFromNull(rejectedAt)
	n.SentAt = timeFromNull(sentAt)
	n.RespondedAt = timeFromNull(respondedAt)
	n.ResolvedAt = timeFromNull(resolvedAt)
	n.LastError = errInfoFromNull(errKind, errMessage, errAt)
	return &n, nil
}
