package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/copysentry/backend/internal/domain"
)

var ErrNotFound = errors.New("record not found")

func (c *Client) CreateContent(ctx context.Context, content *domain.ProtectedContent) error {
	query := `
		INSERT INTO protected_content (id, user_id, source_ref, fingerprint, title, description, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	active := 0
	if content.Active {
		active = 1
	}
	_, err := c.db.ExecContext(ctx, query,
		content.ID,
		content.UserID,
		content.SourceRef,
		content.Fingerprint,
		content.Title,
		content.Description,
		active,
		content.CreatedAt.Unix(),
		content.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert content: %w", err)
	}
	return nil
}

func (c *Client) GetContent(ctx context.Context, id string) (*domain.ProtectedContent, error) {
	query := `
		SELECT id, user_id, source_ref, fingerprint, title, description, active, created_at, updated_at
		FROM protected_content WHERE id = ?
	`
	row := c.db.QueryRowContext(ctx, query, id)
	content, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return content, err
}

func (c *Client) ListActiveContent(ctx context.Context) ([]*domain.ProtectedContent, error) {
	query := `
		SELECT id, user_id, source_ref, fingerprint, title, description, active, created_at, updated_at
		FROM protected_content WHERE active = 1 ORDER BY created_at
	`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	var contents []*domain.ProtectedContent
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}

func (c *Client) ListContentByUser(ctx context.Context, userID string) ([]*domain.ProtectedContent, error) {
	query := `
		SELECT id, user_id, source_ref, fingerprint, title, description, active, created_at, updated_at
		FROM protected_content WHERE user_id = ? ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content for user: %w", err)
	}
	defer rows.Close()

	var contents []*domain.ProtectedContent
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}

func (c *Client) UpdateContentFingerprint(ctx context.Context, id, fingerprint string) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE protected_content SET fingerprint = ?, updated_at = ? WHERE id = ?`,
		fingerprint, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update fingerprint: %w", err)
	}
	return requireRow(result, id)
}

// DeactivateContent soft-deletes a protected item; its matches and notices
// stay for the retention window.
func (c *Client) DeactivateContent(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE protected_content SET active = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate content: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContent(row rowScanner) (*domain.ProtectedContent, error) {
	var content domain.ProtectedContent
	var active int
	var createdAt, updatedAt int64

	err := row.Scan(
		&content.ID,
		&content.UserID,
		&content.SourceRef,
		&content.Fingerprint,
		&content.Title,
		&content.Description,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	content.Active = active == 1
	content.CreatedAt = time.Unix(createdAt, 0).UTC()
	content.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &content, nil
}
