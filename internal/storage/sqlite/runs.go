package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/copysentry/backend/internal/domain"
)

func (c *Client) CreateRun(ctx context.Context, run *domain.AgentRun) error {
	errKind, errMessage, errAt := errInfoColumns(run.LastError)

	query := `
		INSERT INTO agent_runs (id, agent_type, target_key, status, scheduled_at, started_at, completed_at, attempts,
			last_error_kind, last_error_message, last_error_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.AgentType,
		run.TargetKey,
		string(run.Status),
		run.ScheduledAt.Unix(),
		unixOrNil(run.StartedAt),
		unixOrNil(run.CompletedAt),
		run.Attempts,
		errKind, errMessage, errAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRun refuses to mutate a run that already reached a terminal status:
// the ledger is append-only once a run succeeds or fails.
func (c *Client) UpdateRun(ctx context.Context, run *domain.AgentRun) error {
	errKind, errMessage, errAt := errInfoColumns(run.LastError)

	query := `
		UPDATE agent_runs SET
			status = ?, started_at = ?, completed_at = ?, attempts = ?,
			last_error_kind = ?, last_error_message = ?, last_error_at = ?
		WHERE id = ? AND status NOT IN ('succeeded', 'failed')
	`
	result, err := c.db.ExecContext(ctx, query,
		string(run.Status),
		unixOrNil(run.StartedAt),
		unixOrNil(run.CompletedAt),
		run.Attempts,
		errKind, errMessage, errAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s not updatable: %w", run.ID, ErrNotFound)
	}
	return nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*domain.AgentRun, error) {
	row := c.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns filters the ledger; status "failed" with a recent limit is the
// human review queue.
func (c *Client) ListRuns(ctx context.Context, status, agentType string, limit int) ([]*domain.AgentRun, error) {
	if limit <= 0 {
		limit = 100
	}

	query := selectRun + ` WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if agentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, agentType)
	}
	query += ` ORDER BY scheduled_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.AgentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const selectRun = `
	SELECT id, agent_type, target_key, status, scheduled_at, started_at, completed_at, attempts,
	       last_error_kind, last_error_message, last_error_at
	FROM agent_runs
`

func scanRun(row rowScanner) (*domain.AgentRun, error) {
	var run domain.AgentRun
	var status string
	var scheduledAt int64
	var startedAt, completedAt sql.NullInt64
	var errKind, errMessage sql.NullString
	var errAt sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.AgentType,
		&run.TargetKey,
		&status,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&run.Attempts,
		&errKind, &errMessage, &errAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.ScheduledAt = unixTime(scheduledAt)
	run.StartedAt = timeFromNull(startedAt)
	run.CompletedAt = timeFromNull(completedAt)
	run.LastError = errInfoFromNull(errKind, errMessage, errAt)
	return &run, nil
}
