package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS protected_content (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_ref TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		title TEXT,
		description TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_content_user ON protected_content(user_id);
	CREATE INDEX IF NOT EXISTS idx_content_active ON protected_content(active);

	CREATE TABLE IF NOT EXISTS candidate_matches (
		id TEXT PRIMARY KEY,
		content_id TEXT NOT NULL,
		url TEXT NOT NULL,
		platform TEXT,
		fingerprint TEXT,
		similarity REAL NOT NULL DEFAULT 0,
		tier TEXT NOT NULL DEFAULT 'very_low',
		tier_rank INTEGER NOT NULL DEFAULT 0,
		is_match INTEGER NOT NULL DEFAULT 0,
		semantic_score REAL,
		evidence_id TEXT,
		discovered_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_error_kind TEXT,
		last_error_message TEXT,
		last_error_at INTEGER,
		UNIQUE(content_id, url),
		FOREIGN KEY (content_id) REFERENCES protected_content(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_matches_content ON candidate_matches(content_id);
	CREATE INDEX IF NOT EXISTS idx_matches_tier ON candidate_matches(tier_rank);
	CREATE INDEX IF NOT EXISTS idx_matches_is_match ON candidate_matches(is_match);

	CREATE TABLE IF NOT EXISTS evidence_records (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		full_key TEXT,
		thumb_key TEXT,
		captured_at INTEGER NOT NULL,
		succeeded INTEGER NOT NULL DEFAULT 0,
		last_error_kind TEXT,
		last_error_message TEXT,
		last_error_at INTEGER,
		FOREIGN KEY (match_id) REFERENCES candidate_matches(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_match ON evidence_records(match_id);

	CREATE TABLE IF NOT EXISTS takedown_notices (
		id TEXT PRIMARY KEY,
		match_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		platform TEXT,
		recipient TEXT,
		owner_name TEXT,
		owner_contact TEXT,
		infringing_url TEXT,
		content_ref TEXT,
		subject TEXT,
		body TEXT,
		status TEXT NOT NULL,
		drafted_at INTEGER NOT NULL,
		submitted_at INTEGER,
		approved_at INTEGER,
		rejected_at INTEGER,
		sent_at INTEGER,
		responded_at INTEGER,
		resolved_at INTEGER,
		response_text TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error_kind TEXT,
		last_error_message TEXT,
		last_error_at INTEGER,
		FOREIGN KEY (match_id) REFERENCES candidate_matches(id)
	);
	CREATE INDEX IF NOT EXISTS idx_notices_match ON takedown_notices(match_id);
	CREATE INDEX IF NOT EXISTS idx_notices_status ON takedown_notices(status);
	CREATE INDEX IF NOT EXISTS idx_notices_user ON takedown_notices(user_id);

	CREATE TABLE IF NOT EXISTS agent_runs (
		id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		target_key TEXT NOT NULL,
		status TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error_kind TEXT,
		last_error_message TEXT,
		last_error_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON agent_runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_type_target ON agent_runs(agent_type, target_key);
	CREATE INDEX IF NOT EXISTS idx_runs_scheduled ON agent_runs(scheduled_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func unixTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func errInfoColumns(info *domain.ErrorInfo) (interface{}, interface{}, interface{}) {
	if info == nil {
		return nil, nil, nil
	}
	return string(info.Kind), info.Message, info.At.Unix()
}

func errInfoFromNull(kind, message sql.NullString, at sql.NullInt64) *domain.ErrorInfo {
	if !kind.Valid {
		return nil
	}
	info := &domain.ErrorInfo{
		Kind:    domain.ErrorKind(kind.String),
		Message: message.String,
	}
	if at.Valid {
		info.At = time.Unix(at.Int64, 0).UTC()
	}
	return info
}
