package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/copysentry/backend/internal/domain"
)

// UpsertMatch inserts or refreshes the match for (content, URL). On refresh
// the original id and discovery timestamp are preserved and written back to m.
func (c *Client) UpsertMatch(ctx context.Context, m *domain.CandidateMatch) error {
	errKind, errMessage, errAt := errInfoColumns(m.LastError)
	isMatch := 0
	if m.IsMatch {
		isMatch = 1
	}

	query := `
		INSERT INTO candidate_matches (
			id, content_id, url, platform, fingerprint, similarity, tier, tier_rank,
			is_match, semantic_score, evidence_id, discovered_at, updated_at,
			last_error_kind, last_error_message, last_error_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id, url) DO UPDATE SET
			platform = excluded.platform,
			fingerprint = excluded.fingerprint,
			similarity = excluded.similarity,
			tier = excluded.tier,
			tier_rank = excluded.tier_rank,
			is_match = excluded.is_match,
			semantic_score = excluded.semantic_score,
			updated_at = excluded.updated_at,
			last_error_kind = excluded.last_error_kind,
			last_error_message = excluded.last_error_message,
			last_error_at = excluded.last_error_at
	`
	_, err := c.db.ExecContext(ctx, query,
		m.ID,
		m.ContentID,
		m.URL,
		m.Platform,
		m.Fingerprint,
		m.Similarity,
		string(m.Tier),
		m.Tier.Rank(),
		isMatch,
		m.SemanticScore,
		m.EvidenceID,
		m.DiscoveredAt.Unix(),
		m.UpdatedAt.Unix(),
		errKind, errMessage, errAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match: %w", err)
	}

	// Read back identity fields the conflict clause kept.
	row := c.db.QueryRowContext(ctx,
		`SELECT id, discovered_at, evidence_id FROM candidate_matches WHERE content_id = ? AND url = ?`,
		m.ContentID, m.URL,
	)
	var discoveredAt int64
	var evidenceID sql.NullString
	if err := row.Scan(&m.ID, &discoveredAt, &evidenceID); err != nil {
		return fmt.Errorf("failed to read back match: %w", err)
	}
	m.DiscoveredAt = unixTime(discoveredAt)
	m.EvidenceID = evidenceID.String
	return nil
}

// RecordMatchError attaches a failure to the match row for (content, URL).
// A candidate that fails on first sight gets an error-only row so the
// failure is visible on the match history, not just in logs.
func (c *Client) RecordMatchError(ctx context.Context, contentID, candidateURL string, info *domain.ErrorInfo) error {
	now := time.Now().Unix()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO candidate_matches (
			id, content_id, url, platform, fingerprint,
			similarity, tier, tier_rank, is_match, discovered_at, updated_at
		)
		VALUES (?, ?, ?, '', '', 0, ?, ?, 0, ?, ?)
		ON CONFLICT(content_id, url) DO NOTHING`,
		uuid.New().String(), contentID, candidateURL,
		string(domain.TierVeryLow), domain.TierVeryLow.Rank(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record match error: %w", err)
	}

	errKind, errMessage, errAt := errInfoColumns(info)
	_, err = c.db.ExecContext(ctx,
		`UPDATE candidate_matches
		 SET last_error_kind = ?, last_error_message = ?, last_error_at = ?, updated_at = ?
		 WHERE content_id = ? AND url = ?`,
		errKind, errMessage, errAt, now, contentID, candidateURL,
	)
	if err != nil {
		return fmt.Errorf("failed to record match error: %w", err)
	}
	return nil
}

func (c *Client) GetMatch(ctx context.Context, id string) (*domain.CandidateMatch, error) {
	row := c.db.QueryRowContext(ctx, selectMatch+` WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	return m, err
}

func (c *Client) ListMatchesByContent(ctx context.Context, contentID string) ([]*domain.CandidateMatch, error) {
	rows, err := c.db.QueryContext(ctx, selectMatch+` WHERE content_id = ? ORDER BY similarity DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

// ListNoticeWorthyMatches returns matches at or above minRank that have no
// live (non-rejected) notice yet.
func (c *Client) ListNoticeWorthyMatches(ctx context.Context, contentID string, minRank int) ([]*domain.CandidateMatch, error) {
	query := selectMatch + `
		WHERE m.content_id = ? AND m.is_match = 1 AND m.tier_rank >= ?
		AND NOT EXISTS (
			SELECT 1 FROM takedown_notices n
			WHERE n.match_id = m.id AND n.status != 'rejected'
		)
		ORDER BY m.similarity DESC
	`
	rows, err := c.db.QueryContext(ctx, query, contentID, minRank)
	if err != nil {
		return nil, fmt.Errorf("failed to list notice-worthy matches: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

// ListMatchesNeedingEvidence returns confirmed matches without a successful
// capture yet.
func (c *Client) ListMatchesNeedingEvidence(ctx context.Context, contentID string, minRank int) ([]*domain.CandidateMatch, error) {
	query := selectMatch + `
		WHERE m.content_id = ? AND m.is_match = 1 AND m.tier_rank >= ?
		AND (m.evidence_id IS NULL OR m.evidence_id = '')
		ORDER BY m.similarity DESC
	`
	rows, err := c.db.QueryContext(ctx, query, contentID, minRank)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches needing evidence: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

func (c *Client) SetMatchEvidence(ctx context.Context, matchID, evidenceID string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE candidate_matches SET evidence_id = ? WHERE id = ?`,
		evidenceID, matchID,
	)
	if err != nil {
		return fmt.Errorf("failed to set match evidence: %w", err)
	}
	return nil
}

const selectMatch = `
	SELECT m.id, m.content_id, m.url, m.platform, m.fingerprint, m.similarity,
	       m.tier, m.is_match, m.semantic_score, m.evidence_id,
	       m.discovered_at, m.updated_at,
	       m.last_error_kind, m.last_error_message, m.last_error_at
	FROM candidate_matches m
`

func scanMatch(row rowScanner) (*domain.CandidateMatch, error) {
	var m domain.CandidateMatch
	var isMatch int
	var tier string
	var semanticScore sql.NullFloat64
	var evidenceID sql.NullString
	var discoveredAt, updatedAt int64
	var errKind, errMessage sql.NullString
	var errAt sql.NullInt64

	err := row.Scan(
		&m.ID,
		&m.ContentID,
		&m.URL,
		&m.Platform,
		&m.Fingerprint,
		&m.Similarity,
		&tier,
		&isMatch,
		&semanticScore,
		&evidenceID,
		&discoveredAt,
		&updatedAt,
		&errKind, &errMessage, &errAt,
	)
	if err != nil {
		return nil, err
	}

	m.Tier = domain.ConfidenceTier(tier)
	m.IsMatch = isMatch == 1
	if semanticScore.Valid {
		m.SemanticScore = &semanticScore.Float64
	}
	m.EvidenceID = evidenceID.String
	m.DiscoveredAt = unixTime(discoveredAt)
	m.UpdatedAt = unixTime(updatedAt)
	m.LastError = errInfoFromNull(errKind, errMessage, errAt)
	return &m, nil
}

func collectMatches(rows *sql.Rows) ([]*domain.CandidateMatch, error) {
	var matches []*domain.CandidateMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
