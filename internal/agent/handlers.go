package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/events"
	"github.com/copysentry/backend/internal/match"
	"github.com/copysentry/backend/internal/notice"
	"github.com/copysentry/backend/pkg/logger"
)

// DataStore is the persistence surface the handlers read from.
type DataStore interface {
	GetContent(ctx context.Context, id string) (*domain.ProtectedContent, error)
	ListActiveContent(ctx context.Context) ([]*domain.ProtectedContent, error)
	ListMatchesByContent(ctx context.Context, contentID string) ([]*domain.CandidateMatch, error)
	ListMatchesNeedingEvidence(ctx context.Context, contentID string, minRank int) ([]*domain.CandidateMatch, error)
	ListNoticeWorthyMatches(ctx context.Context, contentID string, minRank int) ([]*domain.CandidateMatch, error)
}

// Discoverer finds candidate copies for a protected item.
type Discoverer interface {
	Discover(ctx context.Context, content *domain.ProtectedContent) ([]domain.Candidate, error)
}

// MatchRunner scores candidates against a protected item.
type MatchRunner interface {
	Run(ctx context.Context, content *domain.ProtectedContent, candidates []domain.Candidate) (*match.BatchResult, error)
}

// EvidenceCapturer screenshots an infringing URL.
type EvidenceCapturer interface {
	Capture(ctx context.Context, m *domain.CandidateMatch) (*domain.EvidenceRecord, error)
}

// NoticeDrafter creates Draft notices. CreateDraft is idempotent per match.
type NoticeDrafter interface {
	CreateDraft(ctx context.Context, m *domain.CandidateMatch, content *domain.ProtectedContent, owner notice.OwnerInfo) (*domain.TakedownNotice, error)
}

// SuppressionCache remembers recently-noticed matches so the notice sweep
// does not hammer the store looking up matches it just drafted for. May be
// nil.
type SuppressionCache interface {
	WasNotified(ctx context.Context, matchID string) (bool, error)
	MarkNotified(ctx context.Context, matchID string, ttl time.Duration) error
}

// OwnerResolver looks up the contact fields for a user. Returning an empty
// OwnerInfo leaves the draft incomplete for a human to fill in.
type OwnerResolver func(ctx context.Context, userID string) (notice.OwnerInfo, error)

// Handlers binds the four agent types to their collaborators. Each handler
// takes a protected-content id as its target.
type Handlers struct {
	store       DataStore
	discoverer  Discoverer
	pipeline    MatchRunner
	capturer    EvidenceCapturer
	drafter     NoticeDrafter
	suppression SuppressionCache
	owners      OwnerResolver
	hub         *events.Hub

	worthyTier  domain.ConfidenceTier
	suppressTTL time.Duration
}

type HandlersConfig struct {
	WorthyTier  domain.ConfidenceTier
	SuppressTTL time.Duration
}

func NewHandlers(store DataStore, discoverer Discoverer, pipeline MatchRunner, capturer EvidenceCapturer, drafter NoticeDrafter, suppression SuppressionCache, owners OwnerResolver, hub *events.Hub, cfg HandlersConfig) *Handlers {
	tier := cfg.WorthyTier
	if tier == "" {
		tier = domain.TierHigh
	}
	ttl := cfg.SuppressTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if owners == nil {
		owners = func(context.Context, string) (notice.OwnerInfo, error) {
			return notice.OwnerInfo{}, nil
		}
	}
	return &Handlers{
		store:       store,
		discoverer:  discoverer,
		pipeline:    pipeline,
		capturer:    capturer,
		drafter:     drafter,
		suppression: suppression,
		owners:      owners,
		hub:         hub,
		worthyTier:  tier,
		suppressTTL: ttl,
	}
}

// ActiveContentTargets lists the ids every periodic cycle covers.
func (h *Handlers) ActiveContentTargets(ctx context.Context) ([]string, error) {
	contents, err := h.store.ListActiveContent(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active content: %w", err)
	}
	ids := make([]string, 0, len(contents))
	for _, content := range contents {
		ids = append(ids, content.ID)
	}
	return ids, nil
}

// Crawl discovers new candidate URLs for the content and scores them.
func (h *Handlers) Crawl(ctx context.Context, target string) error {
	content, err := h.activeContent(ctx, target)
	if err != nil || content == nil {
		return err
	}

	candidates, err := h.discoverer.Discover(ctx, content)
	if err != nil {
		return fmt.Errorf("discover candidates for %s: %w", target, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	return h.score(ctx, content, candidates)
}

// Match re-scores the candidates already on record for the content. Hosted
// copies change, so similarity is recomputed on its own cadence without
// waiting for the next crawl.
func (h *Handlers) Match(ctx context.Context, target string) error {
	content, err := h.activeContent(ctx, target)
	if err != nil || content == nil {
		return err
	}

	existing, err := h.store.ListMatchesByContent(ctx, target)
	if err != nil {
		return fmt.Errorf("list matches for %s: %w", target, err)
	}
	if len(existing) == 0 {
		return nil
	}

	candidates := make([]domain.Candidate, 0, len(existing))
	for _, m := range existing {
		candidates = append(candidates, domain.Candidate{
			URL:      m.URL,
			Platform: m.Platform,
		})
	}
	return h.score(ctx, content, candidates)
}

func (h *Handlers) score(ctx context.Context, content *domain.ProtectedContent, candidates []domain.Candidate) error {
	result, err := h.pipeline.Run(ctx, content, candidates)
	if err != nil {
		return err
	}

	if h.hub != nil {
		for _, m := range result.NoticeWorthy {
			h.hub.Publish(events.TypeMatchFound, map[string]interface{}{
				"match_id":   m.ID,
				"content_id": m.ContentID,
				"url":        m.URL,
				"similarity": m.Similarity,
				"tier":       m.Tier,
			})
		}
	}
	return nil
}

// Evidence captures screenshots for notice-worthy matches that lack one. A
// single failed capture does not abort the sweep.
func (h *Handlers) Evidence(ctx context.Context, target string) error {
	matches, err := h.store.ListMatchesNeedingEvidence(ctx, target, h.worthyTier.Rank())
	if err != nil {
		return fmt.Errorf("list matches needing evidence for %s: %w", target, err)
	}

	var errs []error
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := h.capturer.Capture(ctx, m); err != nil {
			logger.Warn("Evidence capture failed",
				zap.String("match_id", m.ID),
				zap.String("url", m.URL),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notice drafts takedown notices for notice-worthy matches that have none.
func (h *Handlers) Notice(ctx context.Context, target string) error {
	content, err := h.activeContent(ctx, target)
	if err != nil || content == nil {
		return err
	}

	matches, err := h.store.ListNoticeWorthyMatches(ctx, target, h.worthyTier.Rank())
	if err != nil {
		return fmt.Errorf("list notice-worthy matches for %s: %w", target, err)
	}

	owner, err := h.owners(ctx, content.UserID)
	if err != nil {
		return fmt.Errorf("resolve owner for %s: %w", content.UserID, err)
	}

	var errs []error
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}

		if h.suppression != nil {
			noticed, err := h.suppression.WasNotified(ctx, m.ID)
			if err != nil {
				logger.Debug("Suppression check failed", zap.Error(err))
			} else if noticed {
				continue
			}
		}

		n, err := h.drafter.CreateDraft(ctx, m, content, owner)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if h.suppression != nil {
			if err := h.suppression.MarkNotified(ctx, m.ID, h.suppressTTL); err != nil {
				logger.Debug("Suppression mark failed", zap.Error(err))
			}
		}
		if h.hub != nil {
			h.hub.Publish(events.TypeNoticeTransition, map[string]interface{}{
				"notice_id": n.ID,
				"match_id":  n.MatchID,
				"status":    n.Status,
			})
		}
	}
	return errors.Join(errs...)
}

// activeContent returns nil without error for inactive or deleted content,
// so a sweep quietly skips items deactivated after the cycle was planned.
func (h *Handlers) activeContent(ctx context.Context, id string) (*domain.ProtectedContent, error) {
	content, err := h.store.GetContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	if !content.Active {
		return nil, nil
	}
	return content, nil
}

// Cadences builds the cadence table for the scheduler.
func (h *Handlers) Cadences(crawl, matchEvery, evidence, noticeEvery time.Duration) []CadenceEntry {
	return []CadenceEntry{
		{Type: AgentCrawl, Every: crawl, Targets: h.ActiveContentTargets, Handler: h.Crawl},
		{Type: AgentMatch, Every: matchEvery, Targets: h.ActiveContentTargets, Handler: h.Match},
		{Type: AgentEvidence, Every: evidence, Targets: h.ActiveContentTargets, Handler: h.Evidence},
		{Type: AgentNotice, Every: noticeEvery, Targets: h.ActiveContentTargets, Handler: h.Notice},
	}
}
