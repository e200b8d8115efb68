package match

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/fingerprint"
	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/pkg/logger"
	"github.com/copysentry/backend/pkg/utils"
)

// Fetcher retrieves candidate bytes. Implementations are timeout-bounded.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Store persists candidate matches.
type Store interface {
	UpsertMatch(ctx context.Context, m *domain.CandidateMatch) error
	RecordMatchError(ctx context.Context, contentID, candidateURL string, info *domain.ErrorInfo) error
}

// SignatureCache avoids refetching a candidate whose fingerprint was
// computed recently. May be nil.
type SignatureCache interface {
	GetSignature(ctx context.Context, urlHash string) (string, bool, error)
	SetSignature(ctx context.Context, urlHash, signature string, ttl time.Duration) error
}

// SemanticScorer contributes an advisory embedding-based similarity. It
// never affects IsMatch or the confidence tier. May be nil.
type SemanticScorer interface {
	Score(ctx context.Context, content *domain.ProtectedContent, candidate domain.Candidate) (float64, error)
}

type Config struct {
	Workers          int
	CacheTTL         time.Duration
	NoticeWorthyTier domain.ConfidenceTier
	HostDelay        time.Duration
}

// Pipeline compares one protected item against a list of candidates with
// bounded parallelism. A single candidate failing never aborts the batch.
type Pipeline struct {
	engine   *fingerprint.Engine
	fetcher  Fetcher
	store    Store
	cache    SignatureCache
	semantic SemanticScorer

	workers          int
	cacheTTL         time.Duration
	noticeWorthyTier domain.ConfidenceTier
	hostDelay        time.Duration

	hostMu   sync.Mutex
	lastSend map[string]time.Time
}

type CandidateFailure struct {
	Candidate domain.Candidate
	Error     *domain.ErrorInfo
}

type BatchResult struct {
	ContentID    string
	Succeeded    []*domain.CandidateMatch
	Failed       []CandidateFailure
	NoticeWorthy []*domain.CandidateMatch
	Duration     time.Duration
}

func NewPipeline(engine *fingerprint.Engine, fetcher Fetcher, store Store, cache SignatureCache, semantic SemanticScorer, cfg Config) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	tier := cfg.NoticeWorthyTier
	if tier == "" {
		tier = domain.TierHigh
	}
	return &Pipeline{
		engine:           engine,
		fetcher:          fetcher,
		store:            store,
		cache:            cache,
		semantic:         semantic,
		workers:          workers,
		cacheTTL:         cfg.CacheTTL,
		noticeWorthyTier: tier,
		hostDelay:        cfg.HostDelay,
		lastSend:         make(map[string]time.Time),
	}
}

// Run fetches and scores every candidate against content's fingerprint and
// upserts a CandidateMatch per candidate. The returned BatchResult separates
// succeeded and failed candidates; Run itself errors only on batch-level
// problems (bad reference fingerprint, context cancelled).
func (p *Pipeline) Run(ctx context.Context, content *domain.ProtectedContent, candidates []domain.Candidate) (*BatchResult, error) {
	start := time.Now()

	reference, err := fingerprint.ParseSignature(content.Fingerprint, p.engine.SignatureLength())
	if err != nil {
		return nil, fmt.Errorf("reference fingerprint for content %s: %w", content.ID, err)
	}

	logger.Info("Match batch started",
		zap.String("content_id", content.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("workers", p.workers),
	)

	result := &BatchResult{ContentID: content.ID}
	var mu sync.Mutex

	jobs := make(chan domain.Candidate)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for candidate := range jobs {
				m, candErr := p.processCandidate(ctx, content, reference, candidate)

				mu.Lock()
				if candErr != nil {
					info := domain.NewErrorInfo(candErr)
					result.Failed = append(result.Failed, CandidateFailure{Candidate: candidate, Error: info})
					mu.Unlock()

					metrics.CandidateFailures.WithLabelValues(string(info.Kind)).Inc()
					if err := p.store.RecordMatchError(ctx, content.ID, candidate.URL, info); err != nil {
						logger.Warn("Failed to record candidate error",
							zap.String("url", candidate.URL),
							zap.Error(err),
						)
					}
					continue
				}
				result.Succeeded = append(result.Succeeded, m)
				if m.Tier.AtLeast(p.noticeWorthyTier) {
					result.NoticeWorthy = append(result.NoticeWorthy, m)
				}
				mu.Unlock()
			}
		}()
	}

	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- candidate:
		}
	}
	close(jobs)
	wg.Wait()

	result.Duration = time.Since(start)
	metrics.MatchBatchDuration.Observe(result.Duration.Seconds())

	logger.Info("Match batch completed",
		zap.String("content_id", content.ID),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("notice_worthy", len(result.NoticeWorthy)),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (p *Pipeline) processCandidate(ctx context.Context, content *domain.ProtectedContent, reference fingerprint.Signature, candidate domain.Candidate) (*domain.CandidateMatch, error) {
	signature, err := p.candidateSignature(ctx, candidate)
	if err != nil {
		return nil, err
	}

	similarity := p.engine.Compare(reference, signature)
	tier := p.engine.ClassifyConfidence(similarity)
	metrics.MatchSimilarity.Observe(similarity)

	now := time.Now().UTC()
	m := &domain.CandidateMatch{
		ID:           uuid.New().String(),
		ContentID:    content.ID,
		URL:          candidate.URL,
		Platform:     candidate.Platform,
		Fingerprint:  signature.String(),
		Similarity:   similarity,
		Tier:         tier,
		IsMatch:      p.engine.IsMatch(similarity),
		DiscoveredAt: now,
		UpdatedAt:    now,
	}

	if p.semantic != nil {
		score, err := p.semantic.Score(ctx, content, candidate)
		if err != nil {
			logger.Debug("Semantic score unavailable",
				zap.String("url", candidate.URL),
				zap.Error(err),
			)
		} else {
			m.SemanticScore = &score
		}
	}

	if err := p.store.UpsertMatch(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert match for %s: %w", candidate.URL, err)
	}
	return m, nil
}

func (p *Pipeline) candidateSignature(ctx context.Context, candidate domain.Candidate) (fingerprint.Signature, error) {
	urlHash := utils.HashString(candidate.URL)

	if p.cache != nil {
		encoded, ok, err := p.cache.GetSignature(ctx, urlHash)
		if err != nil {
			logger.Debug("Signature cache read failed", zap.Error(err))
		} else if ok {
			sig, parseErr := fingerprint.ParseSignature(encoded, p.engine.SignatureLength())
			if parseErr == nil {
				return sig, nil
			}
		}
	}

	p.waitForHost(ctx, candidate.URL)

	data, err := p.fetcher.Fetch(ctx, candidate.URL)
	if err != nil {
		return fingerprint.Signature{}, err
	}

	sig, err := p.engine.Generate(data)
	if err != nil {
		return fingerprint.Signature{}, err
	}

	if p.cache != nil && p.cacheTTL > 0 {
		if err := p.cache.SetSignature(ctx, urlHash, sig.String(), p.cacheTTL); err != nil {
			logger.Debug("Signature cache write failed", zap.Error(err))
		}
	}
	return sig, nil
}

// waitForHost spaces out dispatches to the same host to respect collaborator
// rate limits.
func (p *Pipeline) waitForHost(ctx context.Context, rawURL string) {
	if p.hostDelay <= 0 {
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return
	}

	p.hostMu.Lock()
	last := p.lastSend[parsed.Host]
	next := last.Add(p.hostDelay)
	now := time.Now()
	if next.Before(now) {
		next = now
	}
	p.lastSend[parsed.Host] = next
	p.hostMu.Unlock()

	if wait := time.Until(next); wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}
