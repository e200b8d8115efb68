package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/pkg/circuitbreaker"
	"github.com/copysentry/backend/pkg/config"
	"github.com/copysentry/backend/pkg/logger"
)

// ObjectStore persists captured artifacts.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Store records evidence rows.
type Store interface {
	CreateEvidence(ctx context.Context, e *domain.EvidenceRecord) error
	SetMatchEvidence(ctx context.Context, matchID, evidenceID string) error
}

// Service captures a full-page screenshot of an infringing URL through the
// external screenshot service, derives a review thumbnail, and persists
// both to object storage. The screenshot service sits behind a circuit
// breaker so an outage sheds load instead of stacking timeouts.
type Service struct {
	serviceURL string
	thumbWidth int
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	objects    ObjectStore
	store      Store
}

func NewService(cfg config.CaptureConfig, objects ObjectStore, store Store) *Service {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	thumbWidth := cfg.ThumbWidth
	if thumbWidth <= 0 {
		thumbWidth = 320
	}
	return &Service{
		serviceURL: cfg.ServiceURL,
		thumbWidth: thumbWidth,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("screenshot-service", circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
			Logger:           logger.GetLogger(),
		}),
		objects: objects,
		store:   store,
	}
}

// Capture screenshots the match URL and stores an EvidenceRecord. A failed
// capture is still recorded, with Succeeded=false and the error attached,
// so the review queue can show what was attempted.
func (s *Service) Capture(ctx context.Context, m *domain.CandidateMatch) (*domain.EvidenceRecord, error) {
	record := &domain.EvidenceRecord{
		ID:         uuid.New().String(),
		MatchID:    m.ID,
		CapturedAt: time.Now().UTC(),
	}

	shot, err := s.screenshot(ctx, m.URL)
	if err != nil {
		capErr := &domain.CaptureError{URL: m.URL, Err: err}
		record.LastError = domain.NewErrorInfo(capErr)
		metrics.EvidenceCaptures.WithLabelValues("failed").Inc()

		if storeErr := s.store.CreateEvidence(ctx, record); storeErr != nil {
			logger.Error("Failed to record capture failure",
				zap.String("match_id", m.ID), zap.Error(storeErr))
		}
		return record, capErr
	}

	fullKey := fmt.Sprintf("evidence/%s/%s/full.png", m.ID, record.ID)
	if err := s.objects.PutObject(ctx, fullKey, shot, "image/png"); err != nil {
		capErr := &domain.CaptureError{URL: m.URL, Err: err}
		record.LastError = domain.NewErrorInfo(capErr)
		metrics.EvidenceCaptures.WithLabelValues("failed").Inc()

		if storeErr := s.store.CreateEvidence(ctx, record); storeErr != nil {
			logger.Error("Failed to record capture failure",
				zap.String("match_id", m.ID), zap.Error(storeErr))
		}
		return record, capErr
	}
	record.FullKey = fullKey

	// Thumbnail failure is not fatal: the full capture is the evidence.
	thumb, err := s.thumbnail(shot)
	if err != nil {
		logger.Warn("Thumbnail derivation failed",
			zap.String("match_id", m.ID), zap.Error(err))
	} else {
		thumbKey := fmt.Sprintf("evidence/%s/%s/thumb.jpg", m.ID, record.ID)
		if err := s.objects.PutObject(ctx, thumbKey, thumb, "image/jpeg"); err != nil {
			logger.Warn("Thumbnail upload failed",
				zap.String("match_id", m.ID), zap.Error(err))
		} else {
			record.ThumbKey = thumbKey
		}
	}

	record.Succeeded = true
	if err := s.store.CreateEvidence(ctx, record); err != nil {
		return nil, fmt.Errorf("create evidence record: %w", err)
	}
	if err := s.store.SetMatchEvidence(ctx, m.ID, record.ID); err != nil {
		return nil, fmt.Errorf("link evidence to match: %w", err)
	}

	metrics.EvidenceCaptures.WithLabelValues("succeeded").Inc()
	logger.Info("Evidence captured",
		zap.String("match_id", m.ID),
		zap.String("evidence_id", record.ID),
		zap.String("key", fullKey))

	return record, nil
}

func (s *Service) screenshot(ctx context.Context, target string) ([]byte, error) {
	var shot []byte

	err := s.breaker.Execute(ctx, func() error {
		params := url.Values{}
		params.Add("url", target)
		params.Add("fullPage", "true")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			s.serviceURL+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("screenshot service returned status %d", resp.StatusCode)
		}

		shot, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shot, nil
}

// thumbnail downscales a capture to thumbWidth with nearest-neighbor
// sampling and re-encodes it as JPEG.
func (s *Service) thumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("empty capture image")
	}

	dstW := s.thumbWidth
	if dstW > srcW {
		dstW = srcW
	}
	dstH := srcH * dstW / srcW
	if dstH == 0 {
		dstH = 1
	}

	thumb := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < dstH; y++ {
		srcY := bounds.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			srcX := bounds.Min.X + x*srcW/dstW
			thumb.Set(x, y, img.At(srcX, srcY))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
