package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/storage/sqlite"
	"github.com/copysentry/backend/pkg/logger"
)

type MatchHandler struct {
	db      *sqlite.Client
	objects ObjectStore
}

func NewMatchHandler(db *sqlite.Client, objects ObjectStore) *MatchHandler {
	return &MatchHandler{db: db, objects: objects}
}

// ListMatches returns the match history for a protected item, optionally
// filtered to a minimum confidence tier.
func (h *MatchHandler) ListMatches(c *fiber.Ctx) error {
	contentID := c.Params("id")

	matches, err := h.db.ListMatchesByContent(c.Context(), contentID)
	if err != nil {
		logger.Error("Failed to list matches", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list matches",
		})
	}

	if minTier := c.Query("min_tier"); minTier != "" {
		tier, ok := domain.ParseTier(minTier)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown confidence tier",
			})
		}
		filtered := matches[:0]
		for _, m := range matches {
			if m.Tier.AtLeast(tier) {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}

	out := make([]fiber.Map, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse(m))
	}
	return c.JSON(fiber.Map{"matches": out})
}

func (h *MatchHandler) GetMatch(c *fiber.Ctx) error {
	m, err := h.db.GetMatch(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Match not found",
			})
		}
		logger.Error("Failed to get match", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get match",
		})
	}
	return c.JSON(matchResponse(m))
}

// ListEvidence returns the capture records for a match.
func (h *MatchHandler) ListEvidence(c *fiber.Ctx) error {
	records, err := h.db.ListEvidenceByMatch(c.Context(), c.Params("id"))
	if err != nil {
		logger.Error("Failed to list evidence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list evidence",
		})
	}

	out := make([]fiber.Map, 0, len(records))
	for _, e := range records {
		out = append(out, fiber.Map{
			"id":          e.ID,
			"match_id":    e.MatchID,
			"full_key":    e.FullKey,
			"thumb_key":   e.ThumbKey,
			"captured_at": e.CapturedAt,
			"succeeded":   e.Succeeded,
			"last_error":  e.LastError,
		})
	}
	return c.JSON(fiber.Map{"evidence": out})
}

// DownloadEvidence streams a stored capture.
func (h *MatchHandler) DownloadEvidence(c *fiber.Ctx) error {
	e, err := h.db.GetEvidence(c.Context(), c.Params("evidenceID"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Evidence not found",
			})
		}
		logger.Error("Failed to get evidence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get evidence",
		})
	}

	key := e.FullKey
	contentType := "image/png"
	if c.Query("variant") == "thumb" && e.ThumbKey != "" {
		key = e.ThumbKey
		contentType = "image/jpeg"
	}
	if key == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Capture was not stored",
		})
	}

	data, err := h.objects.GetObject(c.Context(), key)
	if err != nil {
		logger.Error("Failed to fetch capture", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch capture",
		})
	}

	c.Set(fiber.HeaderContentType, contentType)
	return c.Send(data)
}

func matchResponse(m *domain.CandidateMatch) fiber.Map {
	return fiber.Map{
		"id":             m.ID,
		"content_id":     m.ContentID,
		"url":            m.URL,
		"platform":       m.Platform,
		"fingerprint":    m.Fingerprint,
		"similarity":     m.Similarity,
		"tier":           m.Tier,
		"is_match":       m.IsMatch,
		"semantic_score": m.SemanticScore,
		"evidence_id":    m.EvidenceID,
		"discovered_at":  m.DiscoveredAt,
		"updated_at":     m.UpdatedAt,
		"last_error":     m.LastError,
	}
}
