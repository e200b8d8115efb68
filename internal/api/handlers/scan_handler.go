package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/agent"
	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/pkg/logger"
)

// RunTrigger queues on-demand agent runs.
type RunTrigger interface {
	Trigger(ctx context.Context, agentType, target string) (*domain.AgentRun, error)
}

// SignatureFlusher drops cached candidate signatures so the next scan
// refetches every candidate. May be nil when no cache is configured.
type SignatureFlusher interface {
	InvalidateSignatures(ctx context.Context) error
}

type ScanHandler struct {
	scheduler  RunTrigger
	signatures SignatureFlusher
}

func NewScanHandler(scheduler RunTrigger, signatures SignatureFlusher) *ScanHandler {
	return &ScanHandler{scheduler: scheduler, signatures: signatures}
}

// TriggerScan queues an on-demand run for the content. The default is a
// crawl; the body may name another agent type and set fresh to bypass
// cached candidate signatures. A run already in flight for the same
// (agent type, content) answers 409.
func (h *ScanHandler) TriggerScan(c *fiber.Ctx) error {
	contentID := c.Params("id")

	var req struct {
		AgentType string `json:"agent_type"`
		Fresh     bool   `json:"fresh"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}
	switch req.AgentType {
	case "":
		req.AgentType = agent.AgentCrawl
	case agent.AgentCrawl, agent.AgentMatch, agent.AgentEvidence, agent.AgentNotice:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown agent type",
		})
	}

	if req.Fresh && h.signatures != nil {
		if err := h.signatures.InvalidateSignatures(c.Context()); err != nil {
			logger.Warn("Failed to invalidate signature cache", zap.Error(err))
		}
	}

	run, err := h.scheduler.Trigger(c.Context(), req.AgentType, contentID)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A run for this content is already in flight",
			})
		}
		logger.Error("Failed to trigger scan",
			zap.String("content_id", contentID),
			zap.String("agent_type", req.AgentType),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to trigger scan",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id":     run.ID,
		"agent_type": run.AgentType,
		"target":     run.TargetKey,
		"status":     run.Status,
	})
}
