package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/storage/sqlite"
	"github.com/copysentry/backend/pkg/logger"
)

type RunsHandler struct {
	db *sqlite.Client
}

func NewRunsHandler(db *sqlite.Client) *RunsHandler {
	return &RunsHandler{db: db}
}

// ListRuns is the review queue: ?status=failed surfaces runs that exhausted
// their retries, optionally narrowed by agent type.
func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	runs, err := h.db.ListRuns(c.Context(), c.Query("status"), c.Query("agent_type"), limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	out := make([]fiber.Map, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse(run))
	}
	return c.JSON(fiber.Map{"runs": out})
}

func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.db.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Run not found",
			})
		}
		logger.Error("Failed to get run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}
	return c.JSON(runResponse(run))
}

func runResponse(run *domain.AgentRun) fiber.Map {
	return fiber.Map{
		"id":           run.ID,
		"agent_type":   run.AgentType,
		"target":       run.TargetKey,
		"status":       run.Status,
		"scheduled_at": run.ScheduledAt,
		"started_at":   run.StartedAt,
		"completed_at": run.CompletedAt,
		"attempts":     run.Attempts,
		"last_error":   run.LastError,
	}
}
