package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/events"
	"github.com/copysentry/backend/internal/notice"
	"github.com/copysentry/backend/internal/storage/sqlite"
	"github.com/copysentry/backend/pkg/logger"
)

type NoticeHandler struct {
	db        *sqlite.Client
	lifecycle *notice.Lifecycle
	hub       *events.Hub
}

func NewNoticeHandler(db *sqlite.Client, lifecycle *notice.Lifecycle, hub *events.Hub) *NoticeHandler {
	return &NoticeHandler{
		db:        db,
		lifecycle: lifecycle,
		hub:       hub,
	}
}

func (h *NoticeHandler) ListNotices(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	notices, err := h.db.ListNotices(c.Context(), c.Query("status"), limit)
	if err != nil {
		logger.Error("Failed to list notices", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list notices",
		})
	}

	out := make([]fiber.Map, 0, len(notices))
	for _, n := range notices {
		out = append(out, noticeResponse(n))
	}
	return c.JSON(fiber.Map{"notices": out})
}

func (h *NoticeHandler) GetNotice(c *fiber.Ctx) error {
	n, err := h.db.GetNotice(c.Context(), c.Params("id"))
	if err != nil {
		return h.transitionError(c, err, "get notice")
	}
	return c.JSON(noticeResponse(n))
}

// UpdateDraft fills in owner and recipient fields while the notice is still
// a Draft.
func (h *NoticeHandler) UpdateDraft(c *fiber.Ctx) error {
	var req struct {
		OwnerName    string `json:"owner_name"`
		OwnerContact string `json:"owner_contact"`
		Recipient    string `json:"recipient"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	n, err := h.lifecycle.UpdateDraftFields(c.Context(), c.Params("id"),
		notice.OwnerInfo{Name: req.OwnerName, Contact: req.OwnerContact}, req.Recipient)
	if err != nil {
		return h.transitionError(c, err, "update draft")
	}
	return c.JSON(noticeResponse(n))
}

func (h *NoticeHandler) Submit(c *fiber.Ctx) error {
	n, err := h.lifecycle.SubmitForReview(c.Context(), c.Params("id"))
	return h.respond(c, n, err, "submit notice")
}

func (h *NoticeHandler) Approve(c *fiber.Ctx) error {
	n, err := h.lifecycle.Approve(c.Context(), c.Params("id"))
	return h.respond(c, n, err, "approve notice")
}

func (h *NoticeHandler) Reject(c *fiber.Ctx) error {
	n, err := h.lifecycle.Reject(c.Context(), c.Params("id"))
	return h.respond(c, n, err, "reject notice")
}

func (h *NoticeHandler) Dispatch(c *fiber.Ctx) error {
	n, err := h.lifecycle.Dispatch(c.Context(), c.Params("id"))
	return h.respond(c, n, err, "dispatch notice")
}

func (h *NoticeHandler) RecordResponse(c *fiber.Ctx) error {
	var req struct {
		ResponseText string `json:"response_text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	n, err := h.lifecycle.RecordResponse(c.Context(), c.Params("id"), req.ResponseText)
	return h.respond(c, n, err, "record notice response")
}

func (h *NoticeHandler) Resolve(c *fiber.Ctx) error {
	n, err := h.lifecycle.Resolve(c.Context(), c.Params("id"))
	return h.respond(c, n, err, "resolve notice")
}

func (h *NoticeHandler) respond(c *fiber.Ctx, n *domain.TakedownNotice, err error, action string) error {
	if err != nil {
		return h.transitionError(c, err, action)
	}

	if h.hub != nil {
		h.hub.Publish(events.TypeNoticeTransition, map[string]interface{}{
			"notice_id": n.ID,
			"match_id":  n.MatchID,
			"status":    n.Status,
		})
	}
	return c.JSON(noticeResponse(n))
}

// transitionError maps lifecycle failures to HTTP codes: illegal
// transitions are conflicts, incomplete drafts are unprocessable, delivery
// failures point at the upstream gateway.
func (h *NoticeHandler) transitionError(c *fiber.Ctx, err error, action string) error {
	var stateErr *domain.InvalidStateError
	var validationErr *domain.ValidationError
	var dispatchErr *domain.DispatchError

	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Notice not found",
		})
	case errors.As(err, &stateErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": stateErr.Error(),
		})
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":          "Notice is missing required fields",
			"missing_fields": validationErr.Missing,
		})
	case errors.As(err, &dispatchErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Delivery failed; the notice stays approved for retry",
		})
	default:
		logger.Error("Notice operation failed", zap.String("action", action), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to " + action,
		})
	}
}

func noticeResponse(n *domain.TakedownNotice) fiber.Map {
	resp := fiber.Map{
		"id":             n.ID,
		"match_id":       n.MatchID,
		"user_id":        n.UserID,
		"platform":       n.Platform,
		"recipient":      n.Recipient,
		"owner_name":     n.OwnerName,
		"owner_contact":  n.OwnerContact,
		"infringing_url": n.InfringingURL,
		"content_ref":    n.ContentRef,
		"subject":        n.Subject,
		"body":           n.Body,
		"status":         n.Status,
		"drafted_at":     n.DraftedAt,
		"submitted_at":   n.SubmittedAt,
		"approved_at":    n.ApprovedAt,
		"rejected_at":    n.RejectedAt,
		"sent_at":        n.SentAt,
		"responded_at":   n.RespondedAt,
		"resolved_at":    n.ResolvedAt,
		"response_text":  n.ResponseText,
		"retry_count":    n.RetryCount,
		"last_error":     n.LastError,
	}
	if n.Status == domain.NoticeDraft {
		resp["missing_fields"] = notice.MissingFields(n)
	}
	return resp
}
