package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/fingerprint"
	"github.com/copysentry/backend/internal/storage/sqlite"
	"github.com/copysentry/backend/pkg/logger"
)

// ObjectStore holds original uploads and evidence captures.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

type ContentHandler struct {
	db      *sqlite.Client
	engine  *fingerprint.Engine
	objects ObjectStore
}

func NewContentHandler(db *sqlite.Client, engine *fingerprint.Engine, objects ObjectStore) *ContentHandler {
	return &ContentHandler{
		db:      db,
		engine:  engine,
		objects: objects,
	}
}

// RegisterContent receives an original image upload, fingerprints it, and
// registers it for monitoring.
func (h *ContentHandler) RegisterContent(c *fiber.Ctx) error {
	userID := c.FormValue("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "image file is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Could not read uploaded file",
		})
	}

	signature, err := h.engine.Generate(data)
	if err != nil {
		var decodeErr *domain.DecodeError
		if errors.As(err, &decodeErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "Uploaded file is not a decodable image",
			})
		}
		logger.Error("Failed to fingerprint upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fingerprint image",
		})
	}

	id := uuid.New().String()
	sourceKey := fmt.Sprintf("content/%s/original", id)
	contentType := fileHeader.Header.Get("Content-Type")
	if err := h.objects.PutObject(c.Context(), sourceKey, data, contentType); err != nil {
		logger.Error("Failed to store original", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store original image",
		})
	}

	now := time.Now().UTC()
	content := &domain.ProtectedContent{
		ID:          id,
		UserID:      userID,
		SourceRef:   sourceKey,
		Fingerprint: signature.String(),
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.db.CreateContent(c.Context(), content); err != nil {
		logger.Error("Failed to create content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to register content",
		})
	}

	logger.Info("Content registered",
		zap.String("content_id", content.ID),
		zap.String("user_id", userID),
	)

	return c.Status(fiber.StatusCreated).JSON(contentResponse(content))
}

func (h *ContentHandler) GetContent(c *fiber.Ctx) error {
	content, err := h.db.GetContent(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Content not found",
			})
		}
		logger.Error("Failed to get content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get content",
		})
	}
	return c.JSON(contentResponse(content))
}

func (h *ContentHandler) ListContent(c *fiber.Ctx) error {
	var (
		contents []*domain.ProtectedContent
		err      error
	)
	if userID := c.Query("user_id"); userID != "" {
		contents, err = h.db.ListContentByUser(c.Context(), userID)
	} else {
		contents, err = h.db.ListActiveContent(c.Context())
	}
	if err != nil {
		logger.Error("Failed to list content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list content",
		})
	}

	out := make([]fiber.Map, 0, len(contents))
	for _, content := range contents {
		out = append(out, contentResponse(content))
	}
	return c.JSON(fiber.Map{"contents": out})
}

// DeleteContent deactivates monitoring and removes the stored original.
// The row and its match history stay for the retention window.
func (h *ContentHandler) DeleteContent(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.db.DeactivateContent(c.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Content not found",
			})
		}
		logger.Error("Failed to deactivate content", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deactivate content",
		})
	}

	if err := h.objects.DeleteObject(c.Context(), fmt.Sprintf("content/%s/original", id)); err != nil {
		logger.Warn("Failed to remove stored original",
			zap.String("content_id", id),
			zap.Error(err),
		)
	}

	logger.Info("Content deactivated", zap.String("content_id", id))
	return c.JSON(fiber.Map{"message": "Content deactivated", "id": id})
}

func contentResponse(content *domain.ProtectedContent) fiber.Map {
	return fiber.Map{
		"id":          content.ID,
		"user_id":     content.UserID,
		"source_ref":  content.SourceRef,
		"fingerprint": content.Fingerprint,
		"title":       content.Title,
		"description": content.Description,
		"active":      content.Active,
		"created_at":  content.CreatedAt,
		"updated_at":  content.UpdatedAt,
	}
}
