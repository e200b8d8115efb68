package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/fingerprint"
	"github.com/copysentry/backend/internal/storage/sqlite"
	"github.com/copysentry/backend/pkg/config"
)

type fakeObjectStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func testDB(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if err := client.InitSchema(); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}
	return client
}

func contentApp(db *sqlite.Client, objects ObjectStore) *fiber.App {
	h := NewContentHandler(db, fingerprint.NewEngine(config.FingerprintConfig{}), objects)
	app := fiber.New()
	app.Post("/contents", h.RegisterContent)
	app.Get("/contents/:id", h.GetContent)
	app.Delete("/contents/:id", h.DeleteContent)
	return app
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("image", "art.png")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if err := png.Encode(fw, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	w.WriteField("user_id", "user-1")
	w.WriteField("title", "Sunset Over Harbor")
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestRegisterContentStoresOriginal(t *testing.T) {
	db := testDB(t)
	objects := newFakeObjectStore()
	app := contentApp(db, objects)

	body, contentType := pngUpload(t)
	req := httptest.NewRequest("POST", "/contents", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	var created struct {
		ID          string `json:"id"`
		Fingerprint string `json:"fingerprint"`
		SourceRef   string `json:"source_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Fingerprint == "" {
		t.Error("response has no fingerprint")
	}

	key := fmt.Sprintf("content/%s/original", created.ID)
	if created.SourceRef != key {
		t.Errorf("source_ref = %s, want %s", created.SourceRef, key)
	}
	if _, ok := objects.objects[key]; !ok {
		t.Errorf("original not stored at %s", key)
	}

	stored, err := db.GetContent(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if !stored.Active || stored.Fingerprint != created.Fingerprint {
		t.Errorf("stored content = %+v", stored)
	}
}

func TestDeleteContentRemovesStoredOriginal(t *testing.T) {
	db := testDB(t)
	objects := newFakeObjectStore()
	app := contentApp(db, objects)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	content := &domain.ProtectedContent{
		ID:          "content-1",
		UserID:      "user-1",
		SourceRef:   "content/content-1/original",
		Fingerprint: "00000000000000ff",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.CreateContent(ctx, content); err != nil {
		t.Fatalf("CreateContent() error = %v", err)
	}
	objects.objects[content.SourceRef] = []byte("png bytes")

	req := httptest.NewRequest("DELETE", "/contents/content-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	if len(objects.deleted) != 1 || objects.deleted[0] != content.SourceRef {
		t.Errorf("deleted = %v, want [%s]", objects.deleted, content.SourceRef)
	}
	stored, err := db.GetContent(ctx, content.ID)
	if err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if stored.Active {
		t.Error("content still active after delete")
	}
}

func TestDeleteContentNotFoundKeepsObjects(t *testing.T) {
	db := testDB(t)
	objects := newFakeObjectStore()
	app := contentApp(db, objects)

	req := httptest.NewRequest("DELETE", "/contents/missing", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusNotFound)
	}
	if len(objects.deleted) != 0 {
		t.Errorf("deleted = %v, want none for missing content", objects.deleted)
	}
}
