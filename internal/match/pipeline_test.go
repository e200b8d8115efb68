package match

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/fingerprint"
	"github.com/copysentry/backend/pkg/config"
)

type fakeFetcher struct {
	mu      sync.Mutex
	data    map[string][]byte
	errs    map[string]error
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	f.mu.Unlock()
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if data, ok := f.data[rawURL]; ok {
		return data, nil
	}
	return nil, &domain.FetchError{URL: rawURL, StatusCode: 404}
}

type fakeStore struct {
	mu      sync.Mutex
	matches map[string]*domain.CandidateMatch
	errors  map[string]*domain.ErrorInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matches: make(map[string]*domain.CandidateMatch),
		errors:  make(map[string]*domain.ErrorInfo),
	}
}

func (s *fakeStore) UpsertMatch(ctx context.Context, m *domain.CandidateMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.ContentID + "|" + m.URL
	if existing, ok := s.matches[key]; ok {
		m.ID = existing.ID
		m.DiscoveredAt = existing.DiscoveredAt
	}
	copied := *m
	s.matches[key] = &copied
	return nil
}

func (s *fakeStore) RecordMatchError(ctx context.Context, contentID, candidateURL string, info *domain.ErrorInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[contentID+"|"+candidateURL] = info
	return nil
}

func solidPNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := shade
			if (x+y)%2 == 0 {
				v = 255 - shade
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testContent(t *testing.T, engine *fingerprint.Engine, data []byte) *domain.ProtectedContent {
	t.Helper()
	sig, err := engine.Generate(data)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return &domain.ProtectedContent{
		ID:          "content-1",
		UserID:      "user-1",
		Fingerprint: sig.String(),
		Active:      true,
	}
}

func TestRunPartialFailure(t *testing.T) {
	engine := fingerprint.NewEngine(config.FingerprintConfig{})
	original := solidPNG(t, 40)

	fetcher := &fakeFetcher{
		data: map[string][]byte{
			"https://a.example/1.png": original,
			"https://b.example/2.png": original,
			"https://c.example/3.png": original,
		},
		errs: map[string]error{
			"https://d.example/4.png": &domain.FetchError{URL: "https://d.example/4.png", StatusCode: 503},
			"https://e.example/5.png": &domain.FetchError{URL: "https://e.example/5.png", StatusCode: 404},
		},
	}
	store := newFakeStore()

	pipeline := NewPipeline(engine, fetcher, store, nil, nil, Config{Workers: 3})
	content := testContent(t, engine, original)

	candidates := make([]domain.Candidate, 0, 5)
	for _, u := range []string{
		"https://a.example/1.png",
		"https://b.example/2.png",
		"https://c.example/3.png",
		"https://d.example/4.png",
		"https://e.example/5.png",
	} {
		candidates = append(candidates, domain.Candidate{URL: u, Platform: "etsy"})
	}

	result, err := pipeline.Run(context.Background(), content, candidates)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Succeeded) != 3 {
		t.Errorf("Succeeded = %d, want 3", len(result.Succeeded))
	}
	if len(result.Failed) != 2 {
		t.Errorf("Failed = %d, want 2", len(result.Failed))
	}
	for _, failure := range result.Failed {
		if failure.Error.Kind != domain.ErrKindFetch {
			t.Errorf("failure kind = %v, want %v", failure.Error.Kind, domain.ErrKindFetch)
		}
	}
	if len(store.errors) != 2 {
		t.Errorf("recorded errors = %d, want 2", len(store.errors))
	}
}

func TestRunIdenticalCandidateIsNoticeWorthy(t *testing.T) {
	engine := fingerprint.NewEngine(config.FingerprintConfig{})
	original := solidPNG(t, 40)

	fetcher := &fakeFetcher{data: map[string][]byte{"https://a.example/copy.png": original}}
	store := newFakeStore()

	pipeline := NewPipeline(engine, fetcher, store, nil, nil, Config{Workers: 2})
	content := testContent(t, engine, original)

	result, err := pipeline.Run(context.Background(), content, []domain.Candidate{
		{URL: "https://a.example/copy.png", Platform: "instagram"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Succeeded) != 1 {
		t.Fatalf("Succeeded = %d, want 1", len(result.Succeeded))
	}
	m := result.Succeeded[0]
	if m.Similarity != 1.0 {
		t.Errorf("Similarity = %v, want 1.0", m.Similarity)
	}
	if m.Tier != domain.TierVeryHigh {
		t.Errorf("Tier = %v, want %v", m.Tier, domain.TierVeryHigh)
	}
	if !m.IsMatch {
		t.Error("IsMatch = false, want true")
	}
	if len(result.NoticeWorthy) != 1 {
		t.Errorf("NoticeWorthy = %d, want 1", len(result.NoticeWorthy))
	}
}

func TestRunUpsertIsIdempotent(t *testing.T) {
	engine := fingerprint.NewEngine(config.FingerprintConfig{})
	original := solidPNG(t, 40)

	fetcher := &fakeFetcher{data: map[string][]byte{"https://a.example/copy.png": original}}
	store := newFakeStore()

	pipeline := NewPipeline(engine, fetcher, store, nil, nil, Config{Workers: 1})
	content := testContent(t, engine, original)
	candidates := []domain.Candidate{{URL: "https://a.example/copy.png", Platform: "etsy"}}

	first, err := pipeline.Run(context.Background(), content, candidates)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, err := pipeline.Run(context.Background(), content, candidates)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(store.matches) != 1 {
		t.Errorf("stored matches = %d, want 1 after recomputation", len(store.matches))
	}
	if first.Succeeded[0].ID != second.Succeeded[0].ID {
		t.Errorf("match ID changed across runs: %s != %s", first.Succeeded[0].ID, second.Succeeded[0].ID)
	}
}

func TestRunUsesSignatureCache(t *testing.T) {
	engine := fingerprint.NewEngine(config.FingerprintConfig{})
	original := solidPNG(t, 40)

	fetcher := &fakeFetcher{data: map[string][]byte{"https://a.example/copy.png": original}}
	store := newFakeStore()
	cache := &memorySignatureCache{entries: make(map[string]string)}

	pipeline := NewPipeline(engine, fetcher, store, cache, nil, Config{Workers: 1, CacheTTL: time.Minute})
	content := testContent(t, engine, original)
	candidates := []domain.Candidate{{URL: "https://a.example/copy.png", Platform: "etsy"}}

	for i := 0; i < 2; i++ {
		if _, err := pipeline.Run(context.Background(), content, candidates); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}

	if got := len(fetcher.fetched); got != 1 {
		t.Errorf("fetch count = %d, want 1 (second run served from cache)", got)
	}
}

type memorySignatureCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func (c *memorySignatureCache) GetSignature(ctx context.Context, urlHash string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[urlHash]
	return v, ok, nil
}

func (c *memorySignatureCache) SetSignature(ctx context.Context, urlHash, signature string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[urlHash] = signature
	return nil
}

func TestRunBadReferenceFingerprint(t *testing.T) {
	engine := fingerprint.NewEngine(config.FingerprintConfig{})
	pipeline := NewPipeline(engine, &fakeFetcher{}, newFakeStore(), nil, nil, Config{})

	content := &domain.ProtectedContent{ID: "content-1", Fingerprint: "nothex"}
	_, err := pipeline.Run(context.Background(), content, []domain.Candidate{{URL: "https://a.example/x"}})
	if err == nil {
		t.Fatal("Run() expected error for invalid reference fingerprint")
	}
}
