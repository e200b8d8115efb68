package notice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/copysentry/backend/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	notices map[string]*domain.TakedownNotice
}

func newMemoryStore() *memoryStore {
	return &memoryStore{notices: make(map[string]*domain.TakedownNotice)}
}

func (s *memoryStore) CreateNotice(ctx context.Context, n *domain.TakedownNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	s.notices[n.ID] = &copied
	return nil
}

func (s *memoryStore) GetNotice(ctx context.Context, id string) (*domain.TakedownNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notices[id]
	if !ok {
		return nil, fmt.Errorf("notice %s not found", id)
	}
	copied := *n
	return &copied, nil
}

func (s *memoryStore) UpdateNotice(ctx context.Context, n *domain.TakedownNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *n
	s.notices[n.ID] = &copied
	return nil
}

func (s *memoryStore) GetNoticeByMatch(ctx context.Context, matchID string) (*domain.TakedownNotice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notices {
		if n.MatchID == matchID && n.Status != domain.NoticeRejected {
			copied := *n
			return &copied, nil
		}
	}
	return nil, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	fail  bool
	sends int
}

func (d *fakeDispatcher) Send(ctx context.Context, n *domain.TakedownNotice) (*Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends++
	if d.fail {
		return nil, errors.New("gateway unavailable")
	}
	return &Receipt{Recipient: n.Recipient, SentAt: time.Now()}, nil
}

func testMatch() *domain.CandidateMatch {
	return &domain.CandidateMatch{
		ID:         "match-1",
		ContentID:  "content-1",
		URL:        "https://pirate.example/copy.png",
		Platform:   "etsy",
		Similarity: 0.97,
		Tier:       domain.TierVeryHigh,
		IsMatch:    true,
	}
}

func testProtected() *domain.ProtectedContent {
	return &domain.ProtectedContent{
		ID:     "content-1",
		UserID: "user-1",
		Title:  "Sunset Over Harbor (2024)",
	}
}

func fullOwner() OwnerInfo {
	return OwnerInfo{Name: "Jane Artist", Contact: "jane@example.com"}
}

func TestCreateDraftWithAllFields(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})

	n, err := lifecycle.CreateDraft(context.Background(), testMatch(), testProtected(), fullOwner())
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}

	if n.Status != domain.NoticeDraft {
		t.Errorf("Status = %v, want %v", n.Status, domain.NoticeDraft)
	}
	if missing := MissingFields(n); len(missing) != 0 {
		t.Errorf("MissingFields = %v, want none", missing)
	}
	if n.Recipient != "legal@etsy.com" {
		t.Errorf("Recipient = %q, want etsy abuse contact", n.Recipient)
	}
	if n.Subject == "" || n.Body == "" {
		t.Error("rendered subject/body must not be empty")
	}
}

func TestCreateDraftIsIdempotentPerMatch(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})

	first, err := lifecycle.CreateDraft(context.Background(), testMatch(), testProtected(), fullOwner())
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}
	second, err := lifecycle.CreateDraft(context.Background(), testMatch(), testProtected(), fullOwner())
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second CreateDraft created a new notice: %s != %s", first.ID, second.ID)
	}
	if len(store.notices) != 1 {
		t.Errorf("stored notices = %d, want 1", len(store.notices))
	}
}

func TestSubmitForReviewMissingFields(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})

	m := testMatch()
	m.Platform = "unknown-host" // no known abuse contact
	n, err := lifecycle.CreateDraft(context.Background(), m, testProtected(), OwnerInfo{})
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}

	missing := MissingFields(n)
	if len(missing) != 3 {
		t.Fatalf("MissingFields = %v, want owner_name, owner_contact, recipient", missing)
	}

	_, err = lifecycle.SubmitForReview(context.Background(), n.ID)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("SubmitForReview() error = %v, want *domain.ValidationError", err)
	}
	if len(validationErr.Missing) != 3 {
		t.Errorf("ValidationError.Missing = %v, want 3 fields", validationErr.Missing)
	}

	stored, _ := store.GetNotice(context.Background(), n.ID)
	if stored.Status != domain.NoticeDraft {
		t.Errorf("Status after failed submit = %v, want %v", stored.Status, domain.NoticeDraft)
	}
}

func TestFullLifecycleWalk(t *testing.T) {
	store := newMemoryStore()
	dispatcher := &fakeDispatcher{}
	lifecycle := NewLifecycle(store, dispatcher)
	ctx := context.Background()

	n, err := lifecycle.CreateDraft(ctx, testMatch(), testProtected(), fullOwner())
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}

	steps := []struct {
		name string
		call func() (*domain.TakedownNotice, error)
		want domain.NoticeStatus
	}{
		{"submit", func() (*domain.TakedownNotice, error) { return lifecycle.SubmitForReview(ctx, n.ID) }, domain.NoticePendingReview},
		{"approve", func() (*domain.TakedownNotice, error) { return lifecycle.Approve(ctx, n.ID) }, domain.NoticeApproved},
		{"dispatch", func() (*domain.TakedownNotice, error) { return lifecycle.Dispatch(ctx, n.ID) }, domain.NoticeSent},
		{"respond", func() (*domain.TakedownNotice, error) { return lifecycle.RecordResponse(ctx, n.ID, "content removed") }, domain.NoticeResponded},
		{"resolve", func() (*domain.TakedownNotice, error) { return lifecycle.Resolve(ctx, n.ID) }, domain.NoticeResolved},
	}

	for _, step := range steps {
		got, err := step.call()
		if err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if got.Status != step.want {
			t.Fatalf("%s: status = %v, want %v", step.name, got.Status, step.want)
		}
	}

	final, _ := store.GetNotice(ctx, n.ID)
	if final.SentAt == nil || final.RespondedAt == nil || final.ResolvedAt == nil {
		t.Error("transition timestamps not all recorded")
	}
	if final.ResponseText != "content removed" {
		t.Errorf("ResponseText = %q", final.ResponseText)
	}
}

func TestDispatchIllegalFromEarlyStates(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})
	ctx := context.Background()

	n, err := lifecycle.CreateDraft(ctx, testMatch(), testProtected(), fullOwner())
	if err != nil {
		t.Fatalf("CreateDraft() error = %v", err)
	}

	// Draft
	_, err = lifecycle.Dispatch(ctx, n.ID)
	var stateErr *domain.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("Dispatch(draft) error = %v, want *domain.InvalidStateError", err)
	}

	if _, err := lifecycle.SubmitForReview(ctx, n.ID); err != nil {
		t.Fatalf("SubmitForReview() error = %v", err)
	}

	// PendingReview
	_, err = lifecycle.Dispatch(ctx, n.ID)
	if !errors.As(err, &stateErr) {
		t.Fatalf("Dispatch(pending_review) error = %v, want *domain.InvalidStateError", err)
	}

	stored, _ := store.GetNotice(ctx, n.ID)
	if stored.Status != domain.NoticePendingReview {
		t.Errorf("status mutated by illegal dispatch: %v", stored.Status)
	}
}

func TestDispatchFailureKeepsApproved(t *testing.T) {
	store := newMemoryStore()
	dispatcher := &fakeDispatcher{fail: true}
	lifecycle := NewLifecycle(store, dispatcher)
	ctx := context.Background()

	n, _ := lifecycle.CreateDraft(ctx, testMatch(), testProtected(), fullOwner())
	lifecycle.SubmitForReview(ctx, n.ID)
	lifecycle.Approve(ctx, n.ID)

	_, err := lifecycle.Dispatch(ctx, n.ID)
	var dispatchErr *domain.DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("Dispatch() error = %v, want *domain.DispatchError", err)
	}

	stored, _ := store.GetNotice(ctx, n.ID)
	if stored.Status != domain.NoticeApproved {
		t.Errorf("Status = %v, want %v after failed dispatch", stored.Status, domain.NoticeApproved)
	}
	if stored.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", stored.RetryCount)
	}
	if stored.LastError == nil || stored.LastError.Kind != domain.ErrKindDispatch {
		t.Errorf("LastError = %+v, want dispatch kind", stored.LastError)
	}

	// Retry after the gateway recovers.
	dispatcher.fail = false
	if _, err := lifecycle.Dispatch(ctx, n.ID); err != nil {
		t.Fatalf("Dispatch() retry error = %v", err)
	}
	stored, _ = store.GetNotice(ctx, n.ID)
	if stored.Status != domain.NoticeSent {
		t.Errorf("Status = %v, want %v after retry", stored.Status, domain.NoticeSent)
	}
	if stored.LastError != nil {
		t.Error("LastError not cleared after successful dispatch")
	}
}

func TestRejectIsTerminal(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})
	ctx := context.Background()

	n, _ := lifecycle.CreateDraft(ctx, testMatch(), testProtected(), fullOwner())
	lifecycle.SubmitForReview(ctx, n.ID)

	if _, err := lifecycle.Reject(ctx, n.ID); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	var stateErr *domain.InvalidStateError
	if _, err := lifecycle.Approve(ctx, n.ID); !errors.As(err, &stateErr) {
		t.Errorf("Approve(rejected) error = %v, want *domain.InvalidStateError", err)
	}
	if _, err := lifecycle.SubmitForReview(ctx, n.ID); !errors.As(err, &stateErr) {
		t.Errorf("SubmitForReview(rejected) error = %v, want *domain.InvalidStateError", err)
	}
}

func TestResolveDirectlyFromSent(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})
	ctx := context.Background()

	n, _ := lifecycle.CreateDraft(ctx, testMatch(), testProtected(), fullOwner())
	lifecycle.SubmitForReview(ctx, n.ID)
	lifecycle.Approve(ctx, n.ID)
	lifecycle.Dispatch(ctx, n.ID)

	got, err := lifecycle.Resolve(ctx, n.ID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Status != domain.NoticeResolved {
		t.Errorf("Status = %v, want %v", got.Status, domain.NoticeResolved)
	}
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	store := newMemoryStore()
	lifecycle := NewLifecycle(store, &fakeDispatcher{})
	ctx := context.Background()

	n, _ := lifecycle.CreateDraft(ctx, testMatch(), testProtected(), fullOwner())
	lifecycle.SubmitForReview(ctx, n.ID)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = lifecycle.Approve(ctx, n.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var stateErr *domain.InvalidStateError
		if !errors.As(err, &stateErr) {
			t.Errorf("unexpected error kind: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("concurrent Approve succeeded %d times, want exactly 1", succeeded)
	}
}
