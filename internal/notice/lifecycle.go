package notice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/pkg/logger"
)

// Store persists takedown notices.
type Store interface {
	CreateNotice(ctx context.Context, n *domain.TakedownNotice) error
	GetNotice(ctx context.Context, id string) (*domain.TakedownNotice, error)
	UpdateNotice(ctx context.Context, n *domain.TakedownNotice) error
	GetNoticeByMatch(ctx context.Context, matchID string) (*domain.TakedownNotice, error)
}

// Receipt reports a successful delivery.
type Receipt struct {
	Recipient string
	SentAt    time.Time
}

// Dispatcher delivers an approved notice to the platform's abuse channel.
type Dispatcher interface {
	Send(ctx context.Context, n *domain.TakedownNotice) (*Receipt, error)
}

// OwnerInfo carries the contact fields a notice template needs.
type OwnerInfo struct {
	Name    string
	Contact string
}

// Lifecycle is the takedown-notice state machine. Every transition runs
// under a per-notice lock so two callers can never both succeed from the
// same source state.
type Lifecycle struct {
	store      Store
	dispatcher Dispatcher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLifecycle(store Store, dispatcher Dispatcher) *Lifecycle {
	return &Lifecycle{
		store:      store,
		dispatcher: dispatcher,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (l *Lifecycle) lockNotice(id string) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// CreateDraft builds a Draft notice from a notice-worthy match. It is the
// single creation path for notices: an existing non-rejected notice for the
// same match is returned as-is instead of being regenerated. A Draft with
// missing required fields never auto-advances; callers read MissingFields to
// see what a human must fill in.
func (l *Lifecycle) CreateDraft(ctx context.Context, m *domain.CandidateMatch, content *domain.ProtectedContent, owner OwnerInfo) (*domain.TakedownNotice, error) {
	existing, err := l.store.GetNoticeByMatch(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("look up notice for match %s: %w", m.ID, err)
	}
	if existing != nil && existing.Status != domain.NoticeRejected {
		return existing, nil
	}

	n := &domain.TakedownNotice{
		ID:            uuid.New().String(),
		MatchID:       m.ID,
		UserID:        content.UserID,
		Platform:      m.Platform,
		Recipient:     RecipientFor(m.Platform),
		OwnerName:     owner.Name,
		OwnerContact:  owner.Contact,
		InfringingURL: m.URL,
		ContentRef:    contentReference(content),
		Status:        domain.NoticeDraft,
		DraftedAt:     time.Now().UTC(),
	}

	subject, body, err := Render(n)
	if err != nil {
		return nil, fmt.Errorf("render notice for match %s: %w", m.ID, err)
	}
	n.Subject = subject
	n.Body = body

	if err := l.store.CreateNotice(ctx, n); err != nil {
		return nil, fmt.Errorf("create notice for match %s: %w", m.ID, err)
	}

	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticeDraft)).Inc()
	logger.Info("Notice drafted",
		zap.String("notice_id", n.ID),
		zap.String("match_id", m.ID),
		zap.String("platform", n.Platform),
		zap.Strings("missing_fields", MissingFields(n)),
	)
	return n, nil
}

// MissingFields lists the required fields a Draft still lacks.
func MissingFields(n *domain.TakedownNotice) []string {
	var missing []string
	if n.OwnerName == "" {
		missing = append(missing, "owner_name")
	}
	if n.OwnerContact == "" {
		missing = append(missing, "owner_contact")
	}
	if n.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if n.InfringingURL == "" {
		missing = append(missing, "infringing_url")
	}
	if n.ContentRef == "" {
		missing = append(missing, "content_identification")
	}
	return missing
}

// UpdateDraftFields fills in owner and recipient fields on a Draft and
// re-renders the notice text. Empty arguments leave the current value.
func (l *Lifecycle) UpdateDraftFields(ctx context.Context, noticeID string, owner OwnerInfo, recipient string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticeDraft {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "update_draft"}
	}

	if owner.Name != "" {
		n.OwnerName = owner.Name
	}
	if owner.Contact != "" {
		n.OwnerContact = owner.Contact
	}
	if recipient != "" {
		n.Recipient = recipient
	}

	subject, body, err := Render(n)
	if err != nil {
		return nil, fmt.Errorf("render notice %s: %w", noticeID, err)
	}
	n.Subject = subject
	n.Body = body

	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// SubmitForReview moves Draft → PendingReview once every required field is
// present.
func (l *Lifecycle) SubmitForReview(ctx context.Context, noticeID string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticeDraft {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "submit_for_review"}
	}
	if missing := MissingFields(n); len(missing) > 0 {
		return nil, &domain.ValidationError{Missing: missing}
	}

	now := time.Now().UTC()
	n.Status = domain.NoticePendingReview
	n.SubmittedAt = &now
	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticePendingReview)).Inc()
	return n, nil
}

// Approve moves PendingReview → Approved.
func (l *Lifecycle) Approve(ctx context.Context, noticeID string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticePendingReview {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "approve"}
	}

	now := time.Now().UTC()
	n.Status = domain.NoticeApproved
	n.ApprovedAt = &now
	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticeApproved)).Inc()
	return n, nil
}

// Reject moves PendingReview → Rejected (terminal).
func (l *Lifecycle) Reject(ctx context.Context, noticeID string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticePendingReview {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "reject"}
	}

	now := time.Now().UTC()
	n.Status = domain.NoticeRejected
	n.RejectedAt = &now
	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticeRejected)).Inc()
	return n, nil
}

// Dispatch delivers an Approved notice. On collaborator failure the notice
// stays Approved with the attempt recorded, so the caller may retry.
func (l *Lifecycle) Dispatch(ctx context.Context, noticeID string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticeApproved {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "dispatch"}
	}

	receipt, err := l.dispatcher.Send(ctx, n)
	if err != nil {
		dispatchErr := &domain.DispatchError{NoticeID: noticeID, Err: err}
		n.RetryCount++
		n.LastError = domain.NewErrorInfo(dispatchErr)
		if updateErr := l.store.UpdateNotice(ctx, n); updateErr != nil {
			logger.Error("Failed to record dispatch failure",
				zap.String("notice_id", noticeID),
				zap.Error(updateErr),
			)
		}
		metrics.NoticeDispatchFailures.Inc()
		return nil, dispatchErr
	}

	sentAt := receipt.SentAt.UTC()
	n.Status = domain.NoticeSent
	n.Recipient = receipt.Recipient
	n.SentAt = &sentAt
	n.LastError = nil
	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticeSent)).Inc()
	logger.Info("Notice dispatched",
		zap.String("notice_id", noticeID),
		zap.String("recipient", receipt.Recipient),
	)
	return n, nil
}

// RecordResponse moves Sent → Responded with the platform's reply.
func (l *Lifecycle) RecordResponse(ctx context.Context, noticeID, responseText string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticeSent {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "record_response"}
	}

	now := time.Now().UTC()
	n.Status = domain.NoticeResponded
	n.RespondedAt = &now
	n.ResponseText = responseText
	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticeResponded)).Inc()
	return n, nil
}

// Resolve closes a notice from Sent (manual closure) or Responded.
func (l *Lifecycle) Resolve(ctx context.Context, noticeID string) (*domain.TakedownNotice, error) {
	unlock := l.lockNotice(noticeID)
	defer unlock()

	n, err := l.store.GetNotice(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if n.Status != domain.NoticeSent && n.Status != domain.NoticeResponded {
		return nil, &domain.InvalidStateError{NoticeID: noticeID, From: string(n.Status), Action: "resolve"}
	}

	now := time.Now().UTC()
	n.Status = domain.NoticeResolved
	n.ResolvedAt = &now
	if err := l.store.UpdateNotice(ctx, n); err != nil {
		return nil, err
	}
	metrics.NoticeTransitions.WithLabelValues(string(domain.NoticeResolved)).Inc()
	return n, nil
}

func contentReference(content *domain.ProtectedContent) string {
	if content.Title != "" {
		return content.Title
	}
	return content.SourceRef
}
