package domain

import "time"

// ProtectedContent is a media item registered by an owner for monitoring.
type ProtectedContent struct {
	ID          string
	UserID      string
	SourceRef   string
	Fingerprint string
	Title       string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CandidateMatch records one comparison between a protected item and a
// candidate copy discovered on the web. Recomputation for the same
// (content, URL) pair updates the existing record.
type CandidateMatch struct {
	ID            string
	ContentID     string
	URL           string
	Platform      string
	Fingerprint   string
	Similarity    float64
	Tier          ConfidenceTier
	IsMatch       bool
	SemanticScore *float64
	EvidenceID    string
	DiscoveredAt  time.Time
	UpdatedAt     time.Time
	LastError     *ErrorInfo
}

// EvidenceRecord documents a screenshot capture for a candidate match.
type EvidenceRecord struct {
	ID         string
	MatchID    string
	FullKey    string
	ThumbKey   string
	CapturedAt time.Time
	Succeeded  bool
	LastError  *ErrorInfo
}

type NoticeStatus string

const (
	NoticeDraft         NoticeStatus = "draft"
	NoticePendingReview NoticeStatus = "pending_review"
	NoticeApproved      NoticeStatus = "approved"
	NoticeRejected      NoticeStatus = "rejected"
	NoticeSent          NoticeStatus = "sent"
	NoticeResponded     NoticeStatus = "responded"
	NoticeResolved      NoticeStatus = "resolved"
)

// Terminal reports whether no further transition is legal from s.
func (s NoticeStatus) Terminal() bool {
	return s == NoticeRejected || s == NoticeResolved
}

// TakedownNotice is a removal request walked through the review/dispatch
// lifecycle. Created only from a notice-worthy match, destroyed only by
// retention policy.
type TakedownNotice struct {
	ID        string
	MatchID   string
	UserID    string
	Platform  string
	Recipient string

	OwnerName     string
	OwnerContact  string
	InfringingURL string
	ContentRef    string

	Subject string
	Body    string

	Status       NoticeStatus
	DraftedAt    time.Time
	SubmittedAt  *time.Time
	ApprovedAt   *time.Time
	RejectedAt   *time.Time
	SentAt       *time.Time
	RespondedAt  *time.Time
	ResolvedAt   *time.Time
	ResponseText string
	RetryCount   int
	LastError    *ErrorInfo
}

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// AgentRun journals one unit of background work. Immutable once terminal.
type AgentRun struct {
	ID          string
	AgentType   string
	TargetKey   string
	Status      RunStatus
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Attempts    int
	LastError   *ErrorInfo
}

// Candidate is a discovery result handed from the Search Provider to the
// match pipeline.
type Candidate struct {
	URL      string
	Title    string
	Platform string
}
