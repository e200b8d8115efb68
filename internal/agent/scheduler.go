package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/events"
	"github.com/copysentry/backend/internal/metrics"
	"github.com/copysentry/backend/pkg/logger"
	"github.com/copysentry/backend/pkg/retry"
	"github.com/copysentry/backend/pkg/utils"
)

const (
	AgentCrawl    = "crawl"
	AgentMatch    = "match"
	AgentEvidence = "evidence"
	AgentNotice   = "notice"
)

// Handler executes one unit of agent work for a target. It must honor ctx
// cancellation at collaborator-call boundaries.
type Handler func(ctx context.Context, target string) error

// RunStore journals AgentRuns.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.AgentRun) error
	UpdateRun(ctx context.Context, run *domain.AgentRun) error
}

// TargetLister enumerates the targets an agent type should cover on a
// periodic cycle (typically active protected-content IDs).
type TargetLister func(ctx context.Context) ([]string, error)

// CadenceEntry maps an agent type to its period, handler, and target set.
type CadenceEntry struct {
	Type    string
	Every   time.Duration
	Targets TargetLister
	Handler Handler
}

type DuplicatePolicy string

const (
	PolicyReject DuplicatePolicy = "reject"
	PolicyQueue  DuplicatePolicy = "queue"
)

type Config struct {
	Workers         int
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	RunTimeout      time.Duration
	DuplicatePolicy DuplicatePolicy
	Tick            time.Duration
}

type task struct {
	run     *domain.AgentRun
	handler Handler
}

// Scheduler drives periodic and on-demand agent work on a bounded worker
// pool. A single cadence table and a single timing loop own all periodic
// work; the in-flight registry guarantees at most one running AgentRun per
// (agent type, target) key.
type Scheduler struct {
	store RunStore
	hub   *events.Hub
	cfg   Config

	mu        sync.Mutex
	table     []CadenceEntry
	handlers  map[string]Handler
	inflight  map[string]bool
	queued    map[string][]*task
	lastCycle map[string]time.Time

	work     chan *task
	enqMu    sync.RWMutex
	closed   bool
	workerWG sync.WaitGroup
	loopWG   sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool

	// sleep overrides the retry backoff wait; tests inject a recorder.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(store RunStore, hub *events.Hub, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = PolicyReject
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		hub:       hub,
		cfg:       cfg,
		handlers:  make(map[string]Handler),
		inflight:  make(map[string]bool),
		queued:    make(map[string][]*task),
		lastCycle: make(map[string]time.Time),
		work:      make(chan *task, 256),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds a cadence entry. Must be called before Start.
func (s *Scheduler) Register(entry CadenceEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = append(s.table, entry)
	s.handlers[entry.Type] = entry.Handler
}

// Start launches the worker pool and the timing loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker()
	}

	s.loopWG.Add(1)
	go s.timingLoop()

	logger.Info("Agent scheduler started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("tick", s.cfg.Tick),
		zap.String("duplicate_policy", string(s.cfg.DuplicatePolicy)),
	)
}

// Drain stops the timing loop, cancels outstanding run contexts, and waits
// for the workers. In-progress runs observe cancellation at their next
// collaborator boundary and terminate as failed with a cancellation reason.
func (s *Scheduler) Drain() {
	s.cancel()
	s.loopWG.Wait()

	s.enqMu.Lock()
	s.closed = true
	close(s.work)
	s.enqMu.Unlock()

	s.workerWG.Wait()
	logger.Info("Agent scheduler drained")
}

// Trigger requests a single run for (agentType, target). While a run for the
// same key is in flight, the duplicate policy either rejects the trigger
// with ErrConcurrencyConflict or queues it to start after the current run
// finishes.
func (s *Scheduler) Trigger(ctx context.Context, agentType, target string) (*domain.AgentRun, error) {
	s.mu.Lock()
	handler, ok := s.handlers[agentType]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}

	key := utils.RunKey(agentType, target)
	if s.inflight[key] {
		if s.cfg.DuplicatePolicy == PolicyReject {
			s.mu.Unlock()
			metrics.AgentConflicts.Inc()
			return nil, fmt.Errorf("%s: %w", key, domain.ErrConcurrencyConflict)
		}

		run := newRun(agentType, target)
		t := &task{run: run, handler: handler}
		s.queued[key] = append(s.queued[key], t)
		s.mu.Unlock()

		metrics.AgentConflicts.Inc()
		if err := s.store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("journal queued run: %w", err)
		}
		return run, nil
	}

	s.inflight[key] = true
	s.mu.Unlock()

	run := newRun(agentType, target)
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.release(key)
		return nil, fmt.Errorf("journal run: %w", err)
	}

	if err := s.enqueue(&task{run: run, handler: handler}); err != nil {
		s.failRun(run, err)
		s.release(key)
		return nil, err
	}
	return run, nil
}

func newRun(agentType, target string) *domain.AgentRun {
	return &domain.AgentRun{
		ID:          uuid.New().String(),
		AgentType:   agentType,
		TargetKey:   target,
		Status:      domain.RunQueued,
		ScheduledAt: time.Now().UTC(),
	}
}

func (s *Scheduler) enqueue(t *task) error {
	s.enqMu.RLock()
	defer s.enqMu.RUnlock()
	if s.closed {
		return errors.New("scheduler draining")
	}
	select {
	case s.work <- t:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Scheduler) worker() {
	defer s.workerWG.Done()
	for t := range s.work {
		s.execute(t)
	}
}

// timingLoop is the single clock for all periodic work.
func (s *Scheduler) timingLoop() {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDueCycles()
		}
	}
}

func (s *Scheduler) runDueCycles() {
	now := time.Now()

	s.mu.Lock()
	var due []CadenceEntry
	for _, entry := range s.table {
		if now.Sub(s.lastCycle[entry.Type]) >= entry.Every {
			s.lastCycle[entry.Type] = now
			due = append(due, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		targets, err := entry.Targets(s.ctx)
		if err != nil {
			logger.Error("Failed to list targets for cycle",
				zap.String("agent_type", entry.Type),
				zap.Error(err),
			)
			continue
		}
		for _, target := range targets {
			if _, err := s.Trigger(s.ctx, entry.Type, target); err != nil {
				if errors.Is(err, domain.ErrConcurrencyConflict) {
					logger.Debug("Cycle skipped in-flight target",
						zap.String("agent_type", entry.Type),
						zap.String("target", target),
					)
					continue
				}
				logger.Error("Failed to trigger cycle run",
					zap.String("agent_type", entry.Type),
					zap.String("target", target),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Scheduler) execute(t *task) {
	run := t.run
	key := utils.RunKey(run.AgentType, run.TargetKey)
	defer s.release(key)

	started := time.Now().UTC()
	run.Status = domain.RunRunning
	run.StartedAt = &started
	if err := s.store.UpdateRun(context.Background(), run); err != nil {
		logger.Error("Failed to journal run start", zap.String("run_id", run.ID), zap.Error(err))
	}

	runCtx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
	defer cancel()

	// MaxAttempts counts retries after the initial failure, so the delays
	// follow baseDelay * 2^retry: base, 2x, 4x, ... capped at MaxDelay.
	retryCfg := retry.Config{
		MaxAttempts:    s.cfg.MaxAttempts + 1,
		InitialDelay:   s.cfg.BaseDelay,
		MaxDelay:       s.cfg.MaxDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
		Sleep:          s.sleep,
		OnAttempt: func(attempt int, delay time.Duration, err error) {
			run.Attempts = attempt
			run.LastError = domain.NewErrorInfo(err)
			if delay > 0 {
				metrics.AgentRetries.WithLabelValues(run.AgentType).Inc()
			}
			if updateErr := s.store.UpdateRun(context.Background(), run); updateErr != nil {
				logger.Error("Failed to journal attempt", zap.String("run_id", run.ID), zap.Error(updateErr))
			}
		},
	}

	err := retry.Do(runCtx, retryCfg, func() error {
		return s.safeInvoke(runCtx, t.handler, run.TargetKey)
	})

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if run.Attempts == 0 {
		run.Attempts = 1
	}

	if err != nil {
		run.Status = domain.RunFailed
		run.LastError = runError(runCtx, err)
		logger.Warn("Agent run failed",
			zap.String("run_id", run.ID),
			zap.String("agent_type", run.AgentType),
			zap.String("target", run.TargetKey),
			zap.Int("attempts", run.Attempts),
			zap.String("error_kind", string(run.LastError.Kind)),
			zap.String("error", run.LastError.Message),
		)
	} else {
		run.Status = domain.RunSucceeded
		run.LastError = nil
	}

	if updateErr := s.store.UpdateRun(context.Background(), run); updateErr != nil {
		logger.Error("Failed to journal run completion", zap.String("run_id", run.ID), zap.Error(updateErr))
	}

	metrics.AgentRunsTotal.WithLabelValues(run.AgentType, string(run.Status)).Inc()
	metrics.AgentRunDuration.WithLabelValues(run.AgentType).Observe(completed.Sub(started).Seconds())

	if s.hub != nil {
		s.hub.Publish(events.TypeRunCompleted, map[string]interface{}{
			"run_id":     run.ID,
			"agent_type": run.AgentType,
			"target":     run.TargetKey,
			"status":     run.Status,
			"attempts":   run.Attempts,
		})
	}
}

// safeInvoke confines a panicking handler to its own run.
func (s *Scheduler) safeInvoke(ctx context.Context, handler Handler, target string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			logger.Error("Agent handler panicked",
				zap.String("target", target),
				zap.Any("panic", r),
			)
		}
	}()
	return handler(ctx, target)
}

// runError classifies the terminal error, distinguishing run timeout and
// drain cancellation from handler failures.
func runError(runCtx context.Context, err error) *domain.ErrorInfo {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return domain.NewErrorInfo(fmt.Errorf("run deadline exceeded: %w", context.DeadlineExceeded))
	case errors.Is(runCtx.Err(), context.Canceled):
		return domain.NewErrorInfo(fmt.Errorf("run cancelled during drain: %w", context.Canceled))
	default:
		return domain.NewErrorInfo(err)
	}
}

func (s *Scheduler) failRun(run *domain.AgentRun, err error) {
	completed := time.Now().UTC()
	run.Status = domain.RunFailed
	run.CompletedAt = &completed
	run.LastError = domain.NewErrorInfo(err)
	if updateErr := s.store.UpdateRun(context.Background(), run); updateErr != nil {
		logger.Error("Failed to journal run failure", zap.String("run_id", run.ID), zap.Error(updateErr))
	}
}

// release frees the in-flight key and promotes the next queued task for it,
// keeping execution per key sequential.
func (s *Scheduler) release(key string) {
	s.mu.Lock()
	var next *task
	if pending := s.queued[key]; len(pending) > 0 {
		next = pending[0]
		s.queued[key] = pending[1:]
		if len(s.queued[key]) == 0 {
			delete(s.queued, key)
		}
	} else {
		delete(s.inflight, key)
	}
	s.mu.Unlock()

	if next != nil {
		if err := s.enqueue(next); err != nil {
			s.failRun(next.run, err)
			s.release(key)
		}
	}
}
