package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/copysentry/backend/internal/agent"
	"github.com/copysentry/backend/internal/domain"
)

type fakeTrigger struct {
	agentTypes []string
	targets    []string
	err        error
}

func (f *fakeTrigger) Trigger(ctx context.Context, agentType, target string) (*domain.AgentRun, error) {
	f.agentTypes = append(f.agentTypes, agentType)
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.AgentRun{
		ID:        "run-1",
		AgentType: agentType,
		TargetKey: target,
		Status:    domain.RunQueued,
	}, nil
}

type fakeFlusher struct {
	calls int
}

func (f *fakeFlusher) InvalidateSignatures(ctx context.Context) error {
	f.calls++
	return nil
}

func scanApp(trigger RunTrigger, flusher SignatureFlusher) *fiber.App {
	app := fiber.New()
	app.Post("/contents/:id/scan", NewScanHandler(trigger, flusher).TriggerScan)
	return app
}

func TestTriggerScanDefaultsToCrawl(t *testing.T) {
	trigger := &fakeTrigger{}
	flusher := &fakeFlusher{}
	app := scanApp(trigger, flusher)

	req := httptest.NewRequest("POST", "/contents/content-1/scan", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}
	if len(trigger.agentTypes) != 1 || trigger.agentTypes[0] != agent.AgentCrawl {
		t.Errorf("triggered = %v, want one crawl run", trigger.agentTypes)
	}
	if trigger.targets[0] != "content-1" {
		t.Errorf("target = %s, want content-1", trigger.targets[0])
	}
	if flusher.calls != 0 {
		t.Errorf("flusher calls = %d, want 0 without fresh flag", flusher.calls)
	}
}

func TestTriggerScanFreshDropsSignatureCache(t *testing.T) {
	trigger := &fakeTrigger{}
	flusher := &fakeFlusher{}
	app := scanApp(trigger, flusher)

	req := httptest.NewRequest("POST", "/contents/content-1/scan", strings.NewReader(`{"fresh":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}
	if flusher.calls != 1 {
		t.Errorf("flusher calls = %d, want 1", flusher.calls)
	}
	if len(trigger.agentTypes) != 1 {
		t.Errorf("triggered = %v, want one run", trigger.agentTypes)
	}
}

func TestTriggerScanConflict(t *testing.T) {
	trigger := &fakeTrigger{err: domain.ErrConcurrencyConflict}
	app := scanApp(trigger, nil)

	req := httptest.NewRequest("POST", "/contents/content-1/scan", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
}

func TestTriggerScanUnknownAgentType(t *testing.T) {
	trigger := &fakeTrigger{}
	flusher := &fakeFlusher{}
	app := scanApp(trigger, flusher)

	req := httptest.NewRequest("POST", "/contents/content-1/scan", strings.NewReader(`{"agent_type":"bogus","fresh":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
	if len(trigger.agentTypes) != 0 {
		t.Errorf("triggered = %v, want none for unknown agent type", trigger.agentTypes)
	}
	if flusher.calls != 0 {
		t.Errorf("flusher calls = %d, want 0 on rejected request", flusher.calls)
	}
}
