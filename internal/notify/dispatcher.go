package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/copysentry/backend/internal/domain"
	"github.com/copysentry/backend/internal/notice"
	"github.com/copysentry/backend/pkg/circuitbreaker"
	"github.com/copysentry/backend/pkg/config"
	"github.com/copysentry/backend/pkg/logger"
)

// Dispatcher delivers rendered notices through the email gateway webhook.
// The gateway sits behind a circuit breaker; a rejected or failed send
// surfaces to the lifecycle, which keeps the notice in Approved for retry.
type Dispatcher struct {
	gatewayURL string
	fromName   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Dispatcher{
		gatewayURL: cfg.GatewayURL,
		fromName:   cfg.FromName,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("email-gateway", circuitbreaker.Config{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
			Logger:           logger.GetLogger(),
		}),
	}
}

type sendRequest struct {
	To       string `json:"to"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Ref      string `json:"ref"`
}

func (d *Dispatcher) Send(ctx context.Context, n *domain.TakedownNotice) (*notice.Receipt, error) {
	payload, err := json.Marshal(sendRequest{
		To:       n.Recipient,
		FromName: d.fromName,
		Subject:  n.Subject,
		Body:     n.Body,
		Ref:      n.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	err = d.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gatewayURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Notice delivered",
		zap.String("notice_id", n.ID),
		zap.String("recipient", n.Recipient))

	return &notice.Receipt{
		Recipient: n.Recipient,
		SentAt:    time.Now().UTC(),
	}, nil
}
