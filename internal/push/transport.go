// Package push delivers notification payloads to Web Push endpoints
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
)

// Transport sends VAPID-signed, encrypted Web Push messages
type Transport struct {
	cfg        config.PushConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTransport creates a Web Push transport. A nil httpClient gets one bounded by cfg.Timeout
func NewTransport(cfg config.PushConfig, httpClient *http.Client, logger *slog.Logger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Transport{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Send delivers payload to one endpoint and classifies the result
// The returned error is nil on success and otherwise wraps
// domain.ErrDeliveryExpired or domain.ErrDeliveryTransient
func (t *Transport) Send(ctx context.Context, endpoint domain.PushEndpoint, payload domain.Payload) (domain.DeliveryOutcome, error) {
	if t.cfg.VAPIDPublicKey == "" || t.cfg.VAPIDPrivateKey == "" {
		t.logger.Warn("push transport has no VAPID keys, dropping notification", "game_id", payload.GameID)
		return domain.OutcomeTransient, fmt.Errorf("%w: VAPID keys not configured", domain.ErrDeliveryTransient)
	}
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OutcomeTransient, fmt.Errorf("%w: encoding payload: %v", domain.ErrDeliveryTransient, err)
	}

	sub := &webpush.Subscription{
		Endpoint: endpoint.Endpoint,
		Keys: webpush.Keys{
			P256dh: endpoint.Keys.P256dh,
			Auth:   endpoint.Keys.Auth,
		},
	}

	start := time.Now()
	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		HTTPClient:      t.httpClient,
		Subscriber:      t.cfg.Subscriber,
		VAPIDPublicKey:  t.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: t.cfg.VAPIDPrivateKey,
		TTL:             t.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return domain.OutcomeTransient, fmt.Errorf("%w: %v", domain.ErrDeliveryTransient, err)
	}
	defer resp.Body.Close()

	outcome := Classify(resp.StatusCode)
	t.logger.Debug("push sent",
		"game_id", payload.GameID,
		"status", resp.StatusCode,
		"outcome", outcome,
		"duration", time.Since(start),
	)

	switch outcome {
	case domain.OutcomeSuccess:
		return outcome, nil
	case domain.OutcomeExpired:
		return outcome, fmt.Errorf("%w: status %d", domain.ErrDeliveryExpired, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return outcome, fmt.Errorf("%w: status %d: %s", domain.ErrDeliveryTransient, resp.StatusCode, msg)
	}
}

// Classify maps a push service response code to a delivery outcome
func Classify(status int) domain.DeliveryOutcome {
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return domain.OutcomeSuccess
	case http.StatusNotFound, http.StatusGone:
		return domain.OutcomeExpired
	default:
		return domain.OutcomeTransient
	}
}
