package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/domain"
)

func testKeys(t *testing.T) domain.PushKeys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("auth secret: %v", err)
	}
	return domain.PushKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("vapid keys: %v", err)
	}
	cfg := config.PushConfig{
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		Subscriber:      "mailto:alerts@example.com",
		TTL:             60,
		Timeout:         5 * time.Second,
	}
	return NewTransport(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSendClassifiesResponses(t *testing.T) {
	cases := []struct {
		status  int
		outcome domain.DeliveryOutcome
		target  error
	}{
		{http.StatusCreated, domain.OutcomeSuccess, nil},
		{http.StatusGone, domain.OutcomeExpired, domain.ErrDeliveryExpired},
		{http.StatusNotFound, domain.OutcomeExpired, domain.ErrDeliveryExpired},
		{http.StatusTooManyRequests, domain.OutcomeTransient, domain.ErrDeliveryTransient},
		{http.StatusInternalServerError, domain.OutcomeTransient, domain.ErrDeliveryTransient},
	}

	transport := newTestTransport(t)
	keys := testKeys(t)

	for _, tc := range cases {
		var gotTTL string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotTTL = r.Header.Get("TTL")
			w.WriteHeader(tc.status)
		}))

		outcome, err := transport.Send(context.Background(), domain.PushEndpoint{Endpoint: srv.URL, Keys: keys}, domain.Payload{Title: "GOAL!", GameID: "G1"})
		srv.Close()

		if outcome != tc.outcome {
			t.Fatalf("status %d: expected %s, got %s (%v)", tc.status, tc.outcome, outcome, err)
		}
		if tc.target == nil && err != nil {
			t.Fatalf("status %d: unexpected error %v", tc.status, err)
		}
		if tc.target != nil && !errors.Is(err, tc.target) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.target, err)
		}
		if gotTTL != "60" {
			t.Fatalf("expected TTL header 60, got %q", gotTTL)
		}
	}
}

func TestSendUnreachableEndpointIsTransient(t *testing.T) {
	transport := newTestTransport(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	outcome, err := transport.Send(context.Background(), domain.PushEndpoint{Endpoint: url, Keys: testKeys(t)}, domain.Payload{})
	if outcome != domain.OutcomeTransient || !errors.Is(err, domain.ErrDeliveryTransient) {
		t.Fatalf("expected transient failure, got %s (%v)", outcome, err)
	}
}

func TestSendBadKeysIsTransient(t *testing.T) {
	transport := newTestTransport(t)
	outcome, err := transport.Send(context.Background(), domain.PushEndpoint{
		Endpoint: "https://push.invalid/x",
		Keys:     domain.PushKeys{P256dh: "not-a-key", Auth: "nope"},
	}, domain.Payload{})
	if outcome != domain.OutcomeTransient || !errors.Is(err, domain.ErrDeliveryTransient) {
		t.Fatalf("expected transient failure, got %s (%v)", outcome, err)
	}
}

func TestSendWithoutVAPIDKeysIsTransient(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	transport := NewTransport(config.PushConfig{TTL: 60}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	outcome, err := transport.Send(context.Background(), domain.PushEndpoint{Endpoint: srv.URL, Keys: testKeys(t)}, domain.Payload{})
	if outcome != domain.OutcomeTransient || !errors.Is(err, domain.ErrDeliveryTransient) {
		t.Fatalf("expected transient failure, got %s (%v)", outcome, err)
	}
	if hits != 0 {
		t.Fatalf("expected no request without keys, got %d", hits)
	}
}
