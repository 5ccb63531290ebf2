package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

func newTestProcessor(t *testing.T, handler http.HandlerFunc) *StripeProcessor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewStripeProcessor(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		Timeout:       5 * time.Second,
		BaseURL:       srv.URL,
	}, log)
}

func TestBackoff(t *testing.T) {
	expected := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, Backoff(0))
}

func TestStripeProcessor_Transfer(t *testing.T) {
	var gotKey string
	var gotForm url.Values

	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_123","object":"transfer"}`))
	})

	ref, err := p.Transfer(context.Background(), valueobject.MustCents(9500), "acct_1", "release:abc", map[string]string{"milestone_id": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "tr_123", ref)
	assert.Equal(t, "release:abc", gotKey)
	assert.Equal(t, "9500", gotForm.Get("amount"))
	assert.Equal(t, "usd", gotForm.Get("currency"))
	assert.Equal(t, "acct_1", gotForm.Get("destination"))
	assert.Equal(t, "abc", gotForm.Get("metadata[milestone_id]"))
}

func TestStripeProcessor_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{
			name:   "server error is transient",
			status: http.StatusInternalServerError,
			body:   `{"error":{"type":"api_error","message":"boom"}}`,
			kind:   Transient,
		},
		{
			name:   "rate limit is transient",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`,
			kind:   Transient,
		},
		{
			name:   "card error is fatal",
			status: http.StatusPaymentRequired,
			body:   `{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`,
			kind:   Fatal,
		},
		{
			name:   "bad request is fatal",
			status: http.StatusBadRequest,
			body:   `{"error":{"type":"invalid_request_error","message":"no such destination"}}`,
			kind:   Fatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.CreateHoldIntent(context.Background(), valueobject.MustCents(10000), "fund:x:0", nil)
			require.Error(t, err)

			var gwErr *Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, tt.kind, gwErr.Kind)
		})
	}
}

func TestStripeProcessor_CreateHoldIntent(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "fund:m1:0", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","client_secret":"pi_1_secret","status":"requires_payment_method"}`))
	})

	intent, err := p.CreateHoldIntent(context.Background(), valueobject.MustCents(10000), "fund:m1:0", nil)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
}

func TestStripeProcessor_VerifyWebhook(t *testing.T) {
	p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {})

	t.Run("intent succeeded", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

		evt, err := p.VerifyWebhook(signed.Payload, signed.Header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, EventIntentSucceeded, evt.Kind)
		assert.Equal(t, "pi_1", evt.IntentID)
	})

	t.Run("intent failed carries the decline message", func(t *testing.T) {
		payload := []byte(`{"id":"evt_4","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","object":"payment_intent","status":"requires_payment_method","last_payment_error":{"code":"card_declined","message":"Your card was declined."}}}}`)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

		evt, err := p.VerifyWebhook(signed.Payload, signed.Header)
		require.NoError(t, err)
		assert.Equal(t, EventIntentFailed, evt.Kind)
		assert.Equal(t, "pi_2", evt.IntentID)
		assert.Equal(t, "Your card was declined.", evt.Failure)
	})

	t.Run("account updated", func(t *testing.T) {
		payload := []byte(`{"id":"evt_2","object":"event","type":"account.updated","data":{"object":{"id":"acct_1","object":"account","charges_enabled":true,"payouts_enabled":true,"details_submitted":true}}}`)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

		evt, err := p.VerifyWebhook(signed.Payload, signed.Header)
		require.NoError(t, err)
		require.NotNil(t, evt.Account)
		assert.Equal(t, "acct_1", evt.Account.AccountID)
		assert.True(t, evt.Account.PayoutsEnabled)
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		payload := []byte(`{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

		evt, err := p.VerifyWebhook(signed.Payload, signed.Header)
		require.NoError(t, err)
		assert.Equal(t, EventIgnored, evt.Kind)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})

		_, err := p.VerifyWebhook(signed.Payload, signed.Header)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSignatureInvalid))
		assert.True(t, IsFatal(err))
	})
}

func TestStripeProcessor_IntentStatus(t *testing.T) {
	tests := []struct {
		status string
		want   IntentState
	}{
		{status: "requires_payment_method", want: IntentPending},
		{status: "requires_confirmation", want: IntentPending},
		{status: "requires_action", want: IntentPending},
		{status: "processing", want: IntentPending},
		{status: "requires_capture", want: IntentPending},
		{status: "succeeded", want: IntentSucceeded},
		{status: "canceled", want: IntentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"` + tt.status + `"}`))
			})

			state, err := p.IntentStatus(context.Background(), "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestStripeProcessor_CancelIntent(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/payment_intents/pi_1/cancel", r.URL.Path)
			assert.Equal(t, "cancel:m1:0", r.Header.Get("Idempotency-Key"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"canceled"}`))
		})

		state, err := p.CancelIntent(context.Background(), "pi_1", "cancel:m1:0")
		require.NoError(t, err)
		assert.Equal(t, IntentFailed, state)
	})

	t.Run("already paid", func(t *testing.T) {
		p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Path == "/v1/payment_intents/pi_1/cancel" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"payment_intent_unexpected_state","message":"already succeeded"}}`))
				return
			}
			assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
			_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"succeeded"}`))
		})

		state, err := p.CancelIntent(context.Background(), "pi_1", "cancel:m1:0")
		require.NoError(t, err)
		assert.Equal(t, IntentSucceeded, state)
	})

	t.Run("server error", func(t *testing.T) {
		p := newTestProcessor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"down"}}`))
		})

		_, err := p.CancelIntent(context.Background(), "pi_1", "cancel:m1:0")
		require.Error(t, err)
		assert.True(t, IsTransient(err))
	})
}
