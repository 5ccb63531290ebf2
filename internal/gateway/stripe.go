package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL переопределяет адрес API (используется в тестах).
	BaseURL string
}

// StripeProcessor: реализация Processor поверх stripe-go.
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
	log           logrus.FieldLogger
}

func NewStripeProcessor(cfg StripeConfig, log logrus.FieldLogger) *StripeProcessor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		// Повторы выполняет очередь выплат по своей политике.
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}

	return &StripeProcessor{
		api:           client.New(cfg.SecretKey, stripe.NewBackendsWithConfig(backendCfg)),
		webhookSecret: cfg.WebhookSecret,
		timeout:       cfg.Timeout,
		log:           log,
	}
}

func (p *StripeProcessor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *StripeProcessor) CreateConnectedAccount(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(Key(OpAccount, userID))
	params.AddMetadata("user_id", userID.String())

	acct, err := p.api.Accounts.New(params)
	if err != nil {
		return "", classify("create_account", err)
	}
	return acct.ID, nil
}

func (p *StripeProcessor) OnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := p.api.AccountLinks.New(params)
	if err != nil {
		return "", classify("onboarding_link", err)
	}
	return link.URL, nil
}

func (p *StripeProcessor) CreateHoldIntent(ctx context.Context, amount valueobject.Money, key string, metadata map[string]string) (Intent, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount.Cents()),
		Currency: stripe.String(strings.ToLower(valueobject.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, classify("create_intent", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (p *StripeProcessor) IntentStatus(ctx context.Context, intentID string) (IntentState, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return "", classify("intent_status", err)
	}
	return intentState(pi.Status), nil
}

// intentState: requires_payment_method бывает и у нового intent, и после отказа карты,
// клиент может повторить оплату на нём же. Окончательный отказ только canceled.
func intentState(s stripe.PaymentIntentStatus) IntentState {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentFailed
	}
	return IntentPending
}

// CancelIntent отменяет intent после отказа оплаты. Если процессор отменять
// не стал (оплата уже прошла или идёт), возвращается фактическое состояние.
func (p *StripeProcessor) CancelIntent(ctx context.Context, intentID, key string) (IntentState, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)

	pi, err := p.api.PaymentIntents.Cancel(intentID, params)
	if err == nil {
		return intentState(pi.Status), nil
	}

	var se *stripe.Error
	if errors.As(err, &se) && string(se.Code) == "payment_intent_unexpected_state" {
		p.log.WithField("intent_id", intentID).Info("Intent нельзя отменить, читаем его состояние")
		return p.IntentStatus(ctx, intentID)
	}
	return "", classify("cancel_intent", err)
}

func (p *StripeProcessor) Transfer(ctx context.Context, amount valueobject.Money, destination, key string, metadata map[string]string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount.Cents()),
		Currency:    stripe.String(strings.ToLower(valueobject.Currency)),
		Destination: stripe.String(destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	tr, err := p.api.Transfers.New(params)
	if err != nil {
		return "", classify("transfer", err)
	}
	return tr.ID, nil
}

func (p *StripeProcessor) Refund(ctx context.Context, intentID string, amount valueobject.Money, key string, metadata map[string]string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount.Cents()),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	rf, err := p.api.Refunds.New(params)
	if err != nil {
		return "", classify("refund", err)
	}
	return rf.ID, nil
}

func (p *StripeProcessor) VerifyWebhook(payload []byte, signature string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		p.log.WithError(err).Warn("Подпись вебхука не прошла проверку")
		return Event{}, &Error{Kind: Fatal, Op: "verify_webhook", Err: ErrSignatureInvalid}
	}

	out := Event{ID: evt.ID, RawType: string(evt.Type), Kind: EventIgnored}
	if evt.Data == nil {
		return out, nil
	}

	switch EventKind(evt.Type) {
	case EventIntentSucceeded, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return Event{}, &Error{Kind: Fatal, Op: "decode_event", Err: err}
		}
		out.Kind = EventKind(evt.Type)
		out.IntentID = pi.ID
		if pi.LastPaymentError != nil {
			out.Failure = pi.LastPaymentError.Msg
		}
	case EventAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(evt.Data.Raw, &acct); err != nil {
			return Event{}, &Error{Kind: Fatal, Op: "decode_event", Err: err}
		}
		out.Kind = EventAccountUpdated
		out.Account = &AccountUpdate{
			AccountID:        acct.ID,
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
		}
	}
	return out, nil
}

// classify сводит ошибки stripe-go к Transient или Fatal.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == 0,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.HTTPStatusCode == http.StatusTooManyRequests,
			string(se.Code) == "rate_limit":
			return &Error{Kind: Transient, Op: op, Err: err}
		}
		return &Error{Kind: Fatal, Op: op, Err: fmt.Errorf("%s: %w", se.Msg, err)}
	}

	// Сетевые сбои, таймауты и неразобранные ответы повторяем.
	return &Error{Kind: Transient, Op: op, Err: err}
}
