// Package gatewaytest: процессор в памяти для тестов: идемпотентность по ключу
// и запрограммированные отказы.
package gatewaytest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
)

// Имена операций для Fail.
const (
	OpCreateAccount = "create_account"
	OpOnboarding    = "onboarding_link"
	OpCreateIntent  = "create_intent"
	OpIntentStatus  = "intent_status"
	OpCancelIntent  = "cancel_intent"
	OpTransfer      = "transfer"
	OpRefund        = "refund"
)

// Movement: фактическое движение денег у процессора.
type Movement struct {
	Ref         string
	Key         string
	Amount      valueobject.Money
	Destination string
	Metadata    map[string]string
}

type failure struct {
	kind  gateway.ErrorKind
	times int
}

type Fake struct {
	secret string

	mu        sync.Mutex
	seq       int
	byKey     map[string]string
	intents   map[string]gateway.Intent
	states    map[string]gateway.IntentState
	amounts   map[string]valueobject.Money
	transfers []Movement
	refunds   []Movement
	accounts  map[string]string
	failures  map[string]*failure
	calls     map[string]int
}

var _ gateway.Processor = (*Fake)(nil)

func NewFake(secret string) *Fake {
	return &Fake{
		secret:   secret,
		byKey:    make(map[string]string),
		intents:  make(map[string]gateway.Intent),
		states:   make(map[string]gateway.IntentState),
		amounts:  make(map[string]valueobject.Money),
		accounts: make(map[string]string),
		failures: make(map[string]*failure),
		calls:    make(map[string]int),
	}
}

// Fail заставляет следующие times вызовов op вернуть ошибку kind. times < 0: всегда.
func (f *Fake) Fail(op string, kind gateway.ErrorKind, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &failure{kind: kind, times: times}
}

// Heal снимает запрограммированные отказы.
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]*failure)
}

func (f *Fake) fail(op string) error {
	f.calls[op]++
	fl, ok := f.failures[op]
	if !ok || fl.times == 0 {
		return nil
	}
	if fl.times > 0 {
		fl.times--
	}
	return &gateway.Error{Kind: fl.kind, Op: op, Err: fmt.Errorf("scripted %s failure", fl.kind)}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func (f *Fake) CreateConnectedAccount(_ context.Context, userID uuid.UUID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpCreateAccount); err != nil {
		return "", err
	}
	if id, ok := f.accounts[userID.String()]; ok {
		return id, nil
	}
	id := f.nextID("acct")
	f.accounts[userID.String()] = id
	return id, nil
}

func (f *Fake) OnboardingLink(_ context.Context, accountID, returnURL, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpOnboarding); err != nil {
		return "", err
	}
	return "https://connect.example.test/onboarding/" + accountID + "?return=" + returnURL, nil
}

func (f *Fake) CreateHoldIntent(_ context.Context, amount valueobject.Money, key string, _ map[string]string) (gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpCreateIntent); err != nil {
		return gateway.Intent{}, err
	}
	if id, ok := f.byKey[key]; ok {
		return f.intents[id], nil
	}
	id := f.nextID("pi")
	intent := gateway.Intent{ID: id, ClientSecret: id + "_secret"}
	f.byKey[key] = id
	f.intents[id] = intent
	f.states[id] = gateway.IntentPending
	f.amounts[id] = amount
	return intent, nil
}

func (f *Fake) IntentStatus(_ context.Context, intentID string) (gateway.IntentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpIntentStatus); err != nil {
		return "", err
	}
	st, ok := f.states[intentID]
	if !ok {
		return "", &gateway.Error{Kind: gateway.Fatal, Op: OpIntentStatus, Err: errors.New("no such intent")}
	}
	return st, nil
}

// CancelIntent отменяет неоплаченный intent. Оплаченный остаётся succeeded.
func (f *Fake) CancelIntent(_ context.Context, intentID, _ string) (gateway.IntentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpCancelIntent); err != nil {
		return "", err
	}
	st, ok := f.states[intentID]
	if !ok {
		return "", &gateway.Error{Kind: gateway.Fatal, Op: OpCancelIntent, Err: errors.New("no such intent")}
	}
	if st == gateway.IntentSucceeded {
		return st, nil
	}
	f.states[intentID] = gateway.IntentFailed
	return gateway.IntentFailed, nil
}

// SetIntentState имитирует результат оплаты на стороне клиента.
func (f *Fake) SetIntentState(intentID string, st gateway.IntentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[intentID] = st
}

func (f *Fake) Transfer(_ context.Context, amount valueobject.Money, destination, key string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpTransfer); err != nil {
		return "", err
	}
	if ref, ok := f.byKey[key]; ok {
		return ref, nil
	}
	ref := f.nextID("tr")
	f.byKey[key] = ref
	f.transfers = append(f.transfers, Movement{Ref: ref, Key: key, Amount: amount, Destination: destination, Metadata: metadata})
	return ref, nil
}

func (f *Fake) Refund(_ context.Context, intentID string, amount valueobject.Money, key string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(OpRefund); err != nil {
		return "", err
	}
	if ref, ok := f.byKey[key]; ok {
		return ref, nil
	}
	if _, ok := f.intents[intentID]; !ok {
		return "", &gateway.Error{Kind: gateway.Fatal, Op: OpRefund, Err: errors.New("no such intent")}
	}
	ref := f.nextID("re")
	f.byKey[key] = ref
	f.refunds = append(f.refunds, Movement{Ref: ref, Key: key, Amount: amount, Destination: intentID, Metadata: metadata})
	return ref, nil
}

// Transfers возвращает копию выполненных переводов.
func (f *Fake) Transfers() []Movement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Movement(nil), f.transfers...)
}

func (f *Fake) Refunds() []Movement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Movement(nil), f.refunds...)
}

// Calls: число вызовов op, включая неудачные.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

type fakeEvent struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	IntentID string                 `json:"intent_id,omitempty"`
	Account  *gateway.AccountUpdate `json:"account,omitempty"`
}

// Sign возвращает заголовок подписи для payload.
func (f *Fake) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(f.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// IntentEvent собирает подписанное событие по intent.
func (f *Fake) IntentEvent(eventID string, kind gateway.EventKind, intentID string) ([]byte, string) {
	payload, _ := json.Marshal(fakeEvent{ID: eventID, Type: string(kind), IntentID: intentID})
	return payload, f.Sign(payload)
}

func (f *Fake) AccountEvent(eventID string, update gateway.AccountUpdate) ([]byte, string) {
	payload, _ := json.Marshal(fakeEvent{ID: eventID, Type: string(gateway.EventAccountUpdated), Account: &update})
	return payload, f.Sign(payload)
}

func (f *Fake) VerifyWebhook(payload []byte, signature string) (gateway.Event, error) {
	if !hmac.Equal([]byte(signature), []byte(f.Sign(payload))) {
		return gateway.Event{}, &gateway.Error{Kind: gateway.Fatal, Op: "verify_webhook", Err: gateway.ErrSignatureInvalid}
	}
	var evt fakeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return gateway.Event{}, &gateway.Error{Kind: gateway.Fatal, Op: "decode_event", Err: err}
	}

	out := gateway.Event{ID: evt.ID, RawType: evt.Type, Kind: gateway.EventIgnored}
	switch gateway.EventKind(evt.Type) {
	case gateway.EventIntentSucceeded, gateway.EventIntentFailed:
		out.Kind = gateway.EventKind(evt.Type)
		out.IntentID = evt.IntentID
	case gateway.EventAccountUpdated:
		out.Kind = gateway.EventAccountUpdated
		out.Account = evt.Account
	}
	return out, nil
}
