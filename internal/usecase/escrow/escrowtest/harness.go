// Package escrowtest собирает движок escrow поверх хранилища в памяти и
// фейкового процессора для тестов соседних пакетов.
package escrowtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/gateway/gatewaytest"
	"github.com/ignatzorin/homepro-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/homepro-escrow/internal/logger"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/identity"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/reconcile"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/subscription"
)

const (
	HoldPeriod    = 14 * 24 * time.Hour
	WebhookSecret = "whsec_test"
	PayeeAccount  = "acct_professional"
)

// ComplexPlan: клиентский тариф со сложными проектами и ставкой по умолчанию.
var ComplexPlan = &entity.Plan{
	ID:             uuid.MustParse("7f0c7a62-9d4c-4d1e-9a44-3c1f5e0e2a01"),
	PlanType:       entity.PlanTypeClient,
	Tier:           "complex",
	Name:           "Сложные проекты",
	Features:       []string{entity.FeatureComplexProjects},
	ProjectFeeRate: valueobject.MustRate("0.05"),
	IsActive:       true,
}

// Clock: управляемые часы.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type Harness struct {
	Store      *memory.Store
	Gateway    *gatewaytest.Fake
	Recorder   *notify.Recorder
	Events     *notify.Dispatcher
	Subs       *subscription.Engine
	Identity   *identity.Directory
	Reconciler *reconcile.Reconciler
	Engine     *escrow.Engine
	Clock      *Clock

	Client       entity.Client
	Professional entity.Professional
	Specialist   entity.Specialist
	Crew         entity.Crew
	Admin        entity.Admin
	Outsider     entity.Client
}

func New(t *testing.T) *Harness {
	t.Helper()

	log := logger.Discard()
	store := memory.NewStore()
	clock := NewClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	rec := &notify.Recorder{}
	events := notify.NewDispatcher(rec, rec, rec, log)
	gw := gatewaytest.NewFake(WebhookSecret)

	h := &Harness{
		Store:    store,
		Gateway:  gw,
		Recorder: rec,
		Events:   events,
		Clock:    clock,
	}

	h.Client = entity.Client{Identity: h.addUser(entity.RoleClient, nil)}
	pro := h.addUser(entity.RoleContractor, nil)
	h.Professional = entity.Professional{Identity: pro, ConnectedAccountID: PayeeAccount, PayoutsEnabled: true}
	h.Specialist = entity.Specialist{Identity: h.addUser(entity.RoleSpecialist, nil)}
	h.Crew = entity.Crew{Identity: h.addUser(entity.RoleCrew, &pro.UserID), LeadContractorID: &pro.UserID}
	h.Admin = entity.Admin{Identity: h.addUser(entity.RoleAdmin, nil)}
	h.Outsider = entity.Client{Identity: h.addUser(entity.RoleClient, nil)}

	require.NoError(t, store.Accounts().Save(context.Background(), &entity.ConnectedAccount{
		UserID:           pro.UserID,
		AccountID:        PayeeAccount,
		ChargesEnabled:   true,
		PayoutsEnabled:   true,
		DetailsSubmitted: true,
		UpdatedAt:        clock.Now(),
	}))
	store.AddPlan(ComplexPlan)

	h.Subs = subscription.NewEngine(store.Subscriptions(), valueobject.MustRate("0.05"), time.Minute).WithClock(clock.Now)
	h.Identity = identity.NewDirectory(store.Users(), store.Accounts())
	h.Reconciler = reconcile.NewReconciler(store.Escrows(), store.Accounts(), gw, events, HoldPeriod, log).WithClock(clock.Now)
	h.Engine = escrow.NewEngine(escrow.Deps{
		Escrows:    store.Escrows(),
		Payouts:    store.Payouts(),
		WorkOrders: store.WorkOrders(),
		Accounts:   store.Accounts(),
		Fees:       h.Subs,
		Identity:   h.Identity,
		Gateway:    gw,
		Reconciler: h.Reconciler,
		Events:     events,
		Log:        log,
	}, escrow.Config{
		HoldPeriod:     HoldPeriod,
		MinAmount:      valueobject.MustCents(1000),
		MaxAmount:      valueobject.MustCents(100_000_000),
		GatewayTimeout: 5 * time.Second,
	}).WithClock(clock.Now)

	return h
}

func (h *Harness) addUser(role string, lead *uuid.UUID) entity.Identity {
	id := uuid.New()
	email := role + "-" + id.String()[:8] + "@example.test"
	h.Store.AddUser(repository.UserRecord{ID: id, Email: email, Role: role, LeadContractorID: lead})
	return entity.Identity{UserID: id, Email: email}
}

// GrantComplex подписывает клиента на тариф со сложными проектами.
func (h *Harness) GrantComplex() {
	h.Store.Subscribe(h.Client.ID(), ComplexPlan, entity.SubscriptionStatusActive, h.Clock.Now())
	h.Subs.Invalidate(h.Client.ID())
}

// Simple создаёт простой escrow на сумму amount ("100.00").
func (h *Harness) Simple(t *testing.T, amount string) *entity.Escrow {
	t.Helper()
	esc, err := h.Engine.Create(context.Background(), h.Client, escrow.CreateInput{
		ProfessionalID: h.Professional.ID(),
		Title:          "Замена проводки",
		ProjectType:    string(valueobject.ProjectTypeSimple),
		Amount:         Money(t, amount),
	})
	require.NoError(t, err)
	return esc
}

// Installment создаёт рассрочку на сумму amount.
func (h *Harness) Installment(t *testing.T, amount string) *entity.Escrow {
	t.Helper()
	esc, err := h.Engine.Create(context.Background(), h.Client, escrow.CreateInput{
		ProfessionalID: h.Professional.ID(),
		Title:          "Ремонт кухни",
		ProjectType:    string(valueobject.ProjectTypeInstallment),
		Amount:         Money(t, amount),
	})
	require.NoError(t, err)
	return esc
}

// WithSpecialist создаёт простой escrow со специалистом-координатором.
func (h *Harness) WithSpecialist(t *testing.T, amount string) *entity.Escrow {
	t.Helper()
	specialist := h.Specialist.ID()
	esc, err := h.Engine.Create(context.Background(), h.Client, escrow.CreateInput{
		ProfessionalID: h.Professional.ID(),
		SpecialistID:   &specialist,
		Title:          "Реконструкция ванной",
		ProjectType:    string(valueobject.ProjectTypeSimple),
		Amount:         Money(t, amount),
	})
	require.NoError(t, err)
	return esc
}

// FundAndHold оплачивает следующий этап и подтверждает его вебхуком.
func (h *Harness) FundAndHold(t *testing.T, escrowID uuid.UUID) *escrow.FundResult {
	t.Helper()
	res, err := h.Engine.FundNext(context.Background(), h.Client, escrowID, nil)
	require.NoError(t, err)
	h.Confirm(t, res.IntentID)
	return res
}

// Confirm доставляет подписанный вебхук об успешной оплате intent.
func (h *Harness) Confirm(t *testing.T, intentID string) reconcile.Outcome {
	t.Helper()
	return h.Deliver(t, "evt_ok_"+intentID, gateway.EventIntentSucceeded, intentID)
}

// Deliver проводит событие через проверку подписи и сверщик.
func (h *Harness) Deliver(t *testing.T, eventID string, kind gateway.EventKind, intentID string) reconcile.Outcome {
	t.Helper()
	payload, sig := h.Gateway.IntentEvent(eventID, kind, intentID)
	evt, err := h.Gateway.VerifyWebhook(payload, sig)
	require.NoError(t, err)
	outcome, err := h.Reconciler.Handle(context.Background(), evt)
	require.NoError(t, err)
	return outcome
}

// Escrow читает текущее состояние escrow.
func (h *Harness) Escrow(t *testing.T, id uuid.UUID) *entity.Escrow {
	t.Helper()
	esc, err := h.Store.Escrows().FindByID(context.Background(), id)
	require.NoError(t, err)
	return esc
}

// Ledger: сводка журнала escrow.
func (h *Harness) Ledger(t *testing.T, id uuid.UUID) entity.Ledger {
	t.Helper()
	txs, err := h.Store.Escrows().ListTransactions(context.Background(), id)
	require.NoError(t, err)
	return entity.Summarize(txs)
}

// RequireConserved проверяет, что журнал сходится с удерживаемым остатком этапов.
func (h *Harness) RequireConserved(t *testing.T, id uuid.UUID) {
	t.Helper()
	ledger := h.Ledger(t, id)
	held, err := ledger.Held()
	require.NoError(t, err)
	require.Equal(t, h.Escrow(t, id).HeldBalance().String(), held.String(), "журнал не сходится с остатком этапов")
}

func Money(t *testing.T, s string) valueobject.Money {
	t.Helper()
	m, err := valueobject.ParseMoney(s)
	require.NoError(t, err)
	return m
}
