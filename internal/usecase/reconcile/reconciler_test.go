package reconcile_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/gateway/gatewaytest"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow/escrowtest"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/reconcile"
)

func TestHandle_ConfirmStartsHold(t *testing.T) {
	h := escrowtest.New(t)
	esc := h.Simple(t, "250.00")
	fund, err := h.Engine.FundNext(context.Background(), h.Client, esc.ID, nil)
	require.NoError(t, err)

	outcome := h.Deliver(t, "evt_100", gateway.EventIntentSucceeded, fund.IntentID)
	assert.Equal(t, reconcile.OutcomeApplied, outcome)

	m := h.Escrow(t, esc.ID).Milestones[0]
	assert.Equal(t, valueobject.MilestoneStatusHeld, m.Status)
	require.NotNil(t, m.PaidAt)
	assert.Equal(t, h.Clock.Now(), *m.PaidAt)
	assert.Equal(t, "250.00", h.Ledger(t, esc.ID).Deposits.String())

	h.Events.Wait()
	assert.Contains(t, h.Recorder.Types(), notify.EventMilestoneHeld)
}

func TestHandle_FailureAfterConfirmIsStale(t *testing.T) {
	h := escrowtest.New(t)
	esc := h.Simple(t, "100.00")
	fund := h.FundAndHold(t, esc.ID)

	outcome := h.Deliver(t, "evt_late_fail", gateway.EventIntentFailed, fund.IntentID)
	assert.Equal(t, reconcile.OutcomeStale, outcome)
	assert.Equal(t, valueobject.MilestoneStatusHeld, h.Escrow(t, esc.ID).Milestones[0].Status)
}

func TestHandle_UnknownIntent(t *testing.T) {
	h := escrowtest.New(t)

	assert.Equal(t, reconcile.OutcomeUnknown, h.Deliver(t, "evt_x", gateway.EventIntentFailed, "pi_missing"))
	assert.Equal(t, reconcile.OutcomeUnknown, h.Deliver(t, "evt_y", gateway.EventIntentSucceeded, "pi_missing"))

	h.Events.Wait()
	alerts := h.Recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, reconcile.AlertUnmatchedPayment, alerts[0].Code)
}

func TestHandle_AccountUpdated(t *testing.T) {
	h := escrowtest.New(t)
	ctx := context.Background()

	update := gateway.AccountUpdate{AccountID: escrowtest.PayeeAccount, ChargesEnabled: true, PayoutsEnabled: false, DetailsSubmitted: true}
	payload, sig := h.Gateway.AccountEvent("evt_acct_1", update)
	evt, err := h.Gateway.VerifyWebhook(payload, sig)
	require.NoError(t, err)

	outcome, err := h.Reconciler.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, outcome)

	account, err := h.Store.Accounts().FindByUser(ctx, h.Professional.ID())
	require.NoError(t, err)
	assert.False(t, account.PayoutsEnabled)

	outcome, err = h.Reconciler.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeDuplicate, outcome)
}

func TestHandle_IgnoredKinds(t *testing.T) {
	h := escrowtest.New(t)

	outcome, err := h.Reconciler.Handle(context.Background(), gateway.Event{ID: "evt_charge", Kind: gateway.EventIgnored, RawType: "charge.refunded"})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeIgnored, outcome)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	h := escrowtest.New(t)
	payload, _ := h.Gateway.IntentEvent("evt_forged", gateway.EventIntentSucceeded, "pi_0001")

	_, err := h.Gateway.VerifyWebhook(payload, "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrSignatureInvalid)
}

func intentEvent(t *testing.T, h *escrowtest.Harness, eventID string, kind gateway.EventKind, intentID string) gateway.Event {
	t.Helper()
	payload, sig := h.Gateway.IntentEvent(eventID, kind, intentID)
	evt, err := h.Gateway.VerifyWebhook(payload, sig)
	require.NoError(t, err)
	return evt
}

func TestHandle_FailureCancelsIntent(t *testing.T) {
	h := escrowtest.New(t)
	ctx := context.Background()
	esc := h.Simple(t, "100.00")
	fund, err := h.Engine.FundNext(ctx, h.Client, esc.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, reconcile.OutcomeApplied, h.Deliver(t, "evt_declined", gateway.EventIntentFailed, fund.IntentID))

	m := h.Escrow(t, esc.ID).Milestones[0]
	assert.Equal(t, valueobject.MilestoneStatusPending, m.Status)
	assert.Equal(t, 1, h.Gateway.Calls(gatewaytest.OpCancelIntent))

	// Отменённый intent больше нельзя оплатить: новая оплата идёт через новый intent.
	state, err := h.Gateway.IntentStatus(ctx, fund.IntentID)
	require.NoError(t, err)
	assert.Equal(t, gateway.IntentFailed, state)

	h.Events.Wait()
	assert.Contains(t, h.Recorder.Types(), notify.EventMilestonePayFailed)
}

func TestHandle_FailureThenSuccessOnSameIntent(t *testing.T) {
	h := escrowtest.New(t)
	ctx := context.Background()
	esc := h.Simple(t, "100.00")
	fund, err := h.Engine.FundNext(ctx, h.Client, esc.ID, nil)
	require.NoError(t, err)

	// Клиент повторил оплату на том же intent раньше, чем дошёл вебхук об отказе.
	h.Gateway.SetIntentState(fund.IntentID, gateway.IntentSucceeded)

	assert.Equal(t, reconcile.OutcomeApplied, h.Deliver(t, "evt_declined", gateway.EventIntentFailed, fund.IntentID))
	m := h.Escrow(t, esc.ID).Milestones[0]
	assert.Equal(t, valueobject.MilestoneStatusHeld, m.Status, "оплата не потеряна")
	require.NotNil(t, m.IntentID)
	assert.Equal(t, fund.IntentID, *m.IntentID)

	assert.Equal(t, reconcile.OutcomeStale, h.Confirm(t, fund.IntentID))
	assert.Equal(t, "100.00", h.Ledger(t, esc.ID).Deposits.String())
	h.RequireConserved(t, esc.ID)

	h.Events.Wait()
	assert.Empty(t, h.Recorder.Alerts())
}

func TestHandle_FailureRetriedWhenCancelUnavailable(t *testing.T) {
	h := escrowtest.New(t)
	ctx := context.Background()
	esc := h.Simple(t, "100.00")
	fund, err := h.Engine.FundNext(ctx, h.Client, esc.ID, nil)
	require.NoError(t, err)

	h.Gateway.Fail(gatewaytest.OpCancelIntent, gateway.Transient, 1)
	evt := intentEvent(t, h, "evt_declined", gateway.EventIntentFailed, fund.IntentID)

	_, err = h.Reconciler.Handle(ctx, evt)
	require.Error(t, err)
	assert.True(t, apperror.IsGatewayTransient(err))
	assert.Equal(t, valueobject.MilestoneStatusPaid, h.Escrow(t, esc.ID).Milestones[0].Status)

	// Повторная доставка того же события проходит: отметка не сохранилась.
	outcome, err := h.Reconciler.Handle(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeApplied, outcome)
	assert.Equal(t, valueobject.MilestoneStatusPending, h.Escrow(t, esc.ID).Milestones[0].Status)
}

func TestHandle_ConcurrentDeliveriesDepositOnce(t *testing.T) {
	for i := 0; i < 30; i++ {
		h := escrowtest.New(t)
		ctx := context.Background()
		esc := h.Simple(t, "100.00")
		fund, err := h.Engine.FundNext(ctx, h.Client, esc.ID, nil)
		require.NoError(t, err)

		// Одно событие доставлено пять раз и ещё два события по тому же intent.
		events := make([]gateway.Event, 0, 7)
		for j := 0; j < 5; j++ {
			events = append(events, intentEvent(t, h, "evt_ok", gateway.EventIntentSucceeded, fund.IntentID))
		}
		for j := 0; j < 2; j++ {
			events = append(events, intentEvent(t, h, fmt.Sprintf("evt_ok_%d", j), gateway.EventIntentSucceeded, fund.IntentID))
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			outcomes = map[reconcile.Outcome]int{}
		)
		for _, evt := range events {
			wg.Add(1)
			go func(evt gateway.Event) {
				defer wg.Done()
				outcome, err := h.Reconciler.Handle(ctx, evt)
				assert.NoError(t, err)
				mu.Lock()
				outcomes[outcome]++
				mu.Unlock()
			}(evt)
		}
		wg.Wait()

		assert.Equal(t, 1, outcomes[reconcile.OutcomeApplied])
		assert.Equal(t, 4, outcomes[reconcile.OutcomeDuplicate])
		assert.Equal(t, 2, outcomes[reconcile.OutcomeStale])
		assert.Equal(t, valueobject.MilestoneStatusHeld, h.Escrow(t, esc.ID).Milestones[0].Status)
		assert.Equal(t, "100.00", h.Ledger(t, esc.ID).Deposits.String())
		h.RequireConserved(t, esc.ID)
	}
}
