package payout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/gateway/gatewaytest"
	"github.com/ignatzorin/homepro-escrow/internal/logger"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow/escrowtest"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/payout"
)

func queuedRelease(t *testing.T, h *escrowtest.Harness, kind gateway.ErrorKind, times int) *entity.PayoutJob {
	t.Helper()
	esc := h.Simple(t, "100.00")
	fund := h.FundAndHold(t, esc.ID)

	h.Gateway.Fail(gatewaytest.OpTransfer, gateway.Transient, 1)
	out, err := h.Engine.Approve(context.Background(), h.Client, fund.MilestoneID)
	require.NoError(t, err)
	require.Equal(t, entity.PayoutStatusPending, out.Payout.Status)

	if times != 0 {
		h.Gateway.Fail(gatewaytest.OpTransfer, kind, times)
	}
	return out.Payout
}

func newWorker(h *escrowtest.Harness) *payout.Worker {
	return payout.NewWorker(h.Store.Escrows(), h.Store.Payouts(), payout.NewExecutor(h.Gateway), h.Events, logger.Discard()).
		WithClock(h.Clock.Now)
}

func job(t *testing.T, h *escrowtest.Harness, queued *entity.PayoutJob) *entity.PayoutJob {
	t.Helper()
	jobs, err := h.Store.Payouts().ListByEscrow(context.Background(), queued.EscrowID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	h := escrowtest.New(t)
	queued := queuedRelease(t, h, gateway.Transient, 0)
	w := newWorker(h)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payout.Report{}, report, "задача ещё не созрела")

	h.Clock.Advance(gateway.Backoff(1))
	report, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	done := job(t, h, queued)
	assert.Equal(t, entity.PayoutStatusSucceeded, done.Status)
	assert.Equal(t, 2, done.Attempts)
	require.NotNil(t, done.ProcessorRef)

	transfers := h.Gateway.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, queued.IdempotencyKey, transfers[0].Key)
	assert.Equal(t, "95.00", transfers[0].Amount.String())

	report, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payout.Report{}, report)
	assert.Len(t, h.Gateway.Transfers(), 1)
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	h := escrowtest.New(t)
	queued := queuedRelease(t, h, gateway.Transient, -1)
	w := newWorker(h)

	var last payout.Report
	for i := 1; i < gateway.MaxAttempts; i++ {
		h.Clock.Advance(time.Minute)
		report, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		last = report
	}
	assert.Equal(t, 1, last.Failed)

	failed := job(t, h, queued)
	assert.Equal(t, entity.PayoutStatusFailed, failed.Status)
	assert.Equal(t, gateway.MaxAttempts, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Empty(t, h.Gateway.Transfers())

	h.Events.Wait()
	alerts := h.Recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, payout.AlertPayoutFailed, alerts[0].Code)
	assert.Contains(t, h.Recorder.Types(), notify.EventPayoutFailed)

	// Журнал и этап не откатываются: выплату доводит оператор.
	h.RequireConserved(t, queued.EscrowID)
}

func TestWorker_FatalFailsImmediately(t *testing.T) {
	h := escrowtest.New(t)
	queued := queuedRelease(t, h, gateway.Fatal, 1)
	w := newWorker(h)

	h.Clock.Advance(time.Minute)
	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, job(t, h, queued).Attempts)
}

func TestWorker_StopsOnCancelledContext(t *testing.T) {
	h := escrowtest.New(t)
	queuedRelease(t, h, gateway.Transient, 0)
	w := newWorker(h)

	h.Clock.Advance(time.Minute)
	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := w.RunOnce(cctx)
	require.NoError(t, err)
	assert.Equal(t, payout.Report{}, report)
	assert.Empty(t, h.Gateway.Transfers())
}
