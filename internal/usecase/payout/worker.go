package payout

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

const defaultBatch = 50

// AlertPayoutFailed: выплата не прошла окончательно, нужен оператор.
const AlertPayoutFailed = "PAYOUT_FAILED"

// Report: итог одного прохода очереди.
type Report struct {
	Succeeded int
	Retried   int
	Failed    int
	Skipped   int
}

// Worker дорабатывает задачи выплат, отложенные после временного отказа процессора.
// Состояние этапа и журнал он не трогает: они зафиксированы вместе с постановкой задачи.
type Worker struct {
	escrows repository.EscrowRepository
	payouts repository.PayoutRepository
	exec    *Executor
	events  *notify.Dispatcher
	log     logrus.FieldLogger
	nowFn   func() time.Time
	batch   int
}

func NewWorker(escrows repository.EscrowRepository, payouts repository.PayoutRepository, exec *Executor, events *notify.Dispatcher, log logrus.FieldLogger) *Worker {
	return &Worker{
		escrows: escrows,
		payouts: payouts,
		exec:    exec,
		events:  events,
		log:     log,
		nowFn:   time.Now,
		batch:   defaultBatch,
	}
}

// WithClock подменяет часы (для тестов).
func (w *Worker) WithClock(nowFn func() time.Time) *Worker {
	w.nowFn = nowFn
	return w
}

// RunOnce обрабатывает созревшие задачи. Между задачами проверяет отмену ctx.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	jobs, err := w.payouts.ListDue(ctx, w.nowFn(), w.batch)
	if err != nil {
		return report, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		outcome, err := w.process(ctx, job)
		if err != nil {
			w.log.WithError(err).WithField("idempotency_key", job.IdempotencyKey).Error("Не удалось обработать задачу выплаты")
			continue
		}
		switch outcome {
		case entity.PayoutStatusSucceeded:
			report.Succeeded++
		case entity.PayoutStatusFailed:
			report.Failed++
		case entity.PayoutStatusPending:
			report.Retried++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

func (w *Worker) process(ctx context.Context, due *entity.PayoutJob) (entity.PayoutStatus, error) {
	var outcome entity.PayoutStatus
	var failed *entity.PayoutJob

	err := w.escrows.WithEscrowLock(ctx, due.EscrowID, func(tx repository.EscrowTx) error {
		job, err := tx.FindPayout(ctx, due.IdempotencyKey)
		if err != nil {
			if apperror.IsNotFound(err) {
				return nil
			}
			return err
		}

		now := w.nowFn()
		// Другой воркер мог успеть раньше.
		if !job.IsPending() || job.NextAttemptAt.After(now) {
			return nil
		}

		log := w.log.WithFields(logrus.Fields{
			"escrow_id":       job.EscrowID,
			"milestone_id":    job.MilestoneID,
			"idempotency_key": job.IdempotencyKey,
			"attempt":         job.Attempts + 1,
		})

		ref, callErr := w.exec.Call(ctx, job)
		switch {
		case callErr == nil:
			job.Succeed(ref, now)
			log.WithField("processor_ref", ref).Info("Выплата выполнена")
		case gateway.IsTransient(callErr) && job.Attempts+1 < gateway.MaxAttempts:
			next := now.Add(gateway.Backoff(job.Attempts + 1))
			job.Retry(callErr, next, now)
			log.WithError(callErr).WithField("next_attempt_at", next).Warn("Процессор недоступен, выплата отложена")
		default:
			job.Fail(callErr, now)
			failed = job
			log.WithError(callErr).Error("Выплата не прошла окончательно")
		}

		outcome = job.Status
		return tx.SavePayout(ctx, job)
	})
	if err != nil {
		return "", err
	}

	if failed != nil {
		w.events.Alert(notify.Alert{
			Code:        AlertPayoutFailed,
			EscrowID:    failed.EscrowID,
			MilestoneID: &failed.MilestoneID,
			Message:     "Выплата по этапу не прошла: требуется ручная обработка",
			OccurredAt:  w.nowFn(),
		})
		w.events.Emit(notify.Event{
			Type:        notify.EventPayoutFailed,
			EscrowID:    failed.EscrowID,
			MilestoneID: &failed.MilestoneID,
			Data:        map[string]string{"kind": string(failed.Kind)},
			OccurredAt:  w.nowFn(),
		}, "")
	}
	return outcome, nil
}
