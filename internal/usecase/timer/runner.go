// Package timer: автовыплата этапов, у которых истекло окно удержания.
package timer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/notify"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

const defaultBatch = 100

// AlertTimerStuck: автовыплата не проходит дольше допустимого.
const AlertTimerStuck = string(apperror.ErrCodeTimerStuck)

// Releaser: операции движка escrow, которые вызывает таймер.
type Releaser interface {
	AutoRelease(ctx context.Context, milestoneID uuid.UUID) (bool, error)
	PromoteStuck(ctx context.Context, milestoneID uuid.UUID, reason string) (bool, error)
}

// Report: итог одного тика.
type Report struct {
	Released int
	Failed   int
	Stuck    int
	// Skipped: этап успел уйти из held до блокировки.
	Skipped int
}

type Runner struct {
	escrows    repository.EscrowRepository
	releaser   Releaser
	events     *notify.Dispatcher
	log        logrus.FieldLogger
	stuckAfter time.Duration
	promote    bool
	batch      int
	nowFn      func() time.Time
}

func NewRunner(escrows repository.EscrowRepository, releaser Releaser, events *notify.Dispatcher, stuckAfter time.Duration, promote bool, log logrus.FieldLogger) *Runner {
	return &Runner{
		escrows:    escrows,
		releaser:   releaser,
		events:     events,
		log:        log,
		stuckAfter: stuckAfter,
		promote:    promote,
		batch:      defaultBatch,
		nowFn:      time.Now,
	}
}

func (r *Runner) WithClock(nowFn func() time.Time) *Runner {
	r.nowFn = nowFn
	return r
}

// Tick проходит по созревшим этапам. Каждый этап обрабатывается независимо;
// состояния между тиками нет, всё читается из хранилища.
func (r *Runner) Tick(ctx context.Context) (Report, error) {
	var report Report

	now := r.nowFn()
	due, err := r.escrows.ListDueMilestones(ctx, now, r.batch)
	if err != nil {
		return report, err
	}

	for _, m := range due {
		if ctx.Err() != nil {
			r.log.Info("Таймер остановлен до конца прохода")
			break
		}

		log := r.log.WithFields(logrus.Fields{"escrow_id": m.EscrowID, "milestone_id": m.ID})

		released, err := r.releaser.AutoRelease(ctx, m.ID)
		if err == nil {
			if released {
				report.Released++
			} else {
				report.Skipped++
			}
			continue
		}

		report.Failed++
		log.WithError(err).Warn("Автовыплата не прошла, этап остаётся на удержании")

		overdue := now.Sub(*m.HoldUntil)
		if overdue < r.stuckAfter {
			continue
		}
		report.Stuck++

		milestoneID := m.ID
		r.events.Alert(notify.Alert{
			Code:        AlertTimerStuck,
			EscrowID:    m.EscrowID,
			MilestoneID: &milestoneID,
			Message:     "Автовыплата этапа не проходит " + overdue.Truncate(time.Minute).String() + ": " + err.Error(),
			OccurredAt:  now,
		})

		if !r.promote {
			continue
		}
		promoted, perr := r.releaser.PromoteStuck(ctx, m.ID, "автовыплата не прошла: требуется решение администратора")
		if perr != nil {
			log.WithError(perr).Error("Не удалось перевести этап в спор")
			continue
		}
		if promoted {
			log.Warn("Застрявший этап переведён в спор")
		}
	}

	if report != (Report{}) {
		r.log.WithFields(logrus.Fields{
			"released": report.Released,
			"failed":   report.Failed,
			"stuck":    report.Stuck,
			"skipped":  report.Skipped,
		}).Info("Тик таймера автовыплат")
	}
	return report, nil
}
