// Package scheduler запускает фоновые проходы: таймер автовыплат и очередь выплат.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/usecase/payout"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/timer"
)

// TimerTicker и PayoutRunner: то, что планировщик вызывает по расписанию.
type TimerTicker interface {
	Tick(ctx context.Context) (timer.Report, error)
}

type PayoutRunner interface {
	RunOnce(ctx context.Context) (payout.Report, error)
}

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Register добавляет таймер автовыплат и воркер выплат.
func (s *Scheduler) Register(t TimerTicker, timerEvery time.Duration, p PayoutRunner, payoutEvery time.Duration) error {
	if _, err := s.cron.AddFunc(every(timerEvery), func() {
		report, err := t.Tick(s.ctx)
		if err != nil {
			s.log.WithError(err).Error("Тик таймера автовыплат завершился ошибкой")
			return
		}
		if report.Stuck > 0 {
			s.log.WithField("stuck", report.Stuck).Warn("Есть застрявшие автовыплаты")
		}
	}); err != nil {
		return fmt.Errorf("register timer: %w", err)
	}

	if _, err := s.cron.AddFunc(every(payoutEvery), func() {
		report, err := p.RunOnce(s.ctx)
		if err != nil {
			s.log.WithError(err).Error("Проход очереди выплат завершился ошибкой")
			return
		}
		if report != (payout.Report{}) {
			s.log.WithFields(logrus.Fields{
				"succeeded": report.Succeeded,
				"retried":   report.Retried,
				"failed":    report.Failed,
			}).Info("Проход очереди выплат")
		}
	}); err != nil {
		return fmt.Errorf("register payouts: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"timer_interval":  timerEvery.String(),
		"payout_interval": payoutEvery.String(),
	}).Info("Фоновые задачи зарегистрированы")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop отменяет контекст текущих проходов и ждёт их завершения.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Планировщик остановлен")
	case <-ctx.Done():
		s.log.Warn("Планировщик не успел остановиться")
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger направляет журнал cron в logrus.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(kv []interface{}) logrus.Fields {
	out := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
