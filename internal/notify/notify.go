// Package notify: исходящие события escrow: уведомления участникам,
// системные строки в переписку проекта и алерты операторам.
// Доставка best effort: ошибка sink не откатывает зафиксированный переход.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/goroutine"
)

// Типы событий.
const (
	EventEscrowCreated      = "escrow.created"
	EventEscrowDeleted      = "escrow.deleted"
	EventEscrowCancelled    = "escrow.cancelled"
	EventMilestoneFunding   = "milestone.funding_requested"
	EventMilestoneHeld      = "milestone.held"
	EventMilestonePayFailed = "milestone.payment_failed"
	EventMilestoneCompleted = "milestone.completed"
	EventMilestoneReleased  = "milestone.released"
	EventMilestoneRefunded  = "milestone.refunded"
	EventMilestoneDisputed  = "milestone.disputed"
	EventPayoutFailed       = "payout.failed"
	EventWorkOrderCreated   = "work_order.created"
	EventWorkOrderUpdated   = "work_order.updated"
	EventAccountUpdated     = "account.updated"
)

type Event struct {
	Type        string            `json:"type"`
	EscrowID    uuid.UUID         `json:"escrow_id"`
	MilestoneID *uuid.UUID        `json:"milestone_id,omitempty"`
	Recipients  []uuid.UUID       `json:"recipients"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Alert: сигнал оператору (застрявшая автовыплата, окончательный отказ выплаты).
type Alert struct {
	Code        string     `json:"code"`
	EscrowID    uuid.UUID  `json:"escrow_id"`
	MilestoneID *uuid.UUID `json:"milestone_id,omitempty"`
	Message     string     `json:"message"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

type ConversationSink interface {
	PostSystemLine(ctx context.Context, escrowID uuid.UUID, text string) error
}

type AlertSink interface {
	Alert(ctx context.Context, alert Alert) error
}

// Multi рассылает событие во все sink и собирает ошибки.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop реализует все sink без действий.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error                     { return nil }
func (Nop) PostSystemLine(context.Context, uuid.UUID, string) error { return nil }
func (Nop) Alert(context.Context, Alert) error                      { return nil }

// Dispatcher отправляет события после коммита в отдельных горутинах.
type Dispatcher struct {
	sink   Sink
	conv   ConversationSink
	alerts AlertSink
	rh     *goroutine.RecoveryHandler
	log    logrus.FieldLogger
	// timeout ограничивает доставку одного события.
	timeout time.Duration
}

func NewDispatcher(sink Sink, conv ConversationSink, alerts AlertSink, log logrus.FieldLogger) *Dispatcher {
	if sink == nil {
		sink = Nop{}
	}
	if conv == nil {
		conv = Nop{}
	}
	if alerts == nil {
		alerts = Nop{}
	}
	return &Dispatcher{
		sink:    sink,
		conv:    conv,
		alerts:  alerts,
		rh:      goroutine.NewRecoveryHandler(log),
		log:     log,
		timeout: 10 * time.Second,
	}
}

// Emit публикует событие и, если задан text, системную строку в переписку.
func (d *Dispatcher) Emit(evt Event, text string) {
	d.rh.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sink.Publish(ctx, evt); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"event":     evt.Type,
				"escrow_id": evt.EscrowID,
			}).Warn("Не удалось доставить уведомление")
		}
		if text == "" {
			return
		}
		if err := d.conv.PostSystemLine(ctx, evt.EscrowID, text); err != nil {
			d.log.WithError(err).WithField("escrow_id", evt.EscrowID).Warn("Не удалось записать системное сообщение")
		}
	})
}

// Alert пишет алерт в лог синхронно и отправляет его в sink.
func (d *Dispatcher) Alert(alert Alert) {
	fields := logrus.Fields{"code": alert.Code, "escrow_id": alert.EscrowID}
	if alert.MilestoneID != nil {
		fields["milestone_id"] = *alert.MilestoneID
	}
	d.log.WithFields(fields).Error(alert.Message)

	d.rh.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.alerts.Alert(ctx, alert); err != nil {
			d.log.WithError(err).WithField("code", alert.Code).Warn("Не удалось отправить алерт")
		}
	})
}

// Wait ждёт доставки всех отправленных событий.
func (d *Dispatcher) Wait() {
	d.rh.Wait()
}

// Recorder запоминает события; используется в тестах и как отладочный sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	lines  []string
	alerts []Alert
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) PostSystemLine(_ context.Context, _ uuid.UUID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
	return nil
}

func (r *Recorder) Alert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

// Types возвращает типы записанных событий по порядку.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
