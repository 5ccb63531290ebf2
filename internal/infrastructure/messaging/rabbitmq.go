package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/notify"
)

// Обменники и ключи маршрутизации.
const (
	ExchangeEscrow       = "escrow_events"
	ExchangeConversation = "conversation_events"
	ExchangeOps          = "ops_events"

	RoutingSystemLine = "conversation.system_line"
	RoutingOpsAlert   = "ops.alert"
)

// Publisher публикует JSON-сообщение в обменник.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer держит соединение и канал RabbitMQ.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	log     logrus.FieldLogger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP URL должен начинаться с amqp:// или amqps://")
	}
	return clean, nil
}

// NewEventProducer подключается к брокеру с ограниченным таймаутом.
func NewEventProducer(amqpURL string, log logrus.FieldLogger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, log: log}, nil
}

func (p *EventProducer) declare(exchange string) error {
	return p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// reopen пересоздаёт канал после ошибки; канал AMQP закрывается при любой ошибке протокола.
func (p *EventProducer) reopen(exchange string) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return p.declare(exchange)
}

// Publish отправляет сообщение; при ошибке один раз переоткрывает канал.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.declare(exchange); err != nil {
		p.log.WithError(err).WithField("exchange", exchange).Warn("Объявление обменника не удалось, переоткрываем канал")
		if err := p.reopen(exchange); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    uuid.NewString(),
		Body:         raw,
	}
	if err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"exchange":    exchange,
			"routing_key": routingKey,
		}).Warn("Публикация не удалась, переоткрываем канал")
		if err := p.reopen(exchange); err != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	}
	return nil
}

func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// FallbackProducer используется, когда брокер недоступен при старте: события только логируются.
type FallbackProducer struct {
	Log logrus.FieldLogger
}

func (p *FallbackProducer) Publish(_ context.Context, exchange, routingKey string, _ interface{}) error {
	p.Log.WithFields(logrus.Fields{
		"exchange":    exchange,
		"routing_key": routingKey,
	}).Debug("RabbitMQ недоступен, публикация пропущена")
	return nil
}

func (p *FallbackProducer) Close() {}

// EscrowEvents реализует sink уведомлений, переписки и алертов поверх Publisher.
type EscrowEvents struct {
	pub Publisher
}

var (
	_ notify.Sink             = (*EscrowEvents)(nil)
	_ notify.ConversationSink = (*EscrowEvents)(nil)
	_ notify.AlertSink        = (*EscrowEvents)(nil)
)

func NewEscrowEvents(pub Publisher) *EscrowEvents {
	return &EscrowEvents{pub: pub}
}

func (e *EscrowEvents) Publish(ctx context.Context, evt notify.Event) error {
	return e.pub.Publish(ctx, ExchangeEscrow, evt.Type, evt)
}

type systemLine struct {
	EscrowID   uuid.UUID `json:"escrow_id"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e *EscrowEvents) PostSystemLine(ctx context.Context, escrowID uuid.UUID, text string) error {
	return e.pub.Publish(ctx, ExchangeConversation, RoutingSystemLine, systemLine{
		EscrowID:   escrowID,
		Text:       text,
		OccurredAt: time.Now().UTC(),
	})
}

func (e *EscrowEvents) Alert(ctx context.Context, alert notify.Alert) error {
	return e.pub.Publish(ctx, ExchangeOps, RoutingOpsAlert, alert)
}
