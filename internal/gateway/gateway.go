// Package gateway скрывает платёжный процессор за узким интерфейсом.
// Шлюз не меняет состояние escrow: он возвращает ссылки процессора,
// а записывает их вызывающий код или сверщик вебхуков.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

// Processor: операции процессора. Все денежные вызовы идемпотентны по ключу.
type Processor interface {
	CreateConnectedAccount(ctx context.Context, userID uuid.UUID, email string) (string, error)
	OnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error)
	CreateHoldIntent(ctx context.Context, amount valueobject.Money, key string, metadata map[string]string) (Intent, error)
	IntentStatus(ctx context.Context, intentID string) (IntentState, error)
	CancelIntent(ctx context.Context, intentID, key string) (IntentState, error)
	Transfer(ctx context.Context, amount valueobject.Money, destination, key string, metadata map[string]string) (string, error)
	Refund(ctx context.Context, intentID string, amount valueobject.Money, key string, metadata map[string]string) (string, error)
	VerifyWebhook(payload []byte, signature string) (Event, error)
}

type Intent struct {
	ID           string
	ClientSecret string
}

type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentSucceeded IntentState = "succeeded"
	IntentFailed    IntentState = "failed"
)

type EventKind string

const (
	EventIntentSucceeded EventKind = "payment_intent.succeeded"
	EventIntentFailed    EventKind = "payment_intent.payment_failed"
	EventAccountUpdated  EventKind = "account.updated"
	EventIgnored         EventKind = "ignored"
)

// Event: проверенное событие процессора.
type Event struct {
	ID       string
	Kind     EventKind
	RawType  string
	IntentID string
	Account  *AccountUpdate
	Failure  string
}

type AccountUpdate struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// ErrorKind делит отказы процессора на повторяемые и окончательные.
type ErrorKind int

const (
	Transient ErrorKind = iota + 1
	Fatal
)

func (k ErrorKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrSignatureInvalid: подпись вебхука не совпала. Состояние не меняется.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

func IsTransient(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == Transient
}

func IsFatal(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == Fatal
}

// MaxAttempts: предел попыток одного исходящего вызова.
const MaxAttempts = 6

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// Backoff возвращает паузу перед попыткой attempt (с единицы): 1s, 2s, 4s ... 60s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// Операции, из которых выводятся ключи идемпотентности.
const (
	OpFund    = "fund"
	OpCancel  = "cancel"
	OpRelease = "release"
	OpRefund  = "refund"
	OpAccount = "account"
)

// Key: ключ идемпотентности вида "release:<milestone_id>".
func Key(op string, id uuid.UUID) string {
	return op + ":" + id.String()
}

// FundKey различает попытки оплаты: после отказа процессора нужен новый intent.
func FundKey(milestoneID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", OpFund, milestoneID, attempt)
}

// CancelKey: ключ отмены intent той же попытки оплаты.
func CancelKey(milestoneID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", OpCancel, milestoneID, attempt)
}
