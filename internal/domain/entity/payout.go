package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

type PayoutKind string

const (
	PayoutKindRelease PayoutKind = "release"
	PayoutKindRefund  PayoutKind = "refund"
)

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusSucceeded PayoutStatus = "succeeded"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// PayoutJob: исходящая операция процессора. Ставится в очередь в той же
// транзакции, что и переход этапа; постановка в очередь и есть точка фиксации.
type PayoutJob struct {
	ID             uuid.UUID
	MilestoneID    uuid.UUID
	EscrowID       uuid.UUID
	Kind           PayoutKind
	IdempotencyKey string
	Amount         valueobject.Money
	// Destination: connected account для выплаты, intent для возврата.
	Destination   string
	Status        PayoutStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     *string
	ProcessorRef  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewPayoutJob(m *Milestone, kind PayoutKind, key string, amount valueobject.Money, destination string, now time.Time) *PayoutJob {
	return &PayoutJob{
		ID:             uuid.New(),
		MilestoneID:    m.ID,
		EscrowID:       m.EscrowID,
		Kind:           kind,
		IdempotencyKey: key,
		Amount:         amount,
		Destination:    destination,
		Status:         PayoutStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (j *PayoutJob) Succeed(ref string, now time.Time) {
	j.Status = PayoutStatusSucceeded
	j.ProcessorRef = &ref
	j.Attempts++
	j.LastError = nil
	j.UpdatedAt = now
}

// Retry откладывает задачу до следующей попытки.
func (j *PayoutJob) Retry(cause error, next time.Time, now time.Time) {
	msg := cause.Error()
	j.Attempts++
	j.LastError = &msg
	j.NextAttemptAt = next
	j.UpdatedAt = now
}

func (j *PayoutJob) Fail(cause error, now time.Time) {
	msg := cause.Error()
	j.Status = PayoutStatusFailed
	j.Attempts++
	j.LastError = &msg
	j.UpdatedAt = now
}

func (j *PayoutJob) IsPending() bool { return j.Status == PayoutStatusPending }
