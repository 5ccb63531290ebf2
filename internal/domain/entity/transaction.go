package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

// Transaction: запись журнала аудита. Только добавление.
type Transaction struct {
	ID           uuid.UUID
	EscrowID     uuid.UUID
	MilestoneID  uuid.UUID
	Kind         valueobject.TransactionKind
	Amount       valueobject.Money
	ProcessorRef *string
	CreatedAt    time.Time
}

func NewTransaction(m *Milestone, kind valueobject.TransactionKind, amount valueobject.Money, ref *string, now time.Time) *Transaction {
	return &Transaction{
		ID:           uuid.New(),
		EscrowID:     m.EscrowID,
		MilestoneID:  m.ID,
		Kind:         kind,
		Amount:       amount,
		ProcessorRef: ref,
		CreatedAt:    now,
	}
}

// Ledger: сводка журнала по escrow.
type Ledger struct {
	Deposits valueobject.Money
	Releases valueobject.Money
	Fees     valueobject.Money
	Refunds  valueobject.Money
}

func Summarize(txs []*Transaction) Ledger {
	var l Ledger
	for _, t := range txs {
		switch t.Kind {
		case valueobject.TransactionKindDeposit:
			l.Deposits, _ = l.Deposits.Add(t.Amount)
		case valueobject.TransactionKindRelease:
			l.Releases, _ = l.Releases.Add(t.Amount)
		case valueobject.TransactionKindFee:
			l.Fees, _ = l.Fees.Add(t.Amount)
		case valueobject.TransactionKindRefund:
			l.Refunds, _ = l.Refunds.Add(t.Amount)
		}
	}
	return l
}

// Held: остаток на удержании: deposits − releases − fees − refunds.
func (l Ledger) Held() (valueobject.Money, error) {
	out, err := l.Deposits.Sub(l.Releases)
	if err != nil {
		return valueobject.Money{}, err
	}
	if out, err = out.Sub(l.Fees); err != nil {
		return valueobject.Money{}, err
	}
	return out.Sub(l.Refunds)
}
