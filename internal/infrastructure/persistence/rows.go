package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

// Строки таблиц. Суммы лежат в BIGINT центах и читаются сразу в Money.

const escrowColumns = `id, client_id, professional_id, specialist_id, title, description, project_type,
	total_cents, status, dispute_reason, created_at, funded_at, in_progress_at, pending_approval_at,
	released_at, disputed_at, refunded_at, cancelled_at, updated_at`

type escrowRow struct {
	ID                uuid.UUID         `db:"id"`
	ClientID          uuid.UUID         `db:"client_id"`
	ProfessionalID    uuid.UUID         `db:"professional_id"`
	SpecialistID      uuid.NullUUID     `db:"specialist_id"`
	Title             string            `db:"title"`
	Description       string            `db:"description"`
	ProjectType       string            `db:"project_type"`
	TotalCents        valueobject.Money `db:"total_cents"`
	Status            string            `db:"status"`
	DisputeReason     *string           `db:"dispute_reason"`
	CreatedAt         time.Time         `db:"created_at"`
	FundedAt          *time.Time        `db:"funded_at"`
	InProgressAt      *time.Time        `db:"in_progress_at"`
	PendingApprovalAt *time.Time        `db:"pending_approval_at"`
	ReleasedAt        *time.Time        `db:"released_at"`
	DisputedAt        *time.Time        `db:"disputed_at"`
	RefundedAt        *time.Time        `db:"refunded_at"`
	CancelledAt       *time.Time        `db:"cancelled_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

func (r escrowRow) toEntity(milestones []*entity.Milestone) *entity.Escrow {
	return &entity.Escrow{
		ID:                r.ID,
		ClientID:          r.ClientID,
		ProfessionalID:    r.ProfessionalID,
		SpecialistID:      nullUUID(r.SpecialistID),
		Title:             r.Title,
		Description:       r.Description,
		ProjectType:       valueobject.ProjectType(r.ProjectType),
		TotalAmount:       r.TotalCents,
		Status:            valueobject.EscrowStatus(r.Status),
		DisputeReason:     r.DisputeReason,
		CreatedAt:         r.CreatedAt,
		FundedAt:          r.FundedAt,
		InProgressAt:      r.InProgressAt,
		PendingApprovalAt: r.PendingApprovalAt,
		ReleasedAt:        r.ReleasedAt,
		DisputedAt:        r.DisputedAt,
		RefundedAt:        r.RefundedAt,
		CancelledAt:       r.CancelledAt,
		UpdatedAt:         r.UpdatedAt,
		Milestones:        milestones,
	}
}

const milestoneColumns = `id, escrow_id, position, title, amount_cents, fee_rate, fee_cents, net_cents,
	status, intent_id, client_secret, fund_request_id, fund_attempt, dispute_reason, release_trigger,
	paid_at, hold_until, completed_at, approved_at, released_at, refunded_at, disputed_at, updated_at`

type milestoneRow struct {
	ID             uuid.UUID           `db:"id"`
	EscrowID       uuid.UUID           `db:"escrow_id"`
	Position       int                 `db:"position"`
	Title          string              `db:"title"`
	AmountCents    valueobject.Money   `db:"amount_cents"`
	FeeRate        decimal.NullDecimal `db:"fee_rate"`
	FeeCents       valueobject.Money   `db:"fee_cents"`
	NetCents       valueobject.Money   `db:"net_cents"`
	Status         string              `db:"status"`
	IntentID       *string             `db:"intent_id"`
	ClientSecret   *string             `db:"client_secret"`
	FundRequestID  *string             `db:"fund_request_id"`
	FundAttempt    int                 `db:"fund_attempt"`
	DisputeReason  *string             `db:"dispute_reason"`
	ReleaseTrigger *string             `db:"release_trigger"`
	PaidAt         *time.Time          `db:"paid_at"`
	HoldUntil      *time.Time          `db:"hold_until"`
	CompletedAt    *time.Time          `db:"completed_at"`
	ApprovedAt     *time.Time          `db:"approved_at"`
	ReleasedAt     *time.Time          `db:"released_at"`
	RefundedAt     *time.Time          `db:"refunded_at"`
	DisputedAt     *time.Time          `db:"disputed_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

func (r milestoneRow) toEntity() (*entity.Milestone, error) {
	m := &entity.Milestone{
		ID:             r.ID,
		EscrowID:       r.EscrowID,
		Position:       r.Position,
		Title:          r.Title,
		Amount:         r.AmountCents,
		PlatformFee:    r.FeeCents,
		NetAmount:      r.NetCents,
		Status:         valueobject.MilestoneStatus(r.Status),
		IntentID:       r.IntentID,
		ClientSecret:   r.ClientSecret,
		FundRequestID:  r.FundRequestID,
		FundAttempt:    r.FundAttempt,
		DisputeReason:  r.DisputeReason,
		ReleaseTrigger: r.ReleaseTrigger,
		PaidAt:         r.PaidAt,
		HoldUntil:      r.HoldUntil,
		CompletedAt:    r.CompletedAt,
		ApprovedAt:     r.ApprovedAt,
		ReleasedAt:     r.ReleasedAt,
		RefundedAt:     r.RefundedAt,
		DisputedAt:     r.DisputedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.FeeRate.Valid {
		rate, err := valueobject.NewRate(r.FeeRate.Decimal)
		if err != nil {
			return nil, err
		}
		m.FeeRate = &rate
	}
	return m, nil
}

func feeRateValue(rate *valueobject.Rate) decimal.NullDecimal {
	if rate == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: rate.Decimal(), Valid: true}
}

const transactionColumns = `id, escrow_id, milestone_id, kind, amount_cents, processor_ref, created_at`

type transactionRow struct {
	ID           uuid.UUID         `db:"id"`
	EscrowID     uuid.UUID         `db:"escrow_id"`
	MilestoneID  uuid.UUID         `db:"milestone_id"`
	Kind         string            `db:"kind"`
	AmountCents  valueobject.Money `db:"amount_cents"`
	ProcessorRef *string           `db:"processor_ref"`
	CreatedAt    time.Time         `db:"created_at"`
}

func (r transactionRow) toEntity() *entity.Transaction {
	return &entity.Transaction{
		ID:           r.ID,
		EscrowID:     r.EscrowID,
		MilestoneID:  r.MilestoneID,
		Kind:         valueobject.TransactionKind(r.Kind),
		Amount:       r.AmountCents,
		ProcessorRef: r.ProcessorRef,
		CreatedAt:    r.CreatedAt,
	}
}

const payoutColumns = `id, milestone_id, escrow_id, kind, idempotency_key, amount_cents, destination,
	status, attempts, next_attempt_at, last_error, processor_ref, created_at, updated_at`

type payoutRow struct {
	ID             uuid.UUID         `db:"id"`
	MilestoneID    uuid.UUID         `db:"milestone_id"`
	EscrowID       uuid.UUID         `db:"escrow_id"`
	Kind           string            `db:"kind"`
	IdempotencyKey string            `db:"idempotency_key"`
	AmountCents    valueobject.Money `db:"amount_cents"`
	Destination    string            `db:"destination"`
	Status         string            `db:"status"`
	Attempts       int               `db:"attempts"`
	NextAttemptAt  time.Time         `db:"next_attempt_at"`
	LastError      *string           `db:"last_error"`
	ProcessorRef   *string           `db:"processor_ref"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
}

func (r payoutRow) toEntity() *entity.PayoutJob {
	return &entity.PayoutJob{
		ID:             r.ID,
		MilestoneID:    r.MilestoneID,
		EscrowID:       r.EscrowID,
		Kind:           entity.PayoutKind(r.Kind),
		IdempotencyKey: r.IdempotencyKey,
		Amount:         r.AmountCents,
		Destination:    r.Destination,
		Status:         entity.PayoutStatus(r.Status),
		Attempts:       r.Attempts,
		NextAttemptAt:  r.NextAttemptAt,
		LastError:      r.LastError,
		ProcessorRef:   r.ProcessorRef,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const workOrderColumns = `id, escrow_id, created_by, assigned_to, work_type, assigned_cents, description,
	status, created_at, responded_at, started_at, completed_at, approved_at, updated_at`

type workOrderRow struct {
	ID            uuid.UUID         `db:"id"`
	EscrowID      uuid.UUID         `db:"escrow_id"`
	CreatedBy     uuid.UUID         `db:"created_by"`
	AssignedTo    uuid.UUID         `db:"assigned_to"`
	WorkType      string            `db:"work_type"`
	AssignedCents valueobject.Money `db:"assigned_cents"`
	Description   string            `db:"description"`
	Status        string            `db:"status"`
	CreatedAt     time.Time         `db:"created_at"`
	RespondedAt   *time.Time        `db:"responded_at"`
	StartedAt     *time.Time        `db:"started_at"`
	CompletedAt   *time.Time        `db:"completed_at"`
	ApprovedAt    *time.Time        `db:"approved_at"`
	UpdatedAt     time.Time         `db:"updated_at"`
}

func (r workOrderRow) toEntity() *entity.WorkOrder {
	return &entity.WorkOrder{
		ID:             r.ID,
		EscrowID:       r.EscrowID,
		CreatedBy:      r.CreatedBy,
		AssignedTo:     r.AssignedTo,
		WorkType:       r.WorkType,
		AssignedAmount: r.AssignedCents,
		Description:    r.Description,
		Status:         valueobject.WorkOrderStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		RespondedAt:    r.RespondedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		ApprovedAt:     r.ApprovedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type planRow struct {
	ID             uuid.UUID         `db:"id"`
	PlanType       string            `db:"plan_type"`
	Tier           string            `db:"tier"`
	Name           string            `db:"name"`
	PriceCents     valueobject.Money `db:"price_cents"`
	Features       pq.StringArray    `db:"features"`
	ProjectFeeRate valueobject.Rate  `db:"project_fee_rate"`
	IsActive       bool              `db:"is_active"`
}

func (r planRow) toEntity() *entity.Plan {
	return &entity.Plan{
		ID:             r.ID,
		PlanType:       r.PlanType,
		Tier:           r.Tier,
		Name:           r.Name,
		Price:          r.PriceCents,
		Features:       []string(r.Features),
		ProjectFeeRate: r.ProjectFeeRate,
		IsActive:       r.IsActive,
	}
}

type subscriptionRow struct {
	ID               uuid.UUID  `db:"id"`
	UserID           uuid.UUID  `db:"user_id"`
	PlanID           uuid.UUID  `db:"plan_id"`
	Status           string     `db:"status"`
	CurrentPeriodEnd *time.Time `db:"current_period_end"`
	CreatedAt        time.Time  `db:"created_at"`
}

type accountRow struct {
	UserID           uuid.UUID `db:"user_id"`
	AccountID        string    `db:"account_id"`
	ChargesEnabled   bool      `db:"charges_enabled"`
	PayoutsEnabled   bool      `db:"payouts_enabled"`
	DetailsSubmitted bool      `db:"details_submitted"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type userRow struct {
	ID               uuid.UUID     `db:"id"`
	Email            string        `db:"email"`
	Role             string        `db:"role"`
	LeadContractorID uuid.NullUUID `db:"lead_contractor_id"`
}

func (r userRow) toRecord() *repository.UserRecord {
	return &repository.UserRecord{
		ID:               r.ID,
		Email:            r.Email,
		Role:             r.Role,
		LeadContractorID: nullUUID(r.LeadContractorID),
	}
}

func nullUUID(v uuid.NullUUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := v.UUID
	return &id
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
