package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/escrow"
)

// Суммы приходят строкой "100.00"; числа Money отвергает сам.
type CreateEscrowRequest struct {
	ProfessionalID uuid.UUID          `json:"professional_id" binding:"required"`
	SpecialistID   *uuid.UUID         `json:"specialist_id"`
	Title          string             `json:"title" binding:"required,max=200"`
	Description    string             `json:"description" binding:"max=5000"`
	ProjectType    string             `json:"project_type" binding:"required,oneof=simple installment complex"`
	Amount         valueobject.Money  `json:"amount"`
	Milestones     []MilestoneRequest `json:"milestones" binding:"omitempty,max=50,dive"`
}

type MilestoneRequest struct {
	Title  string            `json:"title" binding:"max=200"`
	Amount valueobject.Money `json:"amount"`
}

func (r CreateEscrowRequest) ToInput() escrow.CreateInput {
	specs := make([]entity.MilestoneSpec, 0, len(r.Milestones))
	for _, m := range r.Milestones {
		specs = append(specs, entity.MilestoneSpec{Title: m.Title, Amount: m.Amount})
	}
	return escrow.CreateInput{
		ProfessionalID: r.ProfessionalID,
		SpecialistID:   r.SpecialistID,
		Title:          r.Title,
		Description:    r.Description,
		ProjectType:    r.ProjectType,
		Amount:         r.Amount,
		Milestones:     specs,
	}
}

type ApproveEscrowRequest struct {
	Action string `json:"action" binding:"required,oneof=approve dispute"`
	Reason string `json:"reason" binding:"max=2000"`
}

type DisputeRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

type ResolveRequest struct {
	Action string `json:"action" binding:"required,oneof=release refund"`
}

type EscrowResponse struct {
	ID                uuid.UUID           `json:"id"`
	ClientID          uuid.UUID           `json:"client_id"`
	ProfessionalID    uuid.UUID           `json:"professional_id"`
	SpecialistID      *uuid.UUID          `json:"specialist_id"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	ProjectType       string              `json:"project_type"`
	TotalAmount       valueobject.Money   `json:"total_amount"`
	Status            string              `json:"status"`
	DisputeReason     *string             `json:"dispute_reason"`
	CreatedAt         time.Time           `json:"created_at"`
	FundedAt          *time.Time          `json:"funded_at"`
	InProgressAt      *time.Time          `json:"in_progress_at"`
	PendingApprovalAt *time.Time          `json:"pending_approval_at"`
	ReleasedAt        *time.Time          `json:"released_at"`
	DisputedAt        *time.Time          `json:"disputed_at"`
	RefundedAt        *time.Time          `json:"refunded_at"`
	CancelledAt       *time.Time          `json:"cancelled_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Milestones        []MilestoneResponse `json:"milestones"`
}

type MilestoneResponse struct {
	ID             uuid.UUID         `json:"id"`
	Position       int               `json:"position"`
	Title          string            `json:"title"`
	Amount         valueobject.Money `json:"amount"`
	FeeRate        *valueobject.Rate `json:"fee_rate"`
	PlatformFee    valueobject.Money `json:"platform_fee"`
	NetAmount      valueobject.Money `json:"net_amount"`
	Status         string            `json:"status"`
	DisputeReason  *string           `json:"dispute_reason"`
	ReleaseTrigger *string           `json:"release_trigger"`
	PaidAt         *time.Time        `json:"paid_at"`
	HoldUntil      *time.Time        `json:"hold_until"`
	CompletedAt    *time.Time        `json:"completed_at"`
	ApprovedAt     *time.Time        `json:"approved_at"`
	ReleasedAt     *time.Time        `json:"released_at"`
	RefundedAt     *time.Time        `json:"refunded_at"`
	DisputedAt     *time.Time        `json:"disputed_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// client_secret в представление этапа не попадает: его отдаёт только fund.
func ToMilestoneResponse(m *entity.Milestone) MilestoneResponse {
	return MilestoneResponse{
		ID:             m.ID,
		Position:       m.Position,
		Title:          m.Title,
		Amount:         m.Amount,
		FeeRate:        m.FeeRate,
		PlatformFee:    m.PlatformFee,
		NetAmount:      m.NetAmount,
		Status:         string(m.Status),
		DisputeReason:  m.DisputeReason,
		ReleaseTrigger: m.ReleaseTrigger,
		PaidAt:         m.PaidAt,
		HoldUntil:      m.HoldUntil,
		CompletedAt:    m.CompletedAt,
		ApprovedAt:     m.ApprovedAt,
		ReleasedAt:     m.ReleasedAt,
		RefundedAt:     m.RefundedAt,
		DisputedAt:     m.DisputedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func ToEscrowResponse(e *entity.Escrow) EscrowResponse {
	resp := EscrowResponse{
		ID:                e.ID,
		ClientID:          e.ClientID,
		ProfessionalID:    e.ProfessionalID,
		SpecialistID:      e.SpecialistID,
		Title:             e.Title,
		Description:       e.Description,
		ProjectType:       string(e.ProjectType),
		TotalAmount:       e.TotalAmount,
		Status:            string(e.Status),
		DisputeReason:     e.DisputeReason,
		CreatedAt:         e.CreatedAt,
		FundedAt:          e.FundedAt,
		InProgressAt:      e.InProgressAt,
		PendingApprovalAt: e.PendingApprovalAt,
		ReleasedAt:        e.ReleasedAt,
		DisputedAt:        e.DisputedAt,
		RefundedAt:        e.RefundedAt,
		CancelledAt:       e.CancelledAt,
		UpdatedAt:         e.UpdatedAt,
		Milestones:        make([]MilestoneResponse, 0, len(e.Milestones)),
	}
	for _, m := range e.Milestones {
		resp.Milestones = append(resp.Milestones, ToMilestoneResponse(m))
	}
	return resp
}

type TransactionResponse struct {
	ID           uuid.UUID         `json:"id"`
	MilestoneID  uuid.UUID         `json:"milestone_id"`
	Kind         string            `json:"kind"`
	Amount       valueobject.Money `json:"amount"`
	ProcessorRef *string           `json:"processor_ref"`
	CreatedAt    time.Time         `json:"created_at"`
}

type PayoutResponse struct {
	ID            uuid.UUID         `json:"id"`
	MilestoneID   uuid.UUID         `json:"milestone_id"`
	Kind          string            `json:"kind"`
	Amount        valueobject.Money `json:"amount"`
	Status        string            `json:"status"`
	Attempts      int               `json:"attempts"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	LastError     *string           `json:"last_error"`
	ProcessorRef  *string           `json:"processor_ref"`
}

func ToPayoutResponse(j *entity.PayoutJob) *PayoutResponse {
	if j == nil {
		return nil
	}
	resp := &PayoutResponse{
		ID:           j.ID,
		MilestoneID:  j.MilestoneID,
		Kind:         string(j.Kind),
		Amount:       j.Amount,
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		LastError:    j.LastError,
		ProcessorRef: j.ProcessorRef,
	}
	if j.IsPending() {
		next := j.NextAttemptAt
		resp.NextAttemptAt = &next
	}
	return resp
}

type LedgerResponse struct {
	Deposits valueobject.Money `json:"deposits"`
	Releases valueobject.Money `json:"releases"`
	Fees     valueobject.Money `json:"fees"`
	Refunds  valueobject.Money `json:"refunds"`
	Held     valueobject.Money `json:"held"`
}

type EscrowDetailsResponse struct {
	EscrowResponse
	WorkStatus   string                `json:"work_status"`
	Ledger       LedgerResponse        `json:"ledger"`
	Transactions []TransactionResponse `json:"transactions"`
	Payouts      []PayoutResponse      `json:"payouts"`
	WorkOrders   []WorkOrderResponse   `json:"work_orders"`
}

func ToEscrowDetailsResponse(d *escrow.Details) EscrowDetailsResponse {
	resp := EscrowDetailsResponse{
		EscrowResponse: ToEscrowResponse(d.Escrow),
		WorkStatus:     d.WorkStatus,
		Ledger: LedgerResponse{
			Deposits: d.Ledger.Deposits,
			Releases: d.Ledger.Releases,
			Fees:     d.Ledger.Fees,
			Refunds:  d.Ledger.Refunds,
			Held:     d.Held,
		},
		Transactions: make([]TransactionResponse, 0, len(d.Transactions)),
		Payouts:      make([]PayoutResponse, 0, len(d.Payouts)),
		WorkOrders:   ToWorkOrderResponses(d.WorkOrders),
	}
	for _, t := range d.Transactions {
		resp.Transactions = append(resp.Transactions, TransactionResponse{
			ID:           t.ID,
			MilestoneID:  t.MilestoneID,
			Kind:         string(t.Kind),
			Amount:       t.Amount,
			ProcessorRef: t.ProcessorRef,
			CreatedAt:    t.CreatedAt,
		})
	}
	for _, j := range d.Payouts {
		resp.Payouts = append(resp.Payouts, *ToPayoutResponse(j))
	}
	return resp
}

type FundResponse struct {
	EscrowID     uuid.UUID         `json:"escrow_id"`
	MilestoneID  uuid.UUID         `json:"milestone_id"`
	IntentID     string            `json:"intent_id"`
	ClientSecret string            `json:"client_secret"`
	Amount       valueobject.Money `json:"amount"`
	PlatformFee  valueobject.Money `json:"platform_fee"`
	NetAmount    valueobject.Money `json:"net_amount"`
	Reused       bool              `json:"reused"`
}

func ToFundResponse(r *escrow.FundResult) FundResponse {
	return FundResponse{
		EscrowID:     r.EscrowID,
		MilestoneID:  r.MilestoneID,
		IntentID:     r.IntentID,
		ClientSecret: r.ClientSecret,
		Amount:       r.Amount,
		PlatformFee:  r.PlatformFee,
		NetAmount:    r.NetAmount,
		Reused:       r.Reused,
	}
}

// SettlementResponse: payout.status=pending значит, что выплата
// зафиксирована и будет доведена фоновым воркером.
type SettlementResponse struct {
	Milestone    MilestoneResponse `json:"milestone"`
	EscrowStatus string            `json:"escrow_status"`
	Payout       *PayoutResponse   `json:"payout,omitempty"`
}

func ToSettlementResponse(s *escrow.Settlement) SettlementResponse {
	return SettlementResponse{
		Milestone:    ToMilestoneResponse(s.Milestone),
		EscrowStatus: string(s.EscrowStatus),
		Payout:       ToPayoutResponse(s.Payout),
	}
}
