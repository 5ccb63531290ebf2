package valueobject

import "github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"

type ProjectType string

const (
	ProjectTypeSimple      ProjectType = "simple"
	ProjectTypeInstallment ProjectType = "installment"
	ProjectTypeComplex     ProjectType = "complex"
)

func NewProjectType(s string) (ProjectType, error) {
	switch t := ProjectType(s); t {
	case ProjectTypeSimple, ProjectTypeInstallment, ProjectTypeComplex:
		return t, nil
	}
	return "", apperror.Validation("project_type", "некорректный тип проекта")
}

type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "pending"
	MilestoneStatusPaid      MilestoneStatus = "paid"
	MilestoneStatusHeld      MilestoneStatus = "held"
	MilestoneStatusCompleted MilestoneStatus = "completed"
	MilestoneStatusApproved  MilestoneStatus = "approved"
	MilestoneStatusReleased  MilestoneStatus = "released"
	MilestoneStatusRefunded  MilestoneStatus = "refunded"
	MilestoneStatusDisputed  MilestoneStatus = "disputed"
)

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestoneStatusPending:   {MilestoneStatusPaid},
	MilestoneStatusPaid:      {MilestoneStatusHeld, MilestoneStatusPending},
	MilestoneStatusHeld:      {MilestoneStatusCompleted, MilestoneStatusReleased, MilestoneStatusDisputed},
	MilestoneStatusCompleted: {MilestoneStatusReleased, MilestoneStatusDisputed},
	MilestoneStatusApproved:  {MilestoneStatusReleased},
	MilestoneStatusDisputed:  {MilestoneStatusReleased, MilestoneStatusRefunded},
	MilestoneStatusReleased:  {},
	MilestoneStatusRefunded:  {},
}

func (s MilestoneStatus) IsValid() bool {
	_, ok := milestoneTransitions[s]
	return ok
}

func (s MilestoneStatus) CanTransitionTo(next MilestoneStatus) bool {
	for _, allowed := range milestoneTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal: из released и refunded выхода нет.
func (s MilestoneStatus) IsTerminal() bool {
	return s == MilestoneStatusReleased || s == MilestoneStatusRefunded
}

// IsFunded: средства клиента находятся у процессора и не выплачены.
func (s MilestoneStatus) IsFunded() bool {
	switch s {
	case MilestoneStatusHeld, MilestoneStatusCompleted, MilestoneStatusApproved, MilestoneStatusDisputed:
		return true
	}
	return false
}

type EscrowStatus string

const (
	EscrowStatusPending         EscrowStatus = "pending"
	EscrowStatusFunded          EscrowStatus = "funded"
	EscrowStatusInProgress      EscrowStatus = "in_progress"
	EscrowStatusPendingApproval EscrowStatus = "pending_approval"
	EscrowStatusReleased        EscrowStatus = "released"
	EscrowStatusDisputed        EscrowStatus = "disputed"
	EscrowStatusRefunded        EscrowStatus = "refunded"
	EscrowStatusCancelled       EscrowStatus = "cancelled"
)

type WorkOrderStatus string

const (
	WorkOrderStatusPending    WorkOrderStatus = "pending"
	WorkOrderStatusAccepted   WorkOrderStatus = "accepted"
	WorkOrderStatusRejected   WorkOrderStatus = "rejected"
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress"
	WorkOrderStatusCompleted  WorkOrderStatus = "completed"
	WorkOrderStatusApproved   WorkOrderStatus = "approved"
)

func (s WorkOrderStatus) CanTransitionTo(next WorkOrderStatus) bool {
	transitions := map[WorkOrderStatus][]WorkOrderStatus{
		WorkOrderStatusPending:    {WorkOrderStatusAccepted, WorkOrderStatusRejected},
		WorkOrderStatusAccepted:   {WorkOrderStatusInProgress, WorkOrderStatusCompleted},
		WorkOrderStatusInProgress: {WorkOrderStatusCompleted},
		WorkOrderStatusCompleted:  {WorkOrderStatusApproved},
		WorkOrderStatusRejected:   {},
		WorkOrderStatusApproved:   {},
	}

	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsEngaged: исполнитель принял наряд и работает по нему.
func (s WorkOrderStatus) IsEngaged() bool {
	switch s {
	case WorkOrderStatusAccepted, WorkOrderStatusInProgress, WorkOrderStatusCompleted, WorkOrderStatusApproved:
		return true
	}
	return false
}

type TransactionKind string

const (
	TransactionKindDeposit TransactionKind = "deposit"
	TransactionKindRelease TransactionKind = "release"
	TransactionKindRefund  TransactionKind = "refund"
	TransactionKindFee     TransactionKind = "fee"
)
