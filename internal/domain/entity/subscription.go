package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

// Ключи возможностей тарифов, которые читает движок.
const (
	FeatureComplexProjects = "escrow.complex_projects"
	FeatureWorkOrders      = "dispatch.work_orders"
)

const (
	PlanTypeClient       = "client"
	PlanTypeProfessional = "professional"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "cancelled"
	SubscriptionStatusExpired  = "expired"
)

type Plan struct {
	ID             uuid.UUID
	PlanType       string
	Tier           string
	Name           string
	Price          valueobject.Money
	Features       []string
	ProjectFeeRate valueobject.Rate
	IsActive       bool
}

func (p *Plan) HasFeature(key string) bool {
	for _, f := range p.Features {
		if f == key {
			return true
		}
	}
	return false
}

type UserSubscription struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	PlanID           uuid.UUID
	Status           string
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
}

// IsActive: active или trialing и период не закончился.
func (s *UserSubscription) IsActive(at time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrialing {
		return false
	}
	return s.CurrentPeriodEnd == nil || at.Before(*s.CurrentPeriodEnd)
}

// ConnectedAccount: счёт получателя выплат у процессора.
type ConnectedAccount struct {
	UserID           uuid.UUID
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	UpdatedAt        time.Time
}
