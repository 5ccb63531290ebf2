package dto

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/usecase/subscription"
)

type PlanResponse struct {
	ID             uuid.UUID         `json:"id"`
	PlanType       string            `json:"plan_type"`
	Tier           string            `json:"tier"`
	Name           string            `json:"name"`
	Price          valueobject.Money `json:"price"`
	Features       []string          `json:"features"`
	ProjectFeeRate valueobject.Rate  `json:"project_fee_rate"`
}

type SubscriptionSummaryResponse struct {
	Plans    []PlanResponse   `json:"plans"`
	Features []string         `json:"features"`
	FeeRate  valueobject.Rate `json:"fee_rate"`
}

func ToSubscriptionSummary(s *subscription.Summary) SubscriptionSummaryResponse {
	resp := SubscriptionSummaryResponse{
		Plans:    make([]PlanResponse, 0, len(s.Plans)),
		Features: s.Features,
		FeeRate:  s.FeeRate,
	}
	if resp.Features == nil {
		resp.Features = []string{}
	}
	for _, p := range s.Plans {
		features := p.Features
		if features == nil {
			features = []string{}
		}
		resp.Plans = append(resp.Plans, PlanResponse{
			ID:             p.ID,
			PlanType:       p.PlanType,
			Tier:           p.Tier,
			Name:           p.Name,
			Price:          p.Price,
			Features:       features,
			ProjectFeeRate: p.ProjectFeeRate,
		})
	}
	return resp
}
