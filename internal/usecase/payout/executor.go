package payout

import (
	"context"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
)

// Executor выполняет исходящую операцию задачи через процессор.
// Ключ идемпотентности задачи гарантирует, что повтор не двигает деньги дважды.
type Executor struct {
	gw gateway.Processor
}

func NewExecutor(gw gateway.Processor) *Executor {
	return &Executor{gw: gw}
}

// Call возвращает ссылку процессора (transfer или refund id).
func (x *Executor) Call(ctx context.Context, job *entity.PayoutJob) (string, error) {
	meta := map[string]string{
		"escrow_id":    job.EscrowID.String(),
		"milestone_id": job.MilestoneID.String(),
		"kind":         string(job.Kind),
	}

	switch job.Kind {
	case entity.PayoutKindRefund:
		return x.gw.Refund(ctx, job.Destination, job.Amount, job.IdempotencyKey, meta)
	default:
		return x.gw.Transfer(ctx, job.Amount, job.Destination, job.IdempotencyKey, meta)
	}
}
