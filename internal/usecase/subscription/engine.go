package subscription

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/service"
)

const plansKey = "plans:all"

// Engine отвечает на два вопроса: какие возможности у пользователя и какую ставку
// комиссии зафиксировать при оплате этапа.
type Engine struct {
	repo        repository.SubscriptionRepository
	plans       *service.Cache[map[uuid.UUID]*entity.Plan]
	subs        *service.Cache[[]*entity.UserSubscription]
	defaultRate valueobject.Rate
	ttl         time.Duration
	nowFn       func() time.Time
}

func NewEngine(repo repository.SubscriptionRepository, defaultRate valueobject.Rate, ttl time.Duration) *Engine {
	return &Engine{
		repo:        repo,
		plans:       service.NewCache[map[uuid.UUID]*entity.Plan](),
		subs:        service.NewCache[[]*entity.UserSubscription](),
		defaultRate: defaultRate,
		ttl:         ttl,
		nowFn:       time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	e.nowFn = nowFn
	return e
}

// Summary: ответ для /subscriptions/me.
type Summary struct {
	Plans    []*entity.Plan
	Features []string
	FeeRate  valueobject.Rate
}

// loadPlans читает тарифы из кэша. fresh: мимо кэша, с обновлением записи.
func (e *Engine) loadPlans(ctx context.Context, fresh bool) (map[uuid.UUID]*entity.Plan, error) {
	load := func(ctx context.Context) (map[uuid.UUID]*entity.Plan, error) {
		list, err := e.repo.ListPlans(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[uuid.UUID]*entity.Plan, len(list))
		for _, p := range list {
			out[p.ID] = p
		}
		return out, nil
	}
	if !fresh {
		return e.plans.GetOrSet(ctx, plansKey, e.ttl, load)
	}
	plans, err := load(ctx)
	if err != nil {
		return nil, err
	}
	e.plans.Set(plansKey, plans, e.ttl)
	return plans, nil
}

func (e *Engine) loadSubscriptions(ctx context.Context, userID uuid.UUID, fresh bool) ([]*entity.UserSubscription, error) {
	key := "subs:" + userID.String()
	if !fresh {
		return e.subs.GetOrSet(ctx, key, e.ttl, func(ctx context.Context) ([]*entity.UserSubscription, error) {
			return e.repo.ListByUser(ctx, userID)
		})
	}
	subs, err := e.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.subs.Set(key, subs, e.ttl)
	return subs, nil
}

// ActivePlans возвращает тарифы активных подписок пользователя на момент at.
func (e *Engine) ActivePlans(ctx context.Context, userID uuid.UUID, at time.Time) ([]*entity.Plan, error) {
	return e.activePlans(ctx, userID, at, false)
}

func (e *Engine) activePlans(ctx context.Context, userID uuid.UUID, at time.Time, fresh bool) ([]*entity.Plan, error) {
	plans, err := e.loadPlans(ctx, fresh)
	if err != nil {
		return nil, err
	}
	subs, err := e.loadSubscriptions(ctx, userID, fresh)
	if err != nil {
		return nil, err
	}

	var out []*entity.Plan
	for _, s := range subs {
		if !s.IsActive(at) {
			continue
		}
		if p, ok := plans[s.PlanID]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// Features: объединение ключей активных тарифов.
func (e *Engine) Features(ctx context.Context, userID uuid.UUID, at time.Time) (map[string]struct{}, error) {
	plans, err := e.ActivePlans(ctx, userID, at)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, p := range plans {
		for _, f := range p.Features {
			set[f] = struct{}{}
		}
	}
	return set, nil
}

func (e *Engine) HasFeature(ctx context.Context, userID uuid.UUID, key string) (bool, error) {
	plans, err := e.ActivePlans(ctx, userID, e.nowFn())
	if err != nil {
		return false, err
	}
	for _, p := range plans {
		if p.HasFeature(key) {
			return true, nil
		}
	}
	return false, nil
}

// FeeRateFor возвращает ставку комиссии плательщика. Без активного тарифа берётся
// ставка по умолчанию, при нескольких тарифах наименьшая. Ставка фиксируется в
// этапе навсегда, поэтому подписки и тарифы читаются из хранилища, а не из кэша.
func (e *Engine) FeeRateFor(ctx context.Context, userID uuid.UUID, at time.Time) (valueobject.Rate, error) {
	plans, err := e.activePlans(ctx, userID, at, true)
	if err != nil {
		return valueobject.Rate{}, err
	}
	return e.lowestRate(plans), nil
}

func (e *Engine) lowestRate(plans []*entity.Plan) valueobject.Rate {
	if len(plans) == 0 {
		return e.defaultRate
	}
	rate := plans[0].ProjectFeeRate
	for _, p := range plans[1:] {
		if p.ProjectFeeRate.LessThan(rate) {
			rate = p.ProjectFeeRate
		}
	}
	return rate
}

// Summary собирается из кэша: ставка в ответе справочная, в этап она не попадает.
func (e *Engine) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	plans, err := e.ActivePlans(ctx, userID, e.nowFn())
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, p := range plans {
		for _, f := range p.Features {
			set[f] = struct{}{}
		}
	}
	features := make([]string, 0, len(set))
	for f := range set {
		features = append(features, f)
	}
	sort.Strings(features)

	return &Summary{Plans: plans, Features: features, FeeRate: e.lowestRate(plans)}, nil
}

// Invalidate сбрасывает кэш подписок пользователя.
func (e *Engine) Invalidate(userID uuid.UUID) {
	e.subs.Delete("subs:" + userID.String())
}

// InvalidatePlans сбрасывает кэш тарифов.
func (e *Engine) InvalidatePlans() {
	e.plans.Delete(plansKey)
}
