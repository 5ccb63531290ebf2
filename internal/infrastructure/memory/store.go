// Package memory: хранилище в памяти с теми же гарантиями, что и Postgres:
// блокировка escrow на время перехода, фиксация или откат всех записей сразу,
// уникальность журнала, ключей выплат и событий процессора.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

type Store struct {
	mu         sync.Mutex
	escrows    map[uuid.UUID]*entity.Escrow
	txs        []*entity.Transaction
	payouts    map[string]*entity.PayoutJob
	events     map[string]string
	workOrders map[uuid.UUID]*entity.WorkOrder
	accounts   map[uuid.UUID]*entity.ConnectedAccount
	plans      []*entity.Plan
	subs       map[uuid.UUID][]*entity.UserSubscription
	users      map[uuid.UUID]*repository.UserRecord

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex
}

// Репозитории поверх общего Store.
type (
	Escrows       struct{ s *Store }
	Payouts       struct{ s *Store }
	Subscriptions struct{ s *Store }
	Accounts      struct{ s *Store }
	Users         struct{ s *Store }
	WorkOrders    struct{ s *Store }
)

var (
	_ repository.EscrowRepository       = Escrows{}
	_ repository.PayoutRepository       = Payouts{}
	_ repository.SubscriptionRepository = Subscriptions{}
	_ repository.AccountRepository      = Accounts{}
	_ repository.UserRepository         = Users{}
	_ repository.WorkOrderRepository    = WorkOrders{}
)

func (s *Store) Escrows() Escrows             { return Escrows{s} }
func (s *Store) Payouts() Payouts             { return Payouts{s} }
func (s *Store) Subscriptions() Subscriptions { return Subscriptions{s} }
func (s *Store) Accounts() Accounts           { return Accounts{s} }
func (s *Store) Users() Users                 { return Users{s} }
func (s *Store) WorkOrders() WorkOrders       { return WorkOrders{s} }

func NewStore() *Store {
	return &Store{
		escrows:    make(map[uuid.UUID]*entity.Escrow),
		payouts:    make(map[string]*entity.PayoutJob),
		events:     make(map[string]string),
		workOrders: make(map[uuid.UUID]*entity.WorkOrder),
		accounts:   make(map[uuid.UUID]*entity.ConnectedAccount),
		subs:       make(map[uuid.UUID][]*entity.UserSubscription),
		users:      make(map[uuid.UUID]*repository.UserRecord),
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ---- escrow ----

func (r Escrows) Create(_ context.Context, e *entity.Escrow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.escrows[e.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.escrows[e.ID] = e.Clone()
	return nil
}

func (r Escrows) FindByID(_ context.Context, id uuid.UUID) (*entity.Escrow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.escrows[id]
	if !ok {
		return nil, apperror.ErrEscrowNotFound
	}
	return e.Clone(), nil
}

func (r Escrows) FindEscrowIDByMilestone(_ context.Context, milestoneID uuid.UUID) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.escrows {
		if _, ok := e.Milestone(milestoneID); ok {
			return e.ID, nil
		}
	}
	return uuid.Nil, apperror.ErrMilestoneNotFound
}

func (r Escrows) FindEscrowIDByIntent(_ context.Context, intentID string) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.escrows {
		for _, m := range e.Milestones {
			if m.IntentID != nil && *m.IntentID == intentID {
				return e.ID, nil
			}
		}
	}
	return uuid.Nil, apperror.ErrMilestoneNotFound
}

func (r Escrows) ListTransactions(_ context.Context, escrowID uuid.UUID) ([]*entity.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Transaction
	for _, t := range r.s.txs {
		if t.EscrowID == escrowID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r Escrows) ListDueMilestones(_ context.Context, now time.Time, limit int) ([]*entity.Milestone, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Milestone
	for _, e := range r.s.escrows {
		for _, m := range e.Milestones {
			if m.IsDue(now) {
				out = append(out, m.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldUntil.Before(*out[j].HoldUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r Escrows) WithEscrowLock(ctx context.Context, escrowID uuid.UUID, fn func(tx repository.EscrowTx) error) error {
	l := r.s.lockFor(escrowID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	e, ok := r.s.escrows[escrowID]
	var snapshot *entity.Escrow
	if ok {
		snapshot = e.Clone()
	}
	r.s.mu.Unlock()
	if !ok {
		return apperror.ErrEscrowNotFound
	}

	tx := &escrowTx{
		store:   r.s,
		escrow:  snapshot,
		payouts:    make(map[string]*entity.PayoutJob),
		events:     make(map[string]string),
		workOrders: make(map[uuid.UUID]*entity.WorkOrder),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type escrowTx struct {
	store      *Store
	escrow     *entity.Escrow
	txs        []*entity.Transaction
	payouts    map[string]*entity.PayoutJob
	events     map[string]string
	workOrders map[uuid.UUID]*entity.WorkOrder
	deleted    bool
}

func (t *escrowTx) Escrow() *entity.Escrow { return t.escrow }

func (t *escrowTx) SaveEscrow(context.Context) error { return nil }

func (t *escrowTx) SaveMilestone(_ context.Context, m *entity.Milestone) error {
	if _, ok := t.escrow.Milestone(m.ID); !ok {
		return apperror.ErrMilestoneNotFound
	}
	return nil
}

func conflicts(a, b *entity.Transaction) bool {
	if a.MilestoneID != b.MilestoneID {
		return false
	}
	if a.Kind == b.Kind {
		return true
	}
	payout := func(k valueobject.TransactionKind) bool {
		return k == valueobject.TransactionKindRelease || k == valueobject.TransactionKindRefund
	}
	return payout(a.Kind) && payout(b.Kind)
}

func (t *escrowTx) AppendTransaction(_ context.Context, tr *entity.Transaction) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, existing := range append(append([]*entity.Transaction(nil), t.store.txs...), t.txs...) {
		if conflicts(existing, tr) {
			return repository.ErrDuplicate
		}
	}
	c := *tr
	t.txs = append(t.txs, &c)
	return nil
}

func (t *escrowTx) CreatePayout(_ context.Context, job *entity.PayoutJob) error {
	t.store.mu.Lock()
	_, committed := t.store.payouts[job.IdempotencyKey]
	t.store.mu.Unlock()
	if _, staged := t.payouts[job.IdempotencyKey]; committed || staged {
		return repository.ErrDuplicate
	}
	c := *job
	t.payouts[job.IdempotencyKey] = &c
	return nil
}

func (t *escrowTx) SavePayout(_ context.Context, job *entity.PayoutJob) error {
	c := *job
	t.payouts[job.IdempotencyKey] = &c
	return nil
}

func (t *escrowTx) FindPayout(_ context.Context, key string) (*entity.PayoutJob, error) {
	if j, ok := t.payouts[key]; ok {
		c := *j
		return &c, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if j, ok := t.store.payouts[key]; ok {
		c := *j
		return &c, nil
	}
	return nil, apperror.ErrPayoutNotFound
}

func (t *escrowTx) MarkEventProcessed(_ context.Context, eventID, kind string) (bool, error) {
	if _, ok := t.events[eventID]; ok {
		return false, nil
	}
	t.store.mu.Lock()
	_, seen := t.store.events[eventID]
	t.store.mu.Unlock()
	if seen {
		return false, nil
	}
	t.events[eventID] = kind
	return true, nil
}

func (t *escrowTx) CreateWorkOrder(ctx context.Context, wo *entity.WorkOrder) error {
	if wo.EscrowID != t.escrow.ID {
		return apperror.ErrWorkOrderNotFound
	}
	if _, err := t.FindWorkOrder(ctx, wo.ID); err == nil {
		return repository.ErrDuplicate
	}
	c := *wo
	t.workOrders[wo.ID] = &c
	return nil
}

func (t *escrowTx) FindWorkOrder(_ context.Context, id uuid.UUID) (*entity.WorkOrder, error) {
	if wo, ok := t.workOrders[id]; ok {
		c := *wo
		return &c, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	wo, ok := t.store.workOrders[id]
	if !ok || wo.EscrowID != t.escrow.ID {
		return nil, apperror.ErrWorkOrderNotFound
	}
	c := *wo
	return &c, nil
}

func (t *escrowTx) SaveWorkOrder(ctx context.Context, wo *entity.WorkOrder) error {
	if _, err := t.FindWorkOrder(ctx, wo.ID); err != nil {
		return err
	}
	c := *wo
	t.workOrders[wo.ID] = &c
	return nil
}

func (t *escrowTx) IsAssignee(_ context.Context, userID uuid.UUID) (bool, error) {
	for _, wo := range t.workOrders {
		if wo.AssignedTo == userID {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, wo := range t.store.workOrders {
		if wo.EscrowID == t.escrow.ID && wo.AssignedTo == userID {
			return true, nil
		}
	}
	return false, nil
}

func (t *escrowTx) Delete(context.Context) error {
	t.deleted = true
	return nil
}

func (t *escrowTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.escrow.ID
	if t.deleted {
		delete(s.escrows, id)
		kept := s.txs[:0]
		for _, tr := range s.txs {
			if tr.EscrowID != id {
				kept = append(kept, tr)
			}
		}
		s.txs = kept
		for woID, wo := range s.workOrders {
			if wo.EscrowID == id {
				delete(s.workOrders, woID)
			}
		}
		for key, j := range s.payouts {
			if j.EscrowID == id {
				delete(s.payouts, key)
			}
		}
		return
	}

	s.escrows[id] = t.escrow.Clone()
	s.txs = append(s.txs, t.txs...)
	for key, j := range t.payouts {
		s.payouts[key] = j
	}
	for eventID, kind := range t.events {
		s.events[eventID] = kind
	}
	for id, wo := range t.workOrders {
		s.workOrders[id] = wo
	}
}

// ---- payouts ----

func (r Payouts) ListDue(_ context.Context, now time.Time, limit int) ([]*entity.PayoutJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.PayoutJob
	for _, j := range r.s.payouts {
		if j.IsPending() && !j.NextAttemptAt.After(now) {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r Payouts) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]*entity.PayoutJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.PayoutJob
	for _, j := range r.s.payouts {
		if j.EscrowID == escrowID {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- subscriptions, accounts, users ----

func (r Subscriptions) ListPlans(context.Context) ([]*entity.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*entity.Plan(nil), r.s.plans...), nil
}

func (r Subscriptions) ListByUser(_ context.Context, userID uuid.UUID) ([]*entity.UserSubscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]*entity.UserSubscription(nil), r.s.subs[userID]...), nil
}

func (s *Store) AddPlan(p *entity.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, p)
}

func (s *Store) Subscribe(userID uuid.UUID, plan *entity.Plan, status string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[userID] = append(s.subs[userID], &entity.UserSubscription{
		ID: uuid.New(), UserID: userID, PlanID: plan.ID, Status: status, CreatedAt: at,
	})
}

func (r Accounts) FindByUser(_ context.Context, userID uuid.UUID) (*entity.ConnectedAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[userID]
	if !ok {
		return nil, apperror.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (r Accounts) Save(_ context.Context, account *entity.ConnectedAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *account
	r.s.accounts[account.UserID] = &c
	return nil
}

func (r Accounts) ApplyUpdate(_ context.Context, eventID string, update *entity.ConnectedAccount) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, seen := r.s.events[eventID]; seen {
		return false, nil
	}
	r.s.events[eventID] = "account.updated"
	for _, a := range r.s.accounts {
		if a.AccountID == update.AccountID {
			a.ChargesEnabled = update.ChargesEnabled
			a.PayoutsEnabled = update.PayoutsEnabled
			a.DetailsSubmitted = update.DetailsSubmitted
			a.UpdatedAt = update.UpdatedAt
			return true, nil
		}
	}
	return false, nil
}

// FindByID читает профиль; таблица users ведётся внешним сервисом профилей.
func (r Users) FindByID(_ context.Context, id uuid.UUID) (*repository.UserRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *Store) AddUser(u repository.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// ---- work orders ----

func (r WorkOrders) Create(_ context.Context, wo *entity.WorkOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.escrows[wo.EscrowID]; !ok {
		return apperror.ErrEscrowNotFound
	}
	c := *wo
	r.s.workOrders[wo.ID] = &c
	return nil
}

func (r WorkOrders) Update(_ context.Context, wo *entity.WorkOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.workOrders[wo.ID]; !ok {
		return apperror.ErrWorkOrderNotFound
	}
	c := *wo
	r.s.workOrders[wo.ID] = &c
	return nil
}

func (r WorkOrders) FindByID(_ context.Context, id uuid.UUID) (*entity.WorkOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wo, ok := r.s.workOrders[id]
	if !ok {
		return nil, apperror.ErrWorkOrderNotFound
	}
	c := *wo
	return &c, nil
}

func (r WorkOrders) list(match func(*entity.WorkOrder) bool) []*entity.WorkOrder {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.WorkOrder
	for _, wo := range r.s.workOrders {
		if match(wo) {
			c := *wo
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r WorkOrders) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]*entity.WorkOrder, error) {
	return r.list(func(wo *entity.WorkOrder) bool { return wo.EscrowID == escrowID }), nil
}

func (r WorkOrders) ListByAssignee(_ context.Context, userID uuid.UUID) ([]*entity.WorkOrder, error) {
	return r.list(func(wo *entity.WorkOrder) bool { return wo.AssignedTo == userID }), nil
}

func (r WorkOrders) IsAssignee(_ context.Context, escrowID, userID uuid.UUID) (bool, error) {
	return len(r.list(func(wo *entity.WorkOrder) bool {
		return wo.EscrowID == escrowID && wo.AssignedTo == userID
	})) > 0, nil
}
