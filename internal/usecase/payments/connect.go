// Package payments: подключение счёта выплат подрядчика у процессора.
package payments

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/homepro-escrow/internal/domain/entity"
	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/gateway"
	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

type Config struct {
	ReturnURL  string
	RefreshURL string
}

type Onboarding struct {
	accounts repository.AccountRepository
	gw       gateway.Processor
	cfg      Config
	log      logrus.FieldLogger
	nowFn    func() time.Time
}

func NewOnboarding(accounts repository.AccountRepository, gw gateway.Processor, cfg Config, log logrus.FieldLogger) *Onboarding {
	return &Onboarding{accounts: accounts, gw: gw, cfg: cfg, log: log, nowFn: time.Now}
}

func (o *Onboarding) WithClock(nowFn func() time.Time) *Onboarding {
	o.nowFn = nowFn
	return o
}

// Link: результат подключения: счёт и ссылка на анкету процессора.
type Link struct {
	AccountID      string `json:"account_id"`
	OnboardingURL  string `json:"onboarding_url"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// Connect создаёт счёт при первом обращении и всегда выдаёт свежую ссылку.
// Флаги счёта меняет только событие account.updated.
func (o *Onboarding) Connect(ctx context.Context, actor entity.Actor) (*Link, error) {
	pro, ok := actor.(entity.Professional)
	if !ok {
		return nil, apperror.New(apperror.ErrCodeForbidden, "счёт выплат подключает только подрядчик")
	}

	account, err := o.accounts.FindByUser(ctx, pro.ID())
	if err != nil && !apperror.IsNotFound(err) {
		return nil, err
	}
	if account == nil {
		accountID, err := o.gw.CreateConnectedAccount(ctx, pro.ID(), pro.Email)
		if err != nil {
			return nil, gatewayError(err)
		}
		account = &entity.ConnectedAccount{
			UserID:    pro.ID(),
			AccountID: accountID,
			UpdatedAt: o.nowFn(),
		}
		if err := o.accounts.Save(ctx, account); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить счёт выплат")
		}
		o.log.WithFields(logrus.Fields{
			"user_id":    pro.ID(),
			"account_id": accountID,
		}).Info("Создан счёт выплат")
	}

	url, err := o.gw.OnboardingLink(ctx, account.AccountID, o.cfg.ReturnURL, o.cfg.RefreshURL)
	if err != nil {
		return nil, gatewayError(err)
	}
	return &Link{
		AccountID:      account.AccountID,
		OnboardingURL:  url,
		PayoutsEnabled: account.PayoutsEnabled,
	}, nil
}

func gatewayError(err error) error {
	if gateway.IsTransient(err) {
		return apperror.GatewayTransient(err, "платёжный процессор временно недоступен")
	}
	return apperror.GatewayFatal(err, "платёжный процессор отклонил операцию")
}
