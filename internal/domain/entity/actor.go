package entity

import (
	"github.com/google/uuid"

	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// Роли, которые приходят в access токене и в таблице users.
const (
	RoleClient     = "client"
	RoleContractor = "contractor"
	RoleSpecialist = "specialist"
	RoleCrew       = "crew"
	RoleAdmin      = "admin"
)

// Identity: общие поля любого участника.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

// Actor: закрытая сумма типов: Client | Professional | Specialist | Crew | Admin.
type Actor interface {
	ID() uuid.UUID
	Role() string
	actor()
}

type Client struct {
	Identity
}

// Professional: ведущий подрядчик, получатель выплат.
type Professional struct {
	Identity
	ConnectedAccountID string
	PayoutsEnabled     bool
}

// Specialist координирует наряды внутри профинансированного escrow.
type Specialist struct {
	Identity
}

// Crew: исполнитель в бригаде подрядчика.
type Crew struct {
	Identity
	LeadContractorID *uuid.UUID
}

type Admin struct {
	Identity
}

// System: действия таймера и политики, без пользователя.
type System struct{}

func (a Client) ID() uuid.UUID       { return a.UserID }
func (a Professional) ID() uuid.UUID { return a.UserID }
func (a Specialist) ID() uuid.UUID   { return a.UserID }
func (a Crew) ID() uuid.UUID         { return a.UserID }
func (a Admin) ID() uuid.UUID        { return a.UserID }
func (System) ID() uuid.UUID         { return uuid.Nil }

func (Client) Role() string       { return RoleClient }
func (Professional) Role() string { return RoleContractor }
func (Specialist) Role() string   { return RoleSpecialist }
func (Crew) Role() string         { return RoleCrew }
func (Admin) Role() string        { return RoleAdmin }
func (System) Role() string       { return "system" }

func (Client) actor()       {}
func (Professional) actor() {}
func (Specialist) actor()   {}
func (Crew) actor()         {}
func (Admin) actor()        {}
func (System) actor()       {}

// NewActor собирает вариант по роли из хранилища профилей.
func NewActor(identity Identity, role string, leadContractorID *uuid.UUID, account *ConnectedAccount) (Actor, error) {
	switch role {
	case RoleClient:
		return Client{Identity: identity}, nil
	case RoleContractor:
		p := Professional{Identity: identity}
		if account != nil {
			p.ConnectedAccountID = account.AccountID
			p.PayoutsEnabled = account.PayoutsEnabled
		}
		return p, nil
	case RoleSpecialist:
		return Specialist{Identity: identity}, nil
	case RoleCrew:
		return Crew{Identity: identity, LeadContractorID: leadContractorID}, nil
	case RoleAdmin:
		return Admin{Identity: identity}, nil
	}
	return nil, apperror.New(apperror.ErrCodeForbidden, "неизвестная роль пользователя")
}

// CanExecuteWork: подрядчик или бригада могут быть назначены на наряд.
func CanExecuteWork(a Actor) bool {
	switch a.(type) {
	case Professional, Crew:
		return true
	}
	return false
}
