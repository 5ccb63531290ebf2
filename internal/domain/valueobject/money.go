package valueobject

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/homepro-escrow/internal/pkg/apperror"
)

// Currency: единственная валюта платформы.
const Currency = "USD"

// MaxCents: верхняя граница суммы в центах.
const MaxCents int64 = 1_000_000_000_000

var (
	ErrAmountNegative = apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	ErrAmountOverflow = apperror.New(apperror.ErrCodeValidation, "сумма превышает допустимый предел")
	ErrAmountFormat   = apperror.New(apperror.ErrCodeValidation, "сумма должна быть строкой с двумя знаками после точки")
	ErrRateRange      = apperror.New(apperror.ErrCodeValidation, "ставка должна быть в диапазоне [0, 1]")
)

var hundred = decimal.NewFromInt(100)

// Money хранит сумму в целых центах. Деления нет намеренно.
type Money struct {
	cents int64
}

// FromCents создаёт сумму из центов.
func FromCents(cents int64) (Money, error) {
	if cents < 0 {
		return Money{}, ErrAmountNegative
	}
	if cents > MaxCents {
		return Money{}, ErrAmountOverflow
	}
	return Money{cents: cents}, nil
}

// MustCents используется для констант и тестов.
func MustCents(cents int64) Money {
	m, err := FromCents(cents)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMoney разбирает десятичную строку вида "100.00".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrAmountFormat
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrAmountFormat
	}
	if d.IsNegative() {
		return Money{}, ErrAmountNegative
	}
	if d.Exponent() < -2 && !d.Equal(d.Truncate(2)) {
		return Money{}, ErrAmountFormat
	}
	cents := d.Mul(hundred)
	if cents.GreaterThan(decimal.NewFromInt(MaxCents)) {
		return Money{}, ErrAmountOverflow
	}
	return FromCents(cents.IntPart())
}

func (m Money) Cents() int64 { return m.cents }

func (m Money) IsZero() bool { return m.cents == 0 }

func (m Money) Equal(other Money) bool { return m.cents == other.cents }

// Cmp возвращает -1, 0 или 1.
func (m Money) Cmp(other Money) int {
	switch {
	case m.cents < other.cents:
		return -1
	case m.cents > other.cents:
		return 1
	}
	return 0
}

func (m Money) Add(other Money) (Money, error) {
	return FromCents(m.cents + other.cents)
}

func (m Money) Sub(other Money) (Money, error) {
	return FromCents(m.cents - other.cents)
}

// MultiplyRate умножает сумму на ставку с банковским округлением до цента.
func (m Money) MultiplyRate(rate Rate) (Money, error) {
	product := decimal.NewFromInt(m.cents).Mul(rate.Decimal()).RoundBank(0)
	return FromCents(product.IntPart())
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.cents, -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON сериализует сумму строкой: на проводе нет float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrAmountFormat
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value хранит сумму в BIGINT центах.
func (m Money) Value() (driver.Value, error) {
	return m.cents, nil
}

func (m *Money) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		parsed, err := FromCents(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case nil:
		*m = Money{}
		return nil
	default:
		return fmt.Errorf("money: неподдерживаемый тип %T", src)
	}
}

// Rate: доля в диапазоне [0, 1].
type Rate struct {
	d decimal.Decimal
}

func NewRate(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return Rate{}, ErrRateRange
	}
	return Rate{d: d}, nil
}

func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Rate{}, ErrRateRange
	}
	return NewRate(d)
}

func MustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rate) Decimal() decimal.Decimal { return r.d }

func (r Rate) String() string { return r.d.String() }

func (r Rate) LessThan(other Rate) bool { return r.d.LessThan(other.d) }

func (r Rate) Equal(other Rate) bool { return r.d.Equal(other.d) }

func (r Rate) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.d.String())
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrRateRange
	}
	parsed, err := ParseRate(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value хранит ставку в NUMERIC.
func (r Rate) Value() (driver.Value, error) {
	return r.d.String(), nil
}

func (r *Rate) Scan(src interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	parsed, err := NewRate(d)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
