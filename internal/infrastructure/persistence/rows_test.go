package persistence

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/homepro-escrow/internal/domain/repository"
	"github.com/ignatzorin/homepro-escrow/internal/domain/valueobject"
)

func TestMilestoneRow_ToEntity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := milestoneRow{
		ID:          uuid.New(),
		EscrowID:    uuid.New(),
		Title:       "Кухня",
		AmountCents: valueobject.MustCents(10000),
		FeeCents:    valueobject.MustCents(500),
		NetCents:    valueobject.MustCents(9500),
		Status:      string(valueobject.MilestoneStatusHeld),
		PaidAt:      &now,
		UpdatedAt:   now,
	}

	m, err := row.toEntity()
	require.NoError(t, err)
	assert.Nil(t, m.FeeRate, "ставка ещё не зафиксирована")

	row.FeeRate = decimal.NullDecimal{Decimal: decimal.RequireFromString("0.05"), Valid: true}
	m, err = row.toEntity()
	require.NoError(t, err)
	require.NotNil(t, m.FeeRate)
	assert.Equal(t, "0.05", m.FeeRate.String())
	assert.Equal(t, valueobject.MilestoneStatusHeld, m.Status)
	assert.Equal(t, "95.00", m.NetAmount.String())

	back := feeRateValue(m.FeeRate)
	assert.True(t, back.Valid)
	assert.True(t, back.Decimal.Equal(decimal.RequireFromString("0.05")))
	assert.False(t, feeRateValue(nil).Valid)

	row.FeeRate = decimal.NullDecimal{Decimal: decimal.RequireFromString("1.5"), Valid: true}
	_, err = row.toEntity()
	assert.Error(t, err)
}

func TestDuplicateOr(t *testing.T) {
	err := duplicateOr(&pq.Error{Code: uniqueViolation}, "append transaction")
	assert.True(t, errors.Is(err, repository.ErrDuplicate))

	other := duplicateOr(&pq.Error{Code: "23503"}, "append transaction")
	assert.False(t, errors.Is(other, repository.ErrDuplicate))
	assert.Contains(t, other.Error(), "append transaction")
}

func TestNullUUID(t *testing.T) {
	assert.Nil(t, nullUUID(uuid.NullUUID{}))
	id := uuid.New()
	got := nullUUID(toNullUUID(&id))
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
	assert.False(t, toNullUUID(nil).Valid)
}
