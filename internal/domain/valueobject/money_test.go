package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		cents   int64
		wantErr error
	}{
		{in: "100.00", cents: 10000},
		{in: "12.5", cents: 1250},
		{in: " 7 ", cents: 700},
		{in: "0.10", cents: 10},
		{in: "100.001", wantErr: ErrAmountFormat},
		{in: "", wantErr: ErrAmountFormat},
		{in: "abc", wantErr: ErrAmountFormat},
		{in: "-1.00", wantErr: ErrAmountNegative},
		{in: "10000000000.01", wantErr: ErrAmountOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMoney(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cents, m.Cents())
		})
	}
}

func TestMoney_Arithmetic(t *testing.T) {
	a := MustCents(1000)
	b := MustCents(250)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "12.50", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "7.50", diff.String())

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, ErrAmountNegative)

	assert.Equal(t, -1, b.Cmp(a))
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, 0, a.Cmp(MustCents(1000)))
}

func TestMoney_MultiplyRate(t *testing.T) {
	rate := MustRate("0.05")
	tests := []struct {
		amount string
		fee    string
	}{
		{amount: "100.00", fee: "5.00"},
		{amount: "33.33", fee: "1.67"},
		{amount: "33.34", fee: "1.67"},
		{amount: "150.00", fee: "7.50"},
		{amount: "0.01", fee: "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			amount, err := ParseMoney(tt.amount)
			require.NoError(t, err)
			fee, err := amount.MultiplyRate(rate)
			require.NoError(t, err)
			assert.Equal(t, tt.fee, fee.String())

			net, err := amount.Sub(fee)
			require.NoError(t, err)
			total, err := net.Add(fee)
			require.NoError(t, err)
			assert.True(t, total.Equal(amount))
		})
	}

	// Ровно половина цента уходит к чётному.
	half, err := MustCents(10001).MultiplyRate(MustRate("0.5"))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), half.Cents())
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: MustCents(9500)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"95.00"}`, string(data))

	var in struct {
		Amount Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"42.10"}`), &in))
	assert.Equal(t, int64(4210), in.Amount.Cents())

	err = json.Unmarshal([]byte(`{"amount":42.1}`), &in)
	assert.ErrorIs(t, err, ErrAmountFormat, "числа на проводе не принимаются")
}

func TestRate(t *testing.T) {
	_, err := ParseRate("1.5")
	assert.ErrorIs(t, err, ErrRateRange)
	_, err = ParseRate("-0.1")
	assert.ErrorIs(t, err, ErrRateRange)
	_, err = ParseRate("x")
	assert.ErrorIs(t, err, ErrRateRange)

	assert.True(t, MustRate("0.03").LessThan(MustRate("0.05")))

	data, err := json.Marshal(MustRate("0.05"))
	require.NoError(t, err)
	assert.Equal(t, `"0.05"`, string(data))

	var r Rate
	require.NoError(t, r.Scan("0.08"))
	assert.True(t, r.Equal(MustRate("0.08")))
}

func TestMoney_Scan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan(int64(123)))
	assert.Equal(t, "1.23", m.String())

	require.NoError(t, m.Scan(nil))
	assert.True(t, m.IsZero())

	assert.Error(t, m.Scan("1.23"))
	assert.ErrorIs(t, m.Scan(int64(-1)), ErrAmountNegative)
}
