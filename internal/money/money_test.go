package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSub(t *testing.T) {
	a := MustNew("150.00", USD)
	b := MustNew("50.25", USD)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "200.25", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "99.75", diff.String())
}

func TestCurrencyMismatch(t *testing.T) {
	a := MustNew("10", USD)
	b := MustNew("10", EUR)

	_, err := a.Add(b)
	require.Error(t, err)
	var mismatch *CurrencyMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestCeilToCentRoundsUpForRisk(t *testing.T) {
	risk := MustNew("500.003", USD)
	// 500.003 rounds up to 500.01 (never understate risk).
	assert.Equal(t, "500.01", risk.CeilToCent().String())
}

func TestMulByInteger(t *testing.T) {
	price := MustNew("150.00", USD)
	total := price.MulByInteger(50)
	assert.Equal(t, "7500.00", total.String())
}

func TestIsNegativeIsZero(t *testing.T) {
	assert.True(t, Zero(USD).IsZero())
	assert.False(t, Zero(USD).IsNegative())
	assert.True(t, MustNew("-1", USD).IsNegative())
}

func TestCmpSameCurrency(t *testing.T) {
	a := MustNew("10", USD)
	b := MustNew("20", USD)
	assert.Equal(t, -1, a.Cmp(b))
	assert.True(t, a.SameCurrency(b))
}
