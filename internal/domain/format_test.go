package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStoreID(t *testing.T) {
	assert.Equal(t, "sucursal-centro", NormalizeStoreID("  Sucursal-CENTRO "))
	assert.Equal(t, NormalizeStoreID("Norte"), NormalizeStoreID("NORTE"))
	assert.Equal(t, "", NormalizeStoreID("   "))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "250.00", FormatMoney(25000))
	assert.Equal(t, "0.05", FormatMoney(5))
	assert.Equal(t, "-20.00", FormatMoney(-2000))
}

func TestAvailableCreditNeverNegative(t *testing.T) {
	c := Client{CreditLimitCents: 100000, CreditUsedCents: 80000}
	assert.Equal(t, int64(20000), c.AvailableCreditCents())

	c.CreditUsedCents = 120000
	assert.Equal(t, int64(0), c.AvailableCreditCents())
}

func TestCheckedArithmetic(t *testing.T) {
	got, ok := MulCents(4, 1500)
	assert.True(t, ok)
	assert.Equal(t, int64(6000), got)

	_, ok = MulCents(4, 1<<62)
	assert.False(t, ok)
	_, ok = MulCents(-1, 10)
	assert.False(t, ok)

	_, ok = AddCents(math.MaxInt64, 1)
	assert.False(t, ok)
	got, ok = AddCents(2500, -500)
	assert.True(t, ok)
	assert.Equal(t, int64(2000), got)

	_, ok = AddQty(1<<62, 1<<62)
	assert.False(t, ok)
	_, ok = AddQty(math.MaxInt32, 1)
	assert.False(t, ok)
	qty, ok := AddQty(80, 20)
	assert.True(t, ok)
	assert.Equal(t, 100, qty)
}
