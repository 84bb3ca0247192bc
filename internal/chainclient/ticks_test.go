package chainclient

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickToPriceRejectsOutOfRange(t *testing.T) {
	_, err := TickToPrice(maxTick + 1)
	assert.Error(t, err)

	_, err = TickToPrice(-maxTick - 1)
	assert.Error(t, err)
}

func TestTickToPriceZeroIsOne(t *testing.T) {
	p, err := TickToPrice(0)
	require.NoError(t, err)
	one := big.NewFloat(1)
	assert.Equal(t, 0, p.Cmp(one))
}

func TestTickToPriceRoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 100, -100, 887272, -887272, 12345}
	for _, tick := range cases {
		price, err := TickToPrice(tick)
		require.NoError(t, err)

		got, err := PriceToTick(price)
		require.NoError(t, err)
		assert.InDelta(t, int(tick), int(got), 1, "tick=%d", tick)
	}
}

func TestPriceToTickRejectsNonPositive(t *testing.T) {
	_, err := PriceToTick(big.NewFloat(0))
	assert.Error(t, err)

	_, err = PriceToTick(big.NewFloat(-1))
	assert.Error(t, err)
}

func TestAdjustForDecimals(t *testing.T) {
	price := big.NewFloat(1.0)
	adjusted := AdjustForDecimals(price, 18, 6)
	f, _ := adjusted.Float64()
	assert.InDelta(t, 1e12, f, 1e6)
}
