package chainclient

import (
	"math/big"

	"github.com/onchainrisk/monitor/internal/domain"
)

// maxTick is the largest tick magnitude a Uniswap V3 pool can report
// (TickMath.MAX_TICK / MIN_TICK in the reference contracts).
const maxTick = 887272

// tickBase is 1.0001 represented at high precision; price = tickBase^tick.
var tickBase = newFloat("1.0001")

const tickFloatPrec = 200

func newFloat(s string) *big.Float {
	f, _, err := big.ParseFloat(s, 10, tickFloatPrec, big.ToNearestEven)
	if err != nil {
		panic("chainclient: invalid constant literal: " + s)
	}
	return f
}

// TickToPrice converts a Uniswap V3 tick into a price ratio (token1 per
// token0) using exponentiation-by-squaring over arbitrary-precision floats,
// so deep out-of-range ticks don't lose precision the way float64 would.
// Ticks with |tick| > 887272 are rejected (§4.1 edge case).
func TickToPrice(tick int32) (*big.Float, error) {
	if tick > maxTick || tick < -maxTick {
		return nil, &domain.DecodeError{Reason: "tick out of range"}
	}

	exp := tick
	neg := exp < 0
	if neg {
		exp = -exp
	}

	result := new(big.Float).SetPrec(tickFloatPrec).SetInt64(1)
	base := new(big.Float).SetPrec(tickFloatPrec).Set(tickBase)

	for exp > 0 {
		if exp&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
		exp >>= 1
	}

	if neg {
		one := new(big.Float).SetPrec(tickFloatPrec).SetInt64(1)
		result.Quo(one, result)
	}
	return result, nil
}

// PriceToTick inverts TickToPrice via binary search over the valid tick
// range; price must be strictly positive.
func PriceToTick(price *big.Float) (int32, error) {
	if price.Sign() <= 0 {
		return 0, &domain.DecodeError{Reason: "non-positive price"}
	}

	lo, hi := int32(-maxTick), int32(maxTick)
	for lo < hi {
		mid := lo + (hi-lo)/2
		midPrice, err := TickToPrice(mid)
		if err != nil {
			return 0, err
		}
		if midPrice.Cmp(price) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// AdjustForDecimals rescales a raw token0/token1 price ratio by the
// difference in ERC-20 decimals between the two tokens.
func AdjustForDecimals(price *big.Float, decimals0, decimals1 int) *big.Float {
	diff := decimals0 - decimals1
	if diff == 0 {
		return price
	}
	scale := new(big.Float).SetPrec(tickFloatPrec).SetInt(
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt(diff))), nil),
	)
	out := new(big.Float).SetPrec(tickFloatPrec)
	if diff > 0 {
		out.Mul(price, scale)
	} else {
		out.Quo(price, scale)
	}
	return out
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
