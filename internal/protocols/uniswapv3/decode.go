package uniswapv3

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

func newBigInt(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func toUint64(v interface{}) (uint64, error) {
	bi, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("expected *big.Int, got %T", v)
	}
	if !bi.IsUint64() {
		return 0, fmt.Errorf("value overflows uint64")
	}
	return bi.Uint64(), nil
}

func addressOf(v interface{}) domain.Address {
	addr, ok := v.(common.Address)
	if !ok {
		return domain.ZeroAddress
	}
	var out domain.Address
	copy(out[:], addr[:])
	return out
}

func int32ValueOf(v interface{}) int32 {
	switch n := v.(type) {
	case *big.Int:
		return int32(n.Int64())
	case int32:
		return n
	default:
		return 0
	}
}

func decimalOf(v interface{}) decimal.Decimal {
	bi, ok := v.(*big.Int)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(bi, 0)
}

// decodeSwapAmounts pulls the two int256 amount fields out of a Swap event's
// non-indexed data: amount0 then amount1, each a 32-byte two's-complement
// word, followed by sqrtPriceX96/liquidity/tick which volume scanning
// ignores.
func decodeSwapAmounts(data []byte) (amount0, amount1 decimal.Decimal, ok bool) {
	if len(data) < 64 {
		return decimal.Zero, decimal.Zero, false
	}
	return decimal.NewFromBigInt(signedFromWord(data[0:32]), 0),
		decimal.NewFromBigInt(signedFromWord(data[32:64]), 0), true
}

// signedFromWord interprets a 32-byte big-endian word as a two's-complement
// signed integer (Solidity's int256 ABI encoding).
func signedFromWord(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	signBit := new(big.Int).Lsh(big.NewInt(1), 255)
	if v.Cmp(signBit) >= 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return v
}
