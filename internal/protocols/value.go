package protocols

import (
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

// ValueUSD sums leg values through price, negating debt legs, per §4.5
// ("signed: debt legs negative"). Missing a leg's price degrades the total
// rather than failing outright; ok reports whether every leg priced.
func ValueUSD(pos *domain.Position, price PriceFunc) (decimal.Decimal, bool) {
	total := decimal.Zero
	allPriced := true
	for _, leg := range pos.Legs {
		p, found := price(leg.Token)
		if !found {
			allPriced = false
			continue
		}
		v := leg.Amount.Mul(p.PriceUSD)
		if leg.Role == domain.RoleDebt {
			v = v.Neg()
		}
		total = total.Add(v)
	}
	return total, allPriced
}

// MarkZeroTicks increments or resets a position's consecutive-zero-amount
// counter per refresh, used by the Monitor Loop to apply the
// zero-amount-for-N-ticks rule (§3); adapters only maintain the counter,
// the loop decides what to do with it.
func MarkZeroTicks(pos *domain.Position) {
	if pos.HasNonZeroAmount() {
		pos.ZeroAmountTicks = 0
		return
	}
	pos.ZeroAmountTicks++
}
