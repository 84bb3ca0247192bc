package risk

import (
	"github.com/onchainrisk/monitor/internal/domain"
)

// PositionValue pairs a Position's RiskMetrics with its absolute USD value,
// the unit portfolio aggregation weights by.
type PositionValue struct {
	Position   *domain.Position
	Metrics    domain.RiskMetrics
	AbsValueUSD float64
}

// PortfolioRisk is the owner-level aggregate produced by §4.6's portfolio
// aggregation steps.
type PortfolioRisk struct {
	Owner                    domain.Address
	PerProtocolOverall       map[domain.Protocol]float64
	Concentration            float64
	CrossProtocolCorrelation float64
	OverallPortfolio         float64
	Level                    domain.Level
}

// correlationMatrix is a fixed, symmetric table of pairwise protocol
// correlations used for cross_protocol_correlation. Protocols not present
// default to a moderate 0.5 correlation with any other protocol, reflecting
// shared ETH/market-beta exposure; a protocol paired with itself is 1.
var correlationMatrix = map[domain.Protocol]map[domain.Protocol]float64{
	domain.ProtocolAaveV3: {
		domain.ProtocolCompoundV3: 0.85,
		domain.ProtocolMakerDAO:   0.70,
		domain.ProtocolUniswapV3:  0.40,
		domain.ProtocolLido:       0.55,
	},
	domain.ProtocolCompoundV3: {
		domain.ProtocolAaveV3:    0.85,
		domain.ProtocolMakerDAO:  0.65,
		domain.ProtocolUniswapV3: 0.40,
	},
	domain.ProtocolMakerDAO: {
		domain.ProtocolAaveV3:     0.70,
		domain.ProtocolCompoundV3: 0.65,
	},
	domain.ProtocolLido: {
		domain.ProtocolEtherFi:    0.80,
		domain.ProtocolEigenLayer: 0.60,
		domain.ProtocolAaveV3:     0.55,
	},
	domain.ProtocolEtherFi: {
		domain.ProtocolLido:       0.80,
		domain.ProtocolEigenLayer: 0.70,
	},
	domain.ProtocolYearn: {
		domain.ProtocolBeefy:  0.75,
		domain.ProtocolConvex: 0.60,
	},
	domain.ProtocolBeefy: {
		domain.ProtocolYearn:  0.75,
		domain.ProtocolConvex: 0.60,
	},
}

func correlationBetween(a, b domain.Protocol) float64 {
	if a == b {
		return 1
	}
	if row, ok := correlationMatrix[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	if row, ok := correlationMatrix[b]; ok {
		if v, ok := row[a]; ok {
			return v
		}
	}
	return 0.5
}

// AggregatePortfolio implements the five steps in §4.6 "Portfolio
// aggregation" over a snapshot of all of one owner's positions.
func AggregatePortfolio(owner domain.Address, positions []PositionValue) PortfolioRisk {
	if len(positions) == 0 {
		return PortfolioRisk{Owner: owner, PerProtocolOverall: map[domain.Protocol]float64{}, Level: domain.LevelVeryLow}
	}

	// Step 1+2: group by protocol, value-weighted mean overall per protocol.
	protocolValue := make(map[domain.Protocol]float64)
	protocolWeightedOverall := make(map[domain.Protocol]float64)
	var totalValue float64
	for _, pv := range positions {
		protocolValue[pv.Position.Protocol] += pv.AbsValueUSD
		protocolWeightedOverall[pv.Position.Protocol] += pv.AbsValueUSD * pv.Metrics.Overall
		totalValue += pv.AbsValueUSD
	}

	perProtocolOverall := make(map[domain.Protocol]float64, len(protocolValue))
	for proto, value := range protocolValue {
		if value <= 0 {
			perProtocolOverall[proto] = 0
			continue
		}
		perProtocolOverall[proto] = protocolWeightedOverall[proto] / value
	}

	if totalValue <= 0 {
		return PortfolioRisk{Owner: owner, PerProtocolOverall: perProtocolOverall, Level: domain.LevelVeryLow}
	}

	// Step 3: Herfindahl concentration over protocol value shares.
	var herfindahl float64
	shares := make(map[domain.Protocol]float64, len(protocolValue))
	for proto, value := range protocolValue {
		share := value / totalValue
		shares[proto] = share
		herfindahl += share * share
	}
	n := float64(len(protocolValue))
	concentration := herfindahl
	if n > 1 {
		concentration = clamp01((herfindahl - 1/n) / (1 - 1/n))
	} else {
		concentration = 1
	}

	// Step 4: value-weighted cross-protocol correlation.
	var correlationSum, weightSum float64
	protos := make([]domain.Protocol, 0, len(shares))
	for proto := range shares {
		protos = append(protos, proto)
	}
	for i := 0; i < len(protos); i++ {
		for j := 0; j < len(protos); j++ {
			if i == j {
				continue
			}
			w := shares[protos[i]] * shares[protos[j]]
			correlationSum += w * correlationBetween(protos[i], protos[j])
			weightSum += w
		}
	}
	crossProtocolCorrelation := 0.0
	if weightSum > 0 {
		crossProtocolCorrelation = correlationSum / weightSum
	}

	// Step 5: overall portfolio score.
	var valueWeightedOverall float64
	for proto, value := range protocolValue {
		valueWeightedOverall += (value / totalValue) * perProtocolOverall[proto]
	}
	overallPortfolio := clamp01(valueWeightedOverall * (1 + 0.25*concentration))

	return PortfolioRisk{
		Owner:                    owner,
		PerProtocolOverall:       perProtocolOverall,
		Concentration:            concentration,
		CrossProtocolCorrelation: crossProtocolCorrelation,
		OverallPortfolio:         overallPortfolio,
		Level:                    domain.LevelFor(overallPortfolio),
	}
}
