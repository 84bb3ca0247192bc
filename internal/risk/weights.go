package risk

import "github.com/onchainrisk/monitor/internal/domain"

// weightProfile is a sparse weight vector over risk dimensions for one
// protocol. Omitted dimensions are not applicable; the applicable weights
// must sum to 1 (not checked at runtime, since profiles are static data).
type weightProfile map[string]float64

var profiles = map[domain.Protocol]weightProfile{
	domain.ProtocolUniswapV3: {
		domain.FactorImpermanentLoss: 0.25,
		domain.FactorPriceImpact:     0.10,
		domain.FactorVolatility:      0.15,
		domain.FactorLiquidity:       0.15,
		domain.FactorTVLDrop:         0.10,
		domain.FactorMEV:             0.10,
		domain.FactorSandwich:        0.05,
		domain.FactorFrontrun:        0.05,
		domain.FactorProtocol:        0.03,
		domain.FactorGovernance:      0.02,
	},
	domain.ProtocolBalancerV2: {
		domain.FactorImpermanentLoss: 0.20,
		domain.FactorPriceImpact:     0.10,
		domain.FactorVolatility:      0.15,
		domain.FactorLiquidity:       0.20,
		domain.FactorTVLDrop:         0.15,
		domain.FactorMEV:             0.10,
		domain.FactorProtocol:        0.06,
		domain.FactorGovernance:      0.04,
	},
	domain.ProtocolAaveV3: {
		domain.FactorLiquidation:  0.30,
		domain.FactorUtilization:  0.15,
		domain.FactorInterestRate: 0.10,
		domain.FactorOracle:       0.15,
		domain.FactorVolatility:   0.10,
		domain.FactorProtocol:     0.10,
		domain.FactorGovernance:   0.05,
		domain.FactorCrossChain:   0.03,
		domain.FactorBridge:       0.02,
	},
	domain.ProtocolCompoundV3: {
		domain.FactorLiquidation:  0.30,
		domain.FactorUtilization:  0.18,
		domain.FactorInterestRate: 0.12,
		domain.FactorOracle:       0.15,
		domain.FactorVolatility:   0.10,
		domain.FactorProtocol:     0.10,
		domain.FactorGovernance:   0.05,
	},
	domain.ProtocolMakerDAO: {
		domain.FactorLiquidation: 0.35,
		domain.FactorOracle:      0.20,
		domain.FactorVolatility:  0.15,
		domain.FactorPegStability: 0.10,
		domain.FactorProtocol:    0.10,
		domain.FactorGovernance:  0.10,
	},
	domain.ProtocolLido: {
		domain.FactorSlashing:     0.30,
		domain.FactorPegStability: 0.30,
		domain.FactorVolatility:   0.15,
		domain.FactorProtocol:     0.15,
		domain.FactorGovernance:   0.10,
	},
	domain.ProtocolEtherFi: {
		domain.FactorSlashing:     0.35,
		domain.FactorPegStability: 0.25,
		domain.FactorVolatility:   0.15,
		domain.FactorProtocol:     0.15,
		domain.FactorGovernance:   0.10,
	},
	domain.ProtocolEigenLayer: {
		domain.FactorSlashing:     0.40,
		domain.FactorPegStability: 0.15,
		domain.FactorVolatility:   0.15,
		domain.FactorProtocol:     0.20,
		domain.FactorGovernance:   0.10,
	},
	domain.ProtocolYearn: {
		domain.FactorVolatility: 0.25,
		domain.FactorLiquidity:  0.20,
		domain.FactorTVLDrop:    0.20,
		domain.FactorProtocol:   0.20,
		domain.FactorGovernance: 0.15,
	},
	domain.ProtocolBeefy: {
		domain.FactorVolatility: 0.25,
		domain.FactorLiquidity:  0.20,
		domain.FactorTVLDrop:    0.20,
		domain.FactorProtocol:   0.25,
		domain.FactorGovernance: 0.10,
	},
	domain.ProtocolConvex: {
		domain.FactorVolatility: 0.20,
		domain.FactorLiquidity:  0.20,
		domain.FactorTVLDrop:    0.20,
		domain.FactorProtocol:   0.25,
		domain.FactorGovernance: 0.15,
	},
}

// defaultProfile is used for protocols the registry doesn't recognize so
// the calculator degrades instead of failing.
var defaultProfile = weightProfile{
	domain.FactorVolatility: 0.4,
	domain.FactorProtocol:   0.4,
	domain.FactorGovernance: 0.2,
}

func profileFor(p domain.Protocol) weightProfile {
	if wp, ok := profiles[p]; ok {
		return wp
	}
	return defaultProfile
}

// weightedOverall applies §4.6's weight redistribution: dimensions absent
// from the computed factor set are dropped, and the remaining weights are
// rescaled proportionally so they still sum to 1.
func weightedOverall(profile weightProfile, factors map[string]float64) float64 {
	var applicableWeight float64
	for dim, w := range profile {
		if _, ok := factors[dim]; ok {
			applicableWeight += w
		}
	}
	if applicableWeight <= 0 {
		return 0
	}

	var overall float64
	for dim, w := range profile {
		v, ok := factors[dim]
		if !ok {
			continue
		}
		overall += (w / applicableWeight) * v
	}
	return clamp01(overall)
}
