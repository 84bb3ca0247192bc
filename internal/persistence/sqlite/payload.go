package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/onchainrisk/monitor/internal/domain"
)

// marshalPayload serializes a Position's ProtocolPayload. The concrete type
// is recovered at read time from the owning Position's Kind (§3: kind and
// payload shape are 1:1), so no type tag needs to ride along.
func marshalPayload(payload domain.ProtocolPayload) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func unmarshalPayload(kind domain.PositionKind, data []byte) (domain.ProtocolPayload, error) {
	switch kind {
	case domain.KindLiquidity:
		var p domain.UniswapV3Payload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case domain.KindLendingCollateral, domain.KindLendingDebt:
		var p domain.LendingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case domain.KindCDP:
		var p domain.CDPPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case domain.KindStaking:
		var p domain.LiquidStakingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case domain.KindVaultShare:
		var p domain.VaultPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown position kind %q for protocol payload decode", kind)
	}
}
