package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFailsWithoutChainRPC(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadAppliesDefaultsAndParsesChainRPC(t *testing.T) {
	t.Setenv("CHAIN_RPC_1", "https://eth.example/rpc")
	t.Setenv("CHAIN_RPC_42161", "https://arb.example/rpc")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "https://eth.example/rpc", cfg.ChainRPC[1])
	assert.Equal(t, "https://arb.example/rpc", cfg.ChainRPC[42161])
	assert.Equal(t, 8090, cfg.Port)
	assert.False(t, cfg.ArchiveEnabled)
}

func TestLoadRejectsArchiveEnabledWithoutBucket(t *testing.T) {
	t.Setenv("CHAIN_RPC_1", "https://eth.example/rpc")
	t.Setenv("ARCHIVE_ENABLED", "true")

	_, err := Load(t.TempDir())
	require.Error(t, err)
}
