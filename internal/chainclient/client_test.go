package chainclient

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"who","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// fakeDialer is a scriptable stand-in for *ethclient.Client.
type fakeDialer struct {
	callResult []byte
	callErr    error
	logs       []types.Log
	logsErr    error
	calls      int
}

func (f *fakeDialer) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeDialer) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	return f.callResult, f.callErr
}

func (f *fakeDialer) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, f.logsErr
}

func (f *fakeDialer) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }

func packBalance(t *testing.T, amount *big.Int) []byte {
	t.Helper()
	padded := make([]byte, 32)
	amount.FillBytes(padded)
	return padded
}

func testAddress(t *testing.T) domain.Address {
	t.Helper()
	addr, err := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	return addr
}

func TestCallDecodesResult(t *testing.T) {
	dialer := &fakeDialer{callResult: packBalance(t, big.NewInt(42))}
	c := NewClient(zerolog.Nop())
	c.RegisterDialer(domain.ChainEthereum, dialer)

	out, err := c.Call(context.Background(), domain.ChainEthereum, testAddress(t), erc20BalanceABI, "balanceOf", common.Address{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, big.NewInt(42), out[0])
}

func TestCallRevertOnEmptyReturn(t *testing.T) {
	dialer := &fakeDialer{callResult: []byte{}}
	c := NewClient(zerolog.Nop())
	c.RegisterDialer(domain.ChainEthereum, dialer)

	_, err := c.Call(context.Background(), domain.ChainEthereum, testAddress(t), erc20BalanceABI, "balanceOf", common.Address{})
	var revertErr *domain.RevertError
	assert.ErrorAs(t, err, &revertErr)
}

func TestCallClassifiesTransportError(t *testing.T) {
	dialer := &fakeDialer{callErr: errors.New("connection refused")}
	c := NewClient(zerolog.Nop())
	c.RegisterDialer(domain.ChainEthereum, dialer)

	_, err := c.Call(context.Background(), domain.ChainEthereum, testAddress(t), erc20BalanceABI, "balanceOf", common.Address{})
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.Retryable)
}

func TestCallUnsupportedChain(t *testing.T) {
	c := NewClient(zerolog.Nop())
	_, err := c.Call(context.Background(), domain.ChainId(999999), testAddress(t), erc20BalanceABI, "balanceOf", common.Address{})
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}

func TestCallUnregisteredChain(t *testing.T) {
	c := NewClient(zerolog.Nop())
	_, err := c.Call(context.Background(), domain.ChainEthereum, testAddress(t), erc20BalanceABI, "balanceOf", common.Address{})
	require.Error(t, err)
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.False(t, transportErr.Retryable)
}

func TestDecoderCachedAcrossCalls(t *testing.T) {
	dialer := &fakeDialer{callResult: packBalance(t, big.NewInt(1))}
	c := NewClient(zerolog.Nop())
	c.RegisterDialer(domain.ChainEthereum, dialer)

	addr := testAddress(t)
	_, err := c.Call(context.Background(), domain.ChainEthereum, addr, erc20BalanceABI, "balanceOf", common.Address{})
	require.NoError(t, err)

	_, ok := c.decoders[decoderKey{chain: domain.ChainEthereum, contract: addr}]
	assert.True(t, ok)
}

func TestBatchCallReportsPerIndexFailures(t *testing.T) {
	dialer := &fakeDialer{callResult: packBalance(t, big.NewInt(7))}
	c := NewClient(zerolog.Nop())
	c.RegisterDialer(domain.ChainEthereum, dialer)

	calls := []CallSpec{
		{Chain: domain.ChainEthereum, Contract: testAddress(t), ABIJSON: erc20BalanceABI, Method: "balanceOf", Args: []interface{}{common.Address{}}},
		{Chain: domain.ChainId(999999), Contract: testAddress(t), ABIJSON: erc20BalanceABI, Method: "balanceOf", Args: []interface{}{common.Address{}}},
	}
	results := c.BatchCall(context.Background(), calls)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrUnsupportedChain)
}

func TestFetchLogsBounded(t *testing.T) {
	dialer := &fakeDialer{logs: []types.Log{{BlockNumber: 100}}}
	c := NewClient(zerolog.Nop())
	c.RegisterDialer(domain.ChainEthereum, dialer)

	events, err := c.FetchLogs(context.Background(), domain.ChainEthereum, LogFilter{
		Contract: testAddress(t), FromBlock: 90, ToBlock: 110,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(100), events[0].BlockNum)
}
