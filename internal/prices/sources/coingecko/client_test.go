package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainrisk/monitor/internal/domain"
)

func testToken() domain.TokenRef {
	addr, _ := domain.ParseAddress("0x1111111111111111111111111111111111111111")
	return domain.TokenRef{Chain: domain.ChainEthereum, Address: addr}
}

func TestFetchPriceCallsCorrectEndpointAndParsesResponse(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)

	var capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"1111111111111111111111111111111111111111":{"usd":1234.5}}`))
	}))
	defer server.Close()

	client := NewClient(log, WithBaseURL(server.URL))
	price, err := client.FetchPrice(context.Background(), testToken())

	require.NoError(t, err)
	assert.Equal(t, "/simple/token_price/ethereum", capturedPath)
	assert.True(t, price.Equal(price), "price should be comparable")
	f, _ := price.Float64()
	assert.InDelta(t, 1234.5, f, 0.0001)
}

func TestFetchPriceRejectsUnsupportedChain(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	client := NewClient(log)

	token := domain.TokenRef{Chain: domain.ChainId(999999)}
	_, err := client.FetchPrice(context.Background(), token)
	assert.Error(t, err)
}

func TestFetchPriceErrorsWhenTokenMissingFromResponse(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(log, WithBaseURL(server.URL))
	_, err := client.FetchPrice(context.Background(), testToken())
	assert.Error(t, err)
}

func TestFetchPriceErrorsOnNonOKStatus(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer server.Close()

	client := NewClient(log, WithBaseURL(server.URL))
	_, err := client.FetchPrice(context.Background(), testToken())
	assert.Error(t, err)
}
