// Package coingecko adapts the CoinGecko "token price by contract address"
// API to prices.Source, grounded on the pack's yahoo REST client pattern
// (plain http.Client, query-string request building, status/body checks,
// JSON-into-map decoding).
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/onchainrisk/monitor/internal/domain"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// platformSlugs maps a supported chain to CoinGecko's "asset platform" id,
// the path segment its simple/token_price endpoint expects.
var platformSlugs = map[domain.ChainId]string{
	domain.ChainEthereum: "ethereum",
	domain.ChainOptimism: "optimistic-ethereum",
	domain.ChainBSC:      "binance-smart-chain",
	domain.ChainPolygon:  "polygon-pos",
	domain.ChainBase:     "base",
	domain.ChainArbitrum: "arbitrum-one",
}

// Client is a prices.Source backed by CoinGecko's public REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the API base, for pointing at a pro/self-hosted
// endpoint or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithAPIKey sets the x-cg-pro-api-key header for CoinGecko Pro plans.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// NewClient builds a CoinGecko price source.
func NewClient(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		log:        log.With().Str("source", "coingecko").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies this source in SourceConfig.Name / weighting.
func (c *Client) Name() string { return "coingecko" }

type tokenPriceResponse map[string]struct {
	USD float64 `json:"usd"`
}

// FetchPrice implements prices.Source.
func (c *Client) FetchPrice(ctx context.Context, token domain.TokenRef) (decimal.Decimal, error) {
	platform, ok := platformSlugs[token.Chain]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("coingecko: unsupported chain %d", token.Chain)
	}

	contract := token.Address.String()
	reqURL := fmt.Sprintf("%s/simple/token_price/%s", c.baseURL, platform)
	params := url.Values{}
	params.Add("contract_addresses", contract)
	params.Add("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+params.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("coingecko: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("coingecko: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("coingecko: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tokenPriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("coingecko: parse response: %w", err)
	}

	// CoinGecko echoes the contract address back lowercased as the map key.
	entry, ok := parsed[contract[2:]]
	if !ok {
		entry, ok = parsed[contract]
	}
	if !ok || entry.USD == 0 {
		return decimal.Decimal{}, fmt.Errorf("coingecko: no price returned for %s on %s", contract, platform)
	}

	return decimal.NewFromFloat(entry.USD), nil
}
