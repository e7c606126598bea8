package kip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultTools returns the built-in web tools registered at startup: live
// cryptocurrency price lookups against CoinGecko's public API. They give
// the registry a real, billable tool set to exercise the full gate
// sequence without requiring any deployment-specific tooling.
func DefaultTools(client *http.Client) []Tool {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return []Tool{
		{
			Name:         "get_bitcoin_price",
			Description:  "Get current Bitcoin price in USD from CoinGecko",
			CostCents:    100,
			Category:     "web",
			MinAuthLevel: AuthFull,
			MaxDailyUses: 100,
			Timeout:      15 * time.Second,
			Active:       true,
			Run:          coinPriceTool(client, "bitcoin"),
		},
		{
			Name:         "get_ethereum_price",
			Description:  "Get current Ethereum price in USD from CoinGecko",
			CostCents:    100,
			Category:     "web",
			MinAuthLevel: AuthFull,
			MaxDailyUses: 100,
			Timeout:      15 * time.Second,
			Active:       true,
			Run:          coinPriceTool(client, "ethereum"),
		},
		{
			Name:         "get_crypto_summary",
			Description:  "Get a summary of major cryptocurrency prices with 24h change",
			CostCents:    200,
			Category:     "web",
			MinAuthLevel: AuthFull,
			MaxDailyUses: 50,
			Timeout:      20 * time.Second,
			Active:       true,
			Run:          cryptoSummaryTool(client),
		},
	}
}

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3/simple/price"

type coinGeckoPrice struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
}

func coinPriceTool(client *http.Client, coinID string) ToolFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		prices, err := fetchCoinGeckoPrices(ctx, client, []string{coinID})
		if err != nil {
			return nil, err
		}
		price, ok := prices[coinID]
		if !ok {
			return nil, fmt.Errorf("kip: no price data returned for %s", coinID)
		}
		return map[string]any{
			"coin":              coinID,
			"price_usd":         price.USD,
			"change_24h_percent": price.USD24hChange,
		}, nil
	}
}

func cryptoSummaryTool(client *http.Client) ToolFunc {
	coins := []string{"bitcoin", "ethereum", "solana", "cardano"}
	return func(ctx context.Context, params map[string]any) (any, error) {
		prices, err := fetchCoinGeckoPrices(ctx, client, coins)
		if err != nil {
			return nil, err
		}
		summary := make(map[string]any, len(prices))
		for coin, price := range prices {
			summary[coin] = map[string]any{
				"price_usd":          price.USD,
				"change_24h_percent": price.USD24hChange,
			}
		}
		return summary, nil
	}
}

func fetchCoinGeckoPrices(ctx context.Context, client *http.Client, coinIDs []string) (map[string]coinGeckoPrice, error) {
	ids := coinIDs[0]
	for _, id := range coinIDs[1:] {
		ids += "," + id
	}

	url := fmt.Sprintf("%s?ids=%s&vs_currencies=usd&include_24hr_change=true", coinGeckoBaseURL, ids)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("kip: build coingecko request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kip: coingecko request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kip: coingecko returned status %d", resp.StatusCode)
	}

	var raw map[string]struct {
		USD          float64 `json:"usd"`
		USD24hChange float64 `json:"usd_24h_change"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("kip: decode coingecko response: %w", err)
	}

	out := make(map[string]coinGeckoPrice, len(raw))
	for coin, v := range raw {
		out[coin] = coinGeckoPrice{USD: v.USD, USD24hChange: v.USD24hChange}
	}
	return out, nil
}
