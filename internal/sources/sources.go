// Package sources fetches BTC/USD tickers from the recognized public
// exchange endpoints and normalizes them into price samples.
package sources

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Source describes one upstream: where to fetch and how to pull the
// price out of its response body.
type Source struct {
	Name    string
	URL     string
	Extract func(body []byte) (float64, error)
}

// Defaults returns the recognized source table. Callers may override
// URLs (tests point them at stubs) but the name set is closed.
func Defaults() []Source {
	return []Source{
		{
			Name:    "coinbase",
			URL:     "https://api.exchange.coinbase.com/products/BTC-USD/ticker",
			Extract: extractCoinbase,
		},
		{
			Name:    "kraken",
			URL:     "https://api.kraken.com/0/public/Ticker?pair=XBTUSD",
			Extract: extractKraken,
		},
		{
			Name:    "coingecko",
			URL:     "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
			Extract: extractCoingecko,
		},
		{
			Name:    "bitstamp",
			URL:     "https://www.bitstamp.net/api/v2/ticker/btcusd",
			Extract: extractBitstamp,
		},
	}
}

// Names lists the recognized source names in table order.
func Names(srcs []Source) []string {
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = s.Name
	}
	return names
}

func extractCoinbase(body []byte) (float64, error) {
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("coinbase ticker: %w", err)
	}
	return parsePrice(resp.Price)
}

func extractKraken(body []byte) (float64, error) {
	var resp struct {
		Error  []string `json:"error"`
		Result struct {
			XXBTZUSD struct {
				C []string `json:"c"`
			} `json:"XXBTZUSD"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kraken ticker: %w", err)
	}
	if len(resp.Error) > 0 {
		return 0, fmt.Errorf("kraken ticker: %s", resp.Error[0])
	}
	if len(resp.Result.XXBTZUSD.C) == 0 {
		return 0, fmt.Errorf("kraken ticker: missing close price")
	}
	return parsePrice(resp.Result.XXBTZUSD.C[0])
}

func extractCoingecko(body []byte) (float64, error) {
	var resp struct {
		Bitcoin struct {
			USD float64 `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("coingecko price: %w", err)
	}
	return validPrice(resp.Bitcoin.USD)
}

func extractBitstamp(body []byte) (float64, error) {
	var resp struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("bitstamp ticker: %w", err)
	}
	return parsePrice(resp.Last)
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return validPrice(v)
}

func validPrice(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("price %v is not a positive finite number", v)
	}
	return v, nil
}
