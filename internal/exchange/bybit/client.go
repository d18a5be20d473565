package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Config holds the configuration for the Bybit connector.
type Config struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Testnet   bool   `json:"testnet"`
	Demo      bool   `json:"demo"` // demo trading environment (paper trading)
}

func newHTTPClient(cfg Config) *bybit_api.Client {
	var baseURL string
	if cfg.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	return bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)
}

// Environment returns a string describing the configured environment.
func (cfg Config) Environment() string {
	if cfg.Demo {
		return "demo"
	} else if cfg.Testnet {
		return "testnet"
	}
	return "mainnet"
}
