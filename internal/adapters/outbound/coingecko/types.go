package coingecko

// simplePriceResponse is the body of /simple/price:
//
//	{
//	  "solana": {"usd": 151.23, "last_updated_at": 1704067200}
//	}
type simplePriceResponse map[string]simplePriceData

type simplePriceData struct {
	USD         float64 `json:"usd"`
	LastUpdated int64   `json:"last_updated_at"`
}

type coinGeckoError struct {
	Error string `json:"error"`
}
