package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultPriceAPIBase is the CoinGecko v3 API root.
const DefaultPriceAPIBase = "https://api.coingecko.com/api/v3"

// PriceClient fetches BCH fiat prices from a CoinGecko-compatible API.
type PriceClient struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	value float64
	at    time.Time
}

// NewPriceClient builds a client; an empty base selects the public API.
func NewPriceClient(baseURL string, ttl time.Duration) *PriceClient {
	if baseURL == "" {
		baseURL = DefaultPriceAPIBase
	}
	return &PriceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		ttl:     ttl,
		cache:   make(map[string]cachedPrice),
	}
}

// Price returns the price of one BCH in the given fiat currency.
func (c *PriceClient) Price(ctx context.Context, currency string) (float64, error) {
	currency = strings.ToLower(currency)
	if p, ok := c.cached(currency); ok {
		return p, nil
	}

	q := url.Values{}
	q.Set("ids", "bitcoin-cash")
	q.Set("vs_currencies", currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("fetch price: status %d: %s", resp.StatusCode, string(body))
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	price, ok := payload["bitcoin-cash"][currency]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("price feed returned no %s quote", currency)
	}

	c.mu.Lock()
	c.cache[currency] = cachedPrice{value: price, at: time.Now()}
	c.mu.Unlock()
	return price, nil
}

func (c *PriceClient) cached(currency string) (float64, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.cache[currency]
	if !ok || time.Since(p.at) > c.ttl {
		return 0, false
	}
	return p.value, true
}
