// Package polymarket implements the upstream listings client for the
// Polymarket Gamma API and the mapping from its loosely-typed records into
// the canonical market shape.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/theSchein/pamela-sub002/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which provides
// market discovery, metadata, and search.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// timeout bounds each page request so a slow upstream cannot stall a sync
// pass indefinitely.
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchMarkets returns one page of markets matching the query, already mapped
// to the canonical shape. Filter fields are translated into upstream query
// parameters; the upstream cannot be fully trusted to apply them, so callers
// re-check acceptance locally.
func (g *GammaClient) FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	if q.Active != nil {
		params.Set("active", strconv.FormatBool(*q.Active))
	}
	if q.Closed != nil {
		params.Set("closed", strconv.FormatBool(*q.Closed))
	}
	if q.MinLiquidity > 0 {
		params.Set("liquidity_num_min", strconv.FormatFloat(q.MinLiquidity, 'f', -1, 64))
	}
	if q.MinVolume > 0 {
		params.Set("volume_num_min", strconv.FormatFloat(q.MinVolume, 'f', -1, 64))
	}
	if q.EndDateMin != nil {
		params.Set("end_date_min", q.EndDateMin.UTC().Format(time.RFC3339))
	}
	if q.Search != "" {
		params.Set("q", q.Search)
	}

	path := "/markets?" + params.Encode()

	body, err := g.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	apiMarkets, err := decodeMarkets(body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomain())
	}
	return markets, nil
}

// GetMarket returns a single market by its external ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(id))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return apiMarket.ToDomain(), nil
}

// decodeMarkets accepts both response shapes the listings API is known to
// emit: a bare JSON array, or an object wrapping the array under "data" or
// "markets".
func decodeMarkets(body []byte) ([]APIMarket, error) {
	var direct []APIMarket
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Data    []APIMarket `json:"data"`
		Markets []APIMarket `json:"markets"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	if wrapped.Markets != nil {
		return wrapped.Markets, nil
	}
	return nil, fmt.Errorf("unrecognized response shape")
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Compile-time interface check.
var _ domain.MarketFetcher = (*GammaClient)(nil)
