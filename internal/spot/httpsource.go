package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bullionworks/trade-engine/internal/model"
)

// HTTPSource fetches spot prices from a JSON API. Expected response shape:
//
//	{"prices": {"gold": "2412.30", "silver": "27.85", ...}}
//
// Unknown metals in the response are skipped.
type HTTPSource struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSource builds a source for the given endpoint. The API key is
// optional and sent as a bearer token when set.
func NewHTTPSource(url, apiKey string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type spotResponse struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (map[model.Metal]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("spot: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spot: fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spot: price API returned %d", resp.StatusCode)
	}

	var body spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("spot: decode response: %w", err)
	}

	out := make(map[model.Metal]decimal.Decimal, len(body.Prices))
	for name, price := range body.Prices {
		metal, err := model.ParseMetal(name)
		if err != nil {
			continue
		}
		out[metal] = price
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("spot: response carried no known metals")
	}
	return out, nil
}
