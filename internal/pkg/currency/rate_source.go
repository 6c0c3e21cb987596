package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vibeforge/vibeforge/internal/pkg/env"
)

const defaultRateAPIURL = "https://api.frankfurter.app/latest?from=USD&to=INR"

// HTTPRateSource fetches the USD->INR rate from a JSON exchange-rate API.
type HTTPRateSource struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPRateSourceFromEnv builds the rate source from environment config.
func NewHTTPRateSourceFromEnv() *HTTPRateSource {
	return &HTTPRateSource{
		URL: strings.TrimSpace(env.GetEnv("EXCHANGE_RATE_API_URL", defaultRateAPIURL)),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchRate requests the current rate. The response shape is the common
// {"rates":{"INR":84.47}} layout served by frankfurter-style APIs.
func (s *HTTPRateSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("rate request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		Rates map[string]json.Number `json:"rates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, err
	}
	val, ok := raw.Rates["INR"]
	if !ok {
		return decimal.Zero, errors.New("rate response missing INR rate")
	}
	rate, err := decimal.NewFromString(val.String())
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate response returned non-positive rate %s", rate)
	}
	return rate, nil
}
