package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PivotCurrency is the currency the provider quotes everything against.
const PivotCurrency = "PLN"

const dateLayout = "2006-01-02"

// Quote is one provider quotation: the mid rate of a currency against the
// pivot on its effective date.
type Quote struct {
	Mid           float64
	EffectiveDate string
}

// Provider fetches quotes from the central-bank rate API.
// A 404 on a dated lookup means "no quote for this day" and is not an error.
type Provider struct {
	baseURL string
	http    *http.Client
}

func NewProvider(baseURL string) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type ratesResponse struct {
	Code  string `json:"code"`
	Rates []struct {
		Mid           float64 `json:"mid"`
		EffectiveDate string  `json:"effectiveDate"`
	} `json:"rates"`
}

// FetchDate returns the quote for currency on the exact date. ok is false
// when the provider has no quote for that day.
func (p *Provider) FetchDate(ctx context.Context, currency string, date time.Time) (Quote, bool, error) {
	url := fmt.Sprintf("%s/rates/%s/%s?format=json", p.baseURL, strings.ToLower(currency), date.Format(dateLayout))
	return p.fetch(ctx, url)
}

// FetchLatest returns the most recent quote for currency.
func (p *Provider) FetchLatest(ctx context.Context, currency string) (Quote, bool, error) {
	url := fmt.Sprintf("%s/rates/%s/last?format=json", p.baseURL, strings.ToLower(currency))
	return p.fetch(ctx, url)
}

func (p *Provider) fetch(ctx context.Context, url string) (Quote, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Quote{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Quote{}, false, fmt.Errorf("rate provider status: %s", resp.Status)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, false, fmt.Errorf("decode rate response: %w", err)
	}
	if len(body.Rates) == 0 {
		return Quote{}, false, nil
	}
	return Quote{Mid: body.Rates[0].Mid, EffectiveDate: body.Rates[0].EffectiveDate}, true, nil
}
