package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"sheetbridge/internal/metrics"
)

// ErrRateUnavailable means no rate at all could be produced for a currency.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// maxWalkbackDays bounds the backwards day-by-day search over non-trading days.
const maxWalkbackDays = 7

// Rate is the result of one conversion lookup. EffectiveDate may differ from
// the requested date when the provider had no quote that day.
type Rate struct {
	Rate          float64
	EffectiveDate string
}

// Service computes cross-currency rates against the provider's pivot,
// caching quotes by (currency, date).
type Service struct {
	provider *Provider
	cache    *quoteCache
}

func NewService(provider *Provider) *Service {
	return &Service{provider: provider, cache: newQuoteCache()}
}

// GetRate returns the source→target rate for the given date.
func (s *Service) GetRate(ctx context.Context, source, target string, date time.Time) (Rate, error) {
	source = strings.ToUpper(source)
	target = strings.ToUpper(target)

	if source == target {
		return Rate{Rate: 1, EffectiveDate: date.Format(dateLayout)}, nil
	}

	// Pivot on one side needs a single lookup.
	if target == PivotCurrency {
		q, err := s.lookup(ctx, source, date)
		if err != nil {
			return Rate{}, err
		}
		return Rate{Rate: q.Mid, EffectiveDate: q.EffectiveDate}, nil
	}
	if source == PivotCurrency {
		q, err := s.lookup(ctx, target, date)
		if err != nil {
			return Rate{}, err
		}
		return Rate{Rate: 1 / q.Mid, EffectiveDate: q.EffectiveDate}, nil
	}

	// Cross rate via the pivot, both legs sharing the same date.
	src, err := s.lookup(ctx, source, date)
	if err != nil {
		return Rate{}, err
	}
	dst, err := s.lookup(ctx, target, date)
	if err != nil {
		return Rate{}, err
	}
	return Rate{Rate: src.Mid / dst.Mid, EffectiveDate: src.EffectiveDate}, nil
}

func (s *Service) lookup(ctx context.Context, currency string, date time.Time) (Quote, error) {
	dateStr := date.Format(dateLayout)
	if q, ok := s.cache.get(currency, dateStr); ok {
		metrics.RateLookups.WithLabelValues("hit").Inc()
		return q, nil
	}
	metrics.RateLookups.WithLabelValues("miss").Inc()

	// Exact date, then walk backwards over weekends and holidays.
	day := date
	for i := 0; i <= maxWalkbackDays; i++ {
		q, ok, err := s.provider.FetchDate(ctx, currency, day)
		if err != nil {
			return Quote{}, fmt.Errorf("%w: %s on %s: %v", ErrRateUnavailable, currency, dateStr, err)
		}
		if ok {
			s.cache.put(currency, dateStr, q)
			return q, nil
		}
		day = day.AddDate(0, 0, -1)
	}

	// Last resort: whatever the provider considers most recent.
	q, ok, err := s.provider.FetchLatest(ctx, currency)
	if err != nil || !ok {
		metrics.RateLookups.WithLabelValues("unavailable").Inc()
		return Quote{}, fmt.Errorf("%w: %s on %s", ErrRateUnavailable, currency, dateStr)
	}
	metrics.RateLookups.WithLabelValues("fallback").Inc()
	log.Warn().Str("currency", currency).Str("date", dateStr).
		Str("effective_date", q.EffectiveDate).
		Msg("no dated quote within walkback window, using latest")
	s.cache.put(currency, dateStr, q)
	return q, nil
}
