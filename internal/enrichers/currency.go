package enrichers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/models"
	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/rates"
)

// currencyEnricher converts the dataset's monetary columns into the
// configured target currency. Rates are looked up once per distinct
// (source currency, anchor date) pair; records already in the target
// currency pass through untouched.
type currencyEnricher struct {
	svc      *rates.Service
	dataset  *catalog.Dataset
	target   string
	source   models.RateSource
	now      func() time.Time
	moneyKey []string
	stats    pipeline.Stats
}

func newCurrency(deps Deps) pipeline.Enricher {
	e := &currencyEnricher{
		svc: deps.Rates,
		now: time.Now,
	}
	if deps.Config != nil {
		e.target = strings.ToUpper(deps.Config.Currency.TargetCurrency)
		e.source = deps.Config.Currency.RateSource
	}
	if deps.Dataset != nil {
		e.dataset = deps.Dataset
		for _, g := range deps.Dataset.Groups {
			for _, f := range g.Fields {
				if f.Type == catalog.TypeCurrency && f.Enrichment == "" {
					e.moneyKey = append(e.moneyKey, f.Key)
				}
			}
		}
	}
	return e
}

func (e *currencyEnricher) Name() string { return "currency" }

func (e *currencyEnricher) Stats() pipeline.Stats { return e.stats }

func (e *currencyEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	if e.target == "" {
		return nil
	}

	type pair struct {
		currency string
		date     string
	}
	resolved := make(map[pair]rates.Rate)
	var warnings []error

	for _, rec := range recs {
		source := strings.ToUpper(pipeline.Str(rec.Get("currency")))
		if source == "" || source == e.target {
			continue
		}
		anchor := e.anchorDate(rec)
		key := pair{currency: source, date: anchor.Format("2006-01-02")}

		rate, ok := resolved[key]
		if !ok {
			var err error
			start := time.Now()
			rate, err = e.svc.GetRate(ctx, source, e.target, anchor)
			e.stats.Calls++
			e.stats.Duration += time.Since(start)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !errors.Is(err, rates.ErrRateUnavailable) {
					return err
				}
				// Degrade to an identity rate and keep exporting.
				rate = rates.Rate{Rate: 1, EffectiveDate: key.date}
				warnings = append(warnings, fmt.Errorf("no rate for %s on %s, exported unconverted", source, key.date))
			}
			resolved[key] = rate
		}

		e.apply(rec, rate)
	}
	return errors.Join(warnings...)
}

func (e *currencyEnricher) apply(rec pipeline.Record, rate rates.Rate) {
	rec.SetIfAbsent("converted_currency", e.target)
	rec.SetIfAbsent("converted_rate", rate.Rate)
	rec.SetIfAbsent("converted_rate_date", rate.EffectiveDate)
	for _, key := range e.moneyKey {
		v, ok := pipeline.Float(rec.Get(key))
		if !ok {
			continue
		}
		rec.SetIfAbsent("converted_"+key, pipeline.Round2(v*rate.Rate))
	}
}

// anchorDate picks the date whose rate applies to the record. Values may be
// epoch seconds or YYYY-MM-DD strings; anything unusable falls back to the
// order date, then to today.
func (e *currencyEnricher) anchorDate(rec pipeline.Record) time.Time {
	switch e.source {
	case models.RateSourceDocument:
		if t, ok := parseAnchor(rec.Get("ds1_date")); ok {
			return t
		}
	case models.RateSourceShip:
		if t, ok := parseAnchor(rec.Get("pkg1_date")); ok {
			return t
		}
	case models.RateSourceToday:
		return e.now()
	}
	if t, ok := parseAnchor(rec.Get("date_add")); ok {
		return t
	}
	return e.now()
}

func parseAnchor(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case string:
		if x == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse("2006-01-02", x); err == nil {
			return t, true
		}
	}
	if epoch, ok := pipeline.Int(v); ok && epoch > 0 {
		return time.Unix(epoch, 0).UTC(), true
	}
	return time.Time{}, false
}
