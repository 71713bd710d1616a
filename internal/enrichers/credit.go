package enrichers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// creditEnricher joins trade-credit standing onto orders by contractor. The
// contractor id rides on the private _contractor_id key the orders fetcher
// lifts off the raw payload.
type creditEnricher struct {
	base
}

func newCredit(deps Deps) pipeline.Enricher {
	return &creditEnricher{base{client: deps.Client}}
}

func (e *creditEnricher) Name() string { return "credit" }

var creditKeys = []string{
	"credit_current_debt", "credit_overdue_debt", "credit_available",
	"credit_orders_count", "credit_orders_value",
}

func (e *creditEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	buckets := recordsByKey(recs, "_contractor_id")
	contractorIDs := uniqueStrings(recs, "_contractor_id")

	errs := forEachKey(ctx, contractorIDs, func(ctx context.Context, contractorID string) error {
		body, err := e.call(ctx, "getContractorCredit", upstream.Params{"contractor_id": contractorID})
		if err != nil {
			for _, rec := range buckets[contractorID] {
				fillEmpty(rec, creditKeys)
			}
			return fmt.Errorf("contractor %s credit: %w", contractorID, err)
		}

		var payload struct {
			CreditLimit float64 `json:"credit_limit"`
			CurrentDebt float64 `json:"current_debt"`
			OverdueDebt float64 `json:"overdue_debt"`
			OrdersCount int     `json:"orders_count"`
			OrdersValue float64 `json:"orders_value"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode credit for contractor %s: %w", contractorID, err)
		}

		available := payload.CreditLimit - payload.CurrentDebt
		if available < 0 {
			available = 0
		}
		for _, rec := range buckets[contractorID] {
			rec.SetIfAbsent("credit_current_debt", pipeline.Round2(payload.CurrentDebt))
			rec.SetIfAbsent("credit_overdue_debt", pipeline.Round2(payload.OverdueDebt))
			rec.SetIfAbsent("credit_available", pipeline.Round2(available))
			rec.SetIfAbsent("credit_orders_count", payload.OrdersCount)
			rec.SetIfAbsent("credit_orders_value", pipeline.Round2(payload.OrdersValue))
		}
		return nil
	})

	// Orders without a contractor render blank credit columns.
	for _, rec := range recs {
		if pipeline.Str(rec.Get("_contractor_id")) == "" {
			fillEmpty(rec, creditKeys)
		}
	}
	return errors.Join(errs...)
}
