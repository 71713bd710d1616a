package enrichers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// paymentsEnricher summarizes each order's payment history: the newest
// event's date and amount, the sum over all events, and the event count.
type paymentsEnricher struct {
	base
}

func newPayments(deps Deps) pipeline.Enricher {
	return &paymentsEnricher{base{client: deps.Client}}
}

func (e *paymentsEnricher) Name() string { return "payments" }

var paymentKeys = []string{
	"last_payment_date", "last_payment_amount", "payments_sum", "payments_count",
}

func (e *paymentsEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	buckets := recordsByKey(recs, "order_id")
	orderIDs := uniqueStrings(recs, "order_id")

	errs := forEachKey(ctx, orderIDs, func(ctx context.Context, orderID string) error {
		body, err := e.call(ctx, "getOrderPaymentsHistory", upstream.Params{"order_id": orderID})
		if err != nil {
			for _, rec := range buckets[orderID] {
				fillEmpty(rec, paymentKeys)
			}
			return fmt.Errorf("order %s payments: %w", orderID, err)
		}

		var payload struct {
			Payments []struct {
				Date       int64   `json:"date"`
				PaidBefore float64 `json:"paid_before"`
				PaidAfter  float64 `json:"paid_after"`
			} `json:"payments"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode payments for order %s: %w", orderID, err)
		}

		var (
			sum        float64
			lastDate   int64
			lastAmount float64
		)
		for _, p := range payload.Payments {
			amount := p.PaidAfter - p.PaidBefore
			sum += amount
			if p.Date >= lastDate {
				lastDate = p.Date
				lastAmount = amount
			}
		}

		for _, rec := range buckets[orderID] {
			if len(payload.Payments) == 0 {
				rec.SetIfAbsent("last_payment_date", "")
				rec.SetIfAbsent("last_payment_amount", "")
			} else {
				rec.SetIfAbsent("last_payment_date", lastDate)
				rec.SetIfAbsent("last_payment_amount", pipeline.Round2(lastAmount))
			}
			rec.SetIfAbsent("payments_sum", pipeline.Round2(sum))
			rec.SetIfAbsent("payments_count", len(payload.Payments))
		}
		return nil
	})
	return errors.Join(errs...)
}
