package fetchers

import (
	"context"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// orderItemsFetcher reuses the orders fetch and expands one output record
// per line item. Parent-context keys stay on every expanded record so
// downstream enrichers can key by order id.
type orderItemsFetcher struct {
	orders *ordersFetcher
}

func newOrderItemsFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &orderItemsFetcher{
		orders: &ordersFetcher{base{client: client, max: maxRecords}},
	}
}

// parentKeys are copied from the order onto every expanded line record.
var parentKeys = []string{
	"order_id", "date_add", "order_status_id", "currency", "email", "_contractor_id",
}

func (f *orderItemsFetcher) Fetch(ctx context.Context, filters map[string]any, opts map[string]string) ([]pipeline.Record, error) {
	orders, err := f.orders.Fetch(ctx, filters, opts)
	if err != nil {
		return nil, err
	}

	var out []pipeline.Record
	for _, order := range orders {
		items, _ := order["_products"].([]any)
		for i, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			rec := pipeline.Record{"item_index": i + 1}
			for _, k := range parentKeys {
				if v, ok := order[k]; ok {
					rec[k] = v
				}
			}
			for k, v := range item {
				rec[k] = v
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *orderItemsFetcher) Stats() pipeline.Stats { return f.orders.Stats() }
