// Package fetchers produces the primary record stream for each dataset.
// One fetcher is registered per dataset identifier; the dispatcher resolves
// it by id. Output order is fetcher-defined and not re-sorted downstream.
package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// Factory builds a fetcher bound to one tenant's upstream client.
type Factory func(client *upstream.Client, maxRecords int) pipeline.Fetcher

var registry = map[string]Factory{
	"orders":              newOrdersFetcher,
	"order_items":         newOrderItemsFetcher,
	"returns":             newReturnsFetcher,
	"products":            newProductsFetcher,
	"external_products":   newExternalProductsFetcher,
	"purchase_orders":     newPurchaseOrdersFetcher,
	"warehouse_documents": newWarehouseDocumentsFetcher,
	"invoices":            newInvoicesFetcher,
}

// New resolves the fetcher for a dataset id.
func New(dataset string, client *upstream.Client, maxRecords int) (pipeline.Fetcher, error) {
	f, ok := registry[dataset]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for dataset %q", dataset)
	}
	return f(client, maxRecords), nil
}

// base carries the pieces every fetcher shares: the tenant client, the
// record ceiling and call accounting.
type base struct {
	client *upstream.Client
	max    int
	stats  pipeline.Stats
}

func (b *base) call(ctx context.Context, method string, params upstream.Params) (json.RawMessage, error) {
	start := time.Now()
	body, err := b.client.Call(ctx, method, params)
	b.stats.Calls++
	b.stats.Duration += time.Since(start)
	return body, err
}

func (b *base) Stats() pipeline.Stats { return b.stats }

// pageFn fetches one page. It returns the page's records and an opaque
// continuation token; an empty token ends pagination.
type pageFn func(ctx context.Context, cont string) ([]pipeline.Record, string, error)

// fetchAllPages drives a pageFn until the continuation runs out, the record
// ceiling is reached, or the caller cancels.
func fetchAllPages(ctx context.Context, maxRecords int, fn pageFn) ([]pipeline.Record, error) {
	var out []pipeline.Record
	cont := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, next, err := fn(ctx, cont)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		if maxRecords > 0 && len(out) >= maxRecords {
			return out[:maxRecords], nil
		}
		if next == "" {
			return out, nil
		}
		cont = next
	}
}

// flattenExtraFields lifts the upstream extra_fields map into top-level
// extra_field_<id> keys.
func flattenExtraFields(rec pipeline.Record) {
	raw, ok := rec["extra_fields"]
	if !ok {
		return
	}
	if m, ok := raw.(map[string]any); ok {
		for id, v := range m {
			rec["extra_field_"+id] = v
		}
	}
	delete(rec, "extra_fields")
}
