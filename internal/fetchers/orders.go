package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/transform"
	"sheetbridge/internal/upstream"
)

// ordersPageLimit is how many orders the upstream returns per call.
const ordersPageLimit = 100

// ordersFetcher pages through getOrders with a cursor on the last order id.
type ordersFetcher struct {
	base
}

func newOrdersFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &ordersFetcher{base{client: client, max: maxRecords}}
}

// orderFilters translates the configuration filter shape into getOrders
// parameters. Unknown filter keys are ignored.
func orderFilters(filters map[string]any) upstream.Params {
	params := upstream.Params{}
	for k, v := range filters {
		switch k {
		case "date_from":
			params["date_confirmed_from"] = v
		case "date_to":
			params["date_confirmed_to"] = v
		case "status":
			params["status_id"] = v
		case "source":
			params["filter_order_source"] = v
		case "include_unconfirmed":
			params["get_unconfirmed_orders"] = v
		}
	}
	return params
}

func (f *ordersFetcher) Fetch(ctx context.Context, filters map[string]any, _ map[string]string) ([]pipeline.Record, error) {
	return fetchAllPages(ctx, f.max, func(ctx context.Context, cont string) ([]pipeline.Record, string, error) {
		params := orderFilters(filters)
		if cont != "" {
			params["id_from"] = cont
		}

		body, err := f.call(ctx, "getOrders", params)
		if err != nil {
			return nil, "", err
		}

		var payload struct {
			Orders []map[string]any `json:"orders"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, "", fmt.Errorf("decode getOrders: %w", err)
		}

		recs := make([]pipeline.Record, 0, len(payload.Orders))
		var lastID int64
		for _, o := range payload.Orders {
			rec := normalizeOrder(o)
			if id, ok := pipeline.Int(rec["order_id"]); ok {
				lastID = id
			}
			recs = append(recs, rec)
		}

		if len(payload.Orders) < ordersPageLimit {
			return recs, "", nil
		}
		return recs, strconv.FormatInt(lastID+1, 10), nil
	})
}

// normalizeOrder maps one upstream order object onto the dataset's field
// keys. The raw line-item array moves to the private _products key feeding
// the item expansion, and the aggregate money columns are derived here so
// they are on the record before enrichment runs.
func normalizeOrder(o map[string]any) pipeline.Record {
	rec := pipeline.Record{}
	for k, v := range o {
		switch k {
		case "products":
			rec["_products"] = v
		case "contractor_id":
			rec["_contractor_id"] = v
		default:
			rec[k] = v
		}
	}
	flattenExtraFields(rec)
	transform.DeriveOrderTotals(rec)
	return rec
}
