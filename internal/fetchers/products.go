package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// inventoryPageLimit is the upstream page size for inventory listings.
const inventoryPageLimit = 1000

// productsFetcher walks an inventory's product list page by page. The
// inventory_id option is required; the products come back keyed by id.
type productsFetcher struct {
	base
}

func newProductsFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &productsFetcher{base{client: client, max: maxRecords}}
}

func (f *productsFetcher) Fetch(ctx context.Context, filters map[string]any, opts map[string]string) ([]pipeline.Record, error) {
	inventoryID := opts["inventory_id"]
	if inventoryID == "" {
		return nil, fmt.Errorf("products dataset requires the inventory_id option")
	}

	return fetchAllPages(ctx, f.max, func(ctx context.Context, cont string) ([]pipeline.Record, string, error) {
		page := 1
		if cont != "" {
			page, _ = strconv.Atoi(cont)
		}

		params := upstream.Params{"inventory_id": inventoryID, "page": page}
		if v, ok := filters["name"]; ok {
			params["filter_name"] = v
		}
		if v, ok := filters["sku"]; ok {
			params["filter_sku"] = v
		}

		body, err := f.call(ctx, "getInventoryProductsList", params)
		if err != nil {
			return nil, "", err
		}

		var payload struct {
			Products map[string]map[string]any `json:"products"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, "", fmt.Errorf("decode getInventoryProductsList: %w", err)
		}

		recs := make([]pipeline.Record, 0, len(payload.Products))
		for id, p := range payload.Products {
			rec := pipeline.Record{"product_id": id}
			for k, v := range p {
				rec[k] = v
			}
			recs = append(recs, rec)
		}

		if len(recs) < inventoryPageLimit {
			return recs, "", nil
		}
		return recs, strconv.Itoa(page + 1), nil
	})
}
