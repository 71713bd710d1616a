package enrichers

import (
	"context"
	"encoding/json"
	"fmt"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// catalogPageLimit is the upstream page size for inventory-wide listings.
const catalogPageLimit = 1000

// stockEnricher walks the inventory stock listing page by page and spreads
// per-warehouse quantities into stock_warehouse_<id> columns.
type stockEnricher struct {
	base
	inventoryID string
}

func newStock(deps Deps) pipeline.Enricher {
	var invID string
	if deps.Config != nil {
		invID = deps.Config.Options["inventory_id"]
	}
	return &stockEnricher{base: base{client: deps.Client}, inventoryID: invID}
}

func (e *stockEnricher) Name() string { return "stock" }

func (e *stockEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	byProduct, err := e.walkCatalog(ctx, "getInventoryProductsStock", "stock", e.inventoryID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		levels, ok := byProduct[pipeline.Str(rec.Get("product_id"))]
		if !ok {
			continue
		}
		for warehouseID, qty := range levels {
			rec.SetIfAbsent("stock_warehouse_"+warehouseID, qty)
		}
	}
	return nil
}

// walkCatalog pages an inventory-wide listing and collects the nested map
// under innerKey for every product. Shared with the prices enricher; both
// methods answer {"products": {id: {innerKey: {subId: value}}}}. A short
// page ends the walk.
func (b *base) walkCatalog(ctx context.Context, method, innerKey, inventoryID string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := upstream.Params{"page": page}
		if inventoryID != "" {
			params["inventory_id"] = inventoryID
		}
		body, err := b.call(ctx, method, params)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", method, page, err)
		}

		var payload struct {
			Products map[string]map[string]json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode %s: %w", method, err)
		}

		for id, fields := range payload.Products {
			raw, ok := fields[innerKey]
			if !ok {
				continue
			}
			var inner map[string]any
			if err := json.Unmarshal(raw, &inner); err != nil {
				continue
			}
			out[id] = inner
		}
		if len(payload.Products) < catalogPageLimit {
			return out, nil
		}
	}
}
