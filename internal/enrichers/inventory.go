package enrichers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// inventoryDataBatch bounds how many product ids one detail call carries.
const inventoryDataBatch = 1000

// inventoryEnricher joins inventory product details (average costs, storage
// locations, catalog VAT) onto records by product id and derives per-unit
// margin from the record's selling price.
type inventoryEnricher struct {
	base
	inventoryID string
}

func newInventory(deps Deps) pipeline.Enricher {
	var invID string
	if deps.Config != nil {
		invID = deps.Config.Options["inventory_id"]
	}
	return &inventoryEnricher{base: base{client: deps.Client}, inventoryID: invID}
}

func (e *inventoryEnricher) Name() string { return "inventory" }

func (e *inventoryEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	productIDs := uniqueStrings(recs, "product_id")
	if len(productIDs) == 0 {
		return nil
	}

	details := make(map[string]map[string]any, len(productIDs))
	var errs []error
	for start := 0; start < len(productIDs); start += inventoryDataBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + inventoryDataBatch
		if end > len(productIDs) {
			end = len(productIDs)
		}

		params := upstream.Params{"products": productIDs[start:end]}
		if e.inventoryID != "" {
			params["inventory_id"] = e.inventoryID
		}
		body, err := e.call(ctx, "getInventoryProductsData", params)
		if err != nil {
			errs = append(errs, fmt.Errorf("inventory details batch at %d: %w", start, err))
			continue
		}

		var payload struct {
			Products map[string]map[string]any `json:"products"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			errs = append(errs, fmt.Errorf("decode getInventoryProductsData: %w", err))
			continue
		}
		for id, p := range payload.Products {
			details[id] = p
		}
	}

	for _, rec := range recs {
		detail, ok := details[pipeline.Str(rec.Get("product_id"))]
		if !ok {
			fillEmpty(rec, []string{
				"inventory_avg_cost", "inventory_location", "inventory_tax_rate",
				"unit_margin", "margin_percent",
				"average_cost", "average_landed_cost", "locations",
			})
			continue
		}
		applyInventoryDetail(rec, detail)
	}
	return errors.Join(errs...)
}

func applyInventoryDetail(rec pipeline.Record, detail map[string]any) {
	avgCost, hasCost := pipeline.Float(detail["average_cost"])

	rec.SetIfAbsent("average_cost", detail["average_cost"])
	rec.SetIfAbsent("average_landed_cost", detail["average_landed_cost"])
	rec.SetIfAbsent("locations", detail["locations"])

	rec.SetIfAbsent("inventory_avg_cost", detail["average_cost"])
	rec.SetIfAbsent("inventory_tax_rate", detail["tax_rate"])
	rec.SetIfAbsent("inventory_location", firstLocation(detail["locations"]))

	price, hasPrice := pipeline.Float(rec.Get("price_brutto"))
	if !hasCost || !hasPrice {
		return
	}
	margin := pipeline.Round2(price - avgCost)
	rec.SetIfAbsent("unit_margin", margin)
	if price != 0 {
		rec.SetIfAbsent("margin_percent", pipeline.Round2((price-avgCost)/price*100))
	}
}

func firstLocation(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		var parts []string
		for _, item := range x {
			if s := pipeline.Str(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
