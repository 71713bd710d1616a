package enrichers

import (
	"context"

	"sheetbridge/internal/pipeline"
)

// pricesEnricher spreads per-price-group amounts into price_group_<id>
// columns, walking the inventory price listing the same way the stock
// enricher walks stock levels.
type pricesEnricher struct {
	base
	inventoryID string
}

func newPrices(deps Deps) pipeline.Enricher {
	var invID string
	if deps.Config != nil {
		invID = deps.Config.Options["inventory_id"]
	}
	return &pricesEnricher{base: base{client: deps.Client}, inventoryID: invID}
}

func (e *pricesEnricher) Name() string { return "prices" }

func (e *pricesEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	byProduct, err := e.walkCatalog(ctx, "getInventoryProductsPrices", "prices", e.inventoryID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		prices, ok := byProduct[pipeline.Str(rec.Get("product_id"))]
		if !ok {
			continue
		}
		for groupID, price := range prices {
			rec.SetIfAbsent("price_group_"+groupID, price)
		}
	}
	return nil
}
