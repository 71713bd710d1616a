package transform

import (
	"sheetbridge/internal/pipeline"
)

// synthesize fills the dataset's computed columns on the record before cell
// rendering. Everything goes through SetIfAbsent so enriched or upstream
// values win over derivation.
func (t *Transformer) synthesize(rec pipeline.Record) {
	switch t.dataset.ID {
	case "orders":
		t.synthesizeOrder(rec)
	case "order_items":
		rec.SetIfAbsent("order_status_name", t.dicts.OrderStatus(pipeline.Str(rec.Get("order_status_id"))))
	case "warehouse_documents":
		rec.SetIfAbsent("warehouse_name", t.dicts.Warehouse(pipeline.Str(rec.Get("warehouse_id"))))
	}
}

func (t *Transformer) synthesizeOrder(rec pipeline.Record) {
	rec.SetIfAbsent("order_status_name", t.dicts.OrderStatus(pipeline.Str(rec.Get("order_status_id"))))
	rec.SetIfAbsent("order_source_name", t.dicts.OrderSource(pipeline.Str(rec.Get("order_source"))))
	rec.SetIfAbsent("courier_name", t.dicts.Courier(pipeline.Str(rec.Get("delivery_method"))))
	rec.SetIfAbsent("warehouse_name", t.dicts.Warehouse(pipeline.Str(rec.Get("warehouse_id"))))

	DeriveOrderTotals(rec)
}

// DeriveOrderTotals computes the order's aggregate money columns from its
// line items. The orders fetcher calls it during normalization so the totals
// exist before enrichment and currency conversion can reach them; the
// transformer calls it again as a fallback for records that arrived without
// the derivation. Everything is SetIfAbsent, so the first writer wins.
func DeriveOrderTotals(rec pipeline.Record) {
	var (
		count    int
		quantity float64
		brutto   float64
		netto    float64
	)
	if items, ok := rec.Get("_products").([]any); ok {
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			count++
			qty, _ := pipeline.Float(item["quantity"])
			price, _ := pipeline.Float(item["price_brutto"])
			vat, vatOK := pipeline.Float(item["tax_rate"])
			if !vatOK {
				vat = defaultVATPercent
			}
			quantity += qty
			brutto += price * qty
			netto += price / (1 + vat/100) * qty
		}
	}
	rec.SetIfAbsent("products_count", count)
	rec.SetIfAbsent("products_quantity", quantity)
	rec.SetIfAbsent("products_value_brutto", pipeline.Round2(brutto))
	rec.SetIfAbsent("products_value_netto", pipeline.Round2(netto))

	delivery, _ := pipeline.Float(rec.Get("delivery_price"))
	deliveryNetto := pipeline.Round2(delivery / (1 + float64(defaultVATPercent)/100))
	rec.SetIfAbsent("delivery_price_netto", deliveryNetto)

	orderBrutto, _ := pipeline.Float(rec.Get("products_value_brutto"))
	orderNetto, _ := pipeline.Float(rec.Get("products_value_netto"))
	rec.SetIfAbsent("order_value_brutto", pipeline.Round2(orderBrutto+delivery))
	rec.SetIfAbsent("order_value_netto", pipeline.Round2(orderNetto+deliveryNetto))

	paid, _ := pipeline.Float(rec.Get("payment_done"))
	total, _ := pipeline.Float(rec.Get("order_value_brutto"))
	rec.SetIfAbsent("payment_status", paymentStatus(paid, total))
}

func paymentStatus(paid, total float64) string {
	switch {
	case total > 0 && paid >= total:
		return "paid"
	case paid > 0:
		return "partly_paid"
	default:
		return "unpaid"
	}
}
