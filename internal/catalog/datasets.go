package catalog

import "fmt"

// MaxPackages bounds how many shipments the packages enricher flattens into
// numbered pkgN_* columns.
const MaxPackages = 3

// packageFields generates the numbered shipment columns plus the tracking and
// label columns that hang off them.
func packageFields() []Field {
	var fields []Field
	for i := 1; i <= MaxPackages; i++ {
		p := fmt.Sprintf("pkg%d_", i)
		fields = append(fields,
			Field{Key: p + "courier_code", Label: fmt.Sprintf("Package %d courier", i), Type: TypeText, Enrichment: "packages"},
			Field{Key: p + "tracking_number", Label: fmt.Sprintf("Package %d tracking number", i), Type: TypeText, Enrichment: "packages"},
			Field{Key: p + "tracking_url", Label: fmt.Sprintf("Package %d tracking URL", i), Type: TypeText, Enrichment: "packages"},
			Field{Key: p + "date", Label: fmt.Sprintf("Package %d shipped", i), Type: TypeDatetime, Enrichment: "packages"},
			Field{Key: p + "tracking_status", Label: fmt.Sprintf("Package %d status", i), Type: TypeText, Enrichment: "tracking"},
			Field{Key: p + "tracking_events", Label: fmt.Sprintf("Package %d status events", i), Type: TypeNumber, Enrichment: "tracking"},
			Field{Key: p + "label_available", Label: fmt.Sprintf("Package %d label", i), Type: TypeBoolean, Enrichment: "label"},
			Field{Key: p + "label_url", Label: fmt.Sprintf("Package %d label URL", i), Type: TypeText, Enrichment: "label"},
			Field{Key: p + "protocol_available", Label: fmt.Sprintf("Package %d pickup protocol", i), Type: TypeBoolean, Enrichment: "label"},
			Field{Key: p + "protocol_url", Label: fmt.Sprintf("Package %d protocol URL", i), Type: TypeText, Enrichment: "label"},
		)
	}
	return fields
}

// documentFields generates the ds1 (main document) and ds2 (correction or
// second most recent) column pairs.
func documentFields() []Field {
	var fields []Field
	for i := 1; i <= 2; i++ {
		p := fmt.Sprintf("ds%d_", i)
		fields = append(fields,
			Field{Key: p + "number", Label: fmt.Sprintf("Document %d number", i), Type: TypeText, Enrichment: "documents"},
			Field{Key: p + "type", Label: fmt.Sprintf("Document %d type", i), Type: TypeText, Enrichment: "documents"},
			Field{Key: p + "date", Label: fmt.Sprintf("Document %d date", i), Type: TypeDate, Enrichment: "documents"},
			Field{Key: p + "total_brutto", Label: fmt.Sprintf("Document %d total gross", i), Type: TypeCurrency, Enrichment: "documents"},
		)
	}
	return fields
}

// convertedFields generates the converted_* counterparts the currency
// enricher fills for the dataset's monetary keys.
func convertedFields(moneyKeys ...string) []Field {
	fields := []Field{
		{Key: "converted_currency", Label: "Converted currency", Type: TypeText, Enrichment: "currency"},
		{Key: "converted_rate", Label: "Conversion rate", Type: TypeNumber, Enrichment: "currency"},
		{Key: "converted_rate_date", Label: "Conversion rate date", Type: TypeDate, Enrichment: "currency"},
	}
	for _, k := range moneyKeys {
		fields = append(fields, Field{
			Key:        "converted_" + k,
			Label:      "Converted " + k,
			Type:       TypeCurrency,
			Enrichment: "currency",
		})
	}
	return fields
}

func ordersGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Order", Fields: []Field{
			{Key: "order_id", Label: "Order ID", Type: TypeNumber},
			{Key: "order_source", Label: "Source", Type: TypeText},
			{Key: "order_source_name", Label: "Source name", Type: TypeText, Computed: true},
			{Key: "order_status_id", Label: "Status ID", Type: TypeNumber},
			{Key: "order_status_name", Label: "Status", Type: TypeText, Computed: true},
			{Key: "date_add", Label: "Created", Type: TypeDatetime},
			{Key: "date_confirmed", Label: "Confirmed", Type: TypeDatetime},
			{Key: "date_in_status", Label: "In status since", Type: TypeDatetime},
			{Key: "currency", Label: "Currency", Type: TypeText},
			{Key: "payment_method", Label: "Payment method", Type: TypeText},
			{Key: "payment_method_cod", Label: "Cash on delivery", Type: TypeBoolean},
			{Key: "payment_done", Label: "Paid", Type: TypeCurrency},
			{Key: "payment_status", Label: "Payment status", Type: TypeText, Computed: true},
			{Key: "user_comments", Label: "Buyer comments", Type: TypeText},
			{Key: "admin_comments", Label: "Seller comments", Type: TypeText},
			{Key: "want_invoice", Label: "Invoice requested", Type: TypeBoolean},
		}},
		{Name: "Customer", Fields: []Field{
			{Key: "email", Label: "E-mail", Type: TypeText},
			{Key: "phone", Label: "Phone", Type: TypeText},
			{Key: "user_login", Label: "Buyer login", Type: TypeText},
			{Key: "delivery_fullname", Label: "Delivery name", Type: TypeText},
			{Key: "delivery_company", Label: "Delivery company", Type: TypeText},
			{Key: "delivery_address", Label: "Delivery address", Type: TypeText},
			{Key: "delivery_city", Label: "Delivery city", Type: TypeText},
			{Key: "delivery_postcode", Label: "Delivery postcode", Type: TypeText},
			{Key: "delivery_country_code", Label: "Delivery country", Type: TypeText},
			{Key: "invoice_fullname", Label: "Invoice name", Type: TypeText},
			{Key: "invoice_company", Label: "Invoice company", Type: TypeText},
			{Key: "invoice_nip", Label: "Tax number", Type: TypeText},
			{Key: "invoice_address", Label: "Invoice address", Type: TypeText},
			{Key: "invoice_city", Label: "Invoice city", Type: TypeText},
			{Key: "invoice_postcode", Label: "Invoice postcode", Type: TypeText},
			{Key: "invoice_country_code", Label: "Invoice country", Type: TypeText},
		}},
		{Name: "Delivery", Fields: []Field{
			{Key: "delivery_method", Label: "Delivery method", Type: TypeText},
			{Key: "delivery_price", Label: "Delivery price", Type: TypeCurrency},
			{Key: "delivery_price_netto", Label: "Delivery price net", Type: TypeCurrency, Computed: true},
			{Key: "delivery_point_name", Label: "Pickup point", Type: TypeText},
			{Key: "courier_name", Label: "Courier", Type: TypeText, Computed: true},
			{Key: "warehouse_id", Label: "Warehouse ID", Type: TypeNumber},
			{Key: "warehouse_name", Label: "Warehouse", Type: TypeText, Computed: true},
		}},
		{Name: "Totals", Fields: []Field{
			{Key: "products_count", Label: "Distinct products", Type: TypeNumber, Computed: true},
			{Key: "products_quantity", Label: "Total quantity", Type: TypeNumber, Computed: true},
			{Key: "products_value_brutto", Label: "Products gross", Type: TypeCurrency, Computed: true},
			{Key: "products_value_netto", Label: "Products net", Type: TypeCurrency, Computed: true},
			{Key: "order_value_brutto", Label: "Order gross", Type: TypeCurrency, Computed: true},
			{Key: "order_value_netto", Label: "Order net", Type: TypeCurrency, Computed: true},
		}},
		{Name: "Packages", Fields: packageFields()},
		{Name: "Documents", Fields: documentFields()},
		{Name: "Payments", Fields: []Field{
			{Key: "last_payment_date", Label: "Last payment", Type: TypeDatetime, Enrichment: "payments"},
			{Key: "last_payment_amount", Label: "Last payment amount", Type: TypeCurrency, Enrichment: "payments"},
			{Key: "payments_sum", Label: "Payments sum", Type: TypeCurrency, Enrichment: "payments"},
			{Key: "payments_count", Label: "Payments count", Type: TypeNumber, Enrichment: "payments"},
		}},
		{Name: "Credit", Fields: []Field{
			{Key: "credit_current_debt", Label: "Current debt", Type: TypeCurrency, Enrichment: "credit"},
			{Key: "credit_overdue_debt", Label: "Overdue debt", Type: TypeCurrency, Enrichment: "credit"},
			{Key: "credit_available", Label: "Available credit", Type: TypeCurrency, Enrichment: "credit"},
			{Key: "credit_orders_count", Label: "Orders count", Type: TypeNumber, Enrichment: "credit"},
			{Key: "credit_orders_value", Label: "Orders value", Type: TypeCurrency, Enrichment: "credit"},
		}},
		{Name: "Currency conversion", Fields: convertedFields(
			"payment_done", "delivery_price",
			"products_value_brutto", "products_value_netto",
			"order_value_brutto", "order_value_netto",
		)},
	}
}

func orderItemGroups() []FieldGroup {
	groups := []FieldGroup{
		{Name: "Order", Fields: []Field{
			{Key: "order_id", Label: "Order ID", Type: TypeNumber},
			{Key: "date_add", Label: "Created", Type: TypeDatetime},
			{Key: "order_status_id", Label: "Status ID", Type: TypeNumber},
			{Key: "order_status_name", Label: "Status", Type: TypeText, Computed: true},
			{Key: "currency", Label: "Currency", Type: TypeText},
			{Key: "email", Label: "E-mail", Type: TypeText},
		}},
		{Name: "Line item", Fields: []Field{
			{Key: "item_index", Label: "Line", Type: TypeNumber},
			{Key: "product_id", Label: "Product ID", Type: TypeText},
			{Key: "variant_id", Label: "Variant ID", Type: TypeText},
			{Key: "name", Label: "Product name", Type: TypeText},
			{Key: "sku", Label: "SKU", Type: TypeText},
			{Key: "ean", Label: "EAN", Type: TypeText},
			{Key: "quantity", Label: "Quantity", Type: TypeNumber},
			{Key: "price_brutto", Label: "Price gross", Type: TypeCurrency},
			{Key: "tax_rate", Label: "VAT rate", Type: TypeNumber},
			{Key: "weight", Label: "Weight", Type: TypeNumber},
			{Key: "location", Label: "Location", Type: TypeText},
		}},
		{Name: "Inventory", Fields: []Field{
			{Key: "inventory_avg_cost", Label: "Average cost", Type: TypeCurrency, Enrichment: "inventory"},
			{Key: "inventory_location", Label: "Inventory location", Type: TypeText, Enrichment: "inventory"},
			{Key: "inventory_tax_rate", Label: "Inventory VAT", Type: TypeNumber, Enrichment: "inventory"},
			{Key: "unit_margin", Label: "Unit margin", Type: TypeCurrency, Enrichment: "inventory"},
			{Key: "margin_percent", Label: "Margin %", Type: TypeNumber, Enrichment: "inventory"},
		}},
		{Name: "Currency conversion", Fields: convertedFields("price_brutto")},
	}
	return groups
}

func productGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Product", Fields: []Field{
			{Key: "product_id", Label: "Product ID", Type: TypeText},
			{Key: "sku", Label: "SKU", Type: TypeText},
			{Key: "ean", Label: "EAN", Type: TypeText},
			{Key: "name", Label: "Name", Type: TypeText},
			{Key: "quantity", Label: "Total stock", Type: TypeNumber},
			{Key: "price_brutto", Label: "Price gross", Type: TypeCurrency},
			{Key: "tax_rate", Label: "VAT rate", Type: TypeNumber},
			{Key: "weight", Label: "Weight", Type: TypeNumber},
			{Key: "average_cost", Label: "Average cost", Type: TypeCurrency, Enrichment: "inventory"},
			{Key: "average_landed_cost", Label: "Average landed cost", Type: TypeCurrency, Enrichment: "inventory"},
			{Key: "locations", Label: "Locations", Type: TypeArray, Enrichment: "inventory"},
		}},
	}
}

func returnGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Return", Fields: []Field{
			{Key: "return_id", Label: "Return ID", Type: TypeNumber},
			{Key: "order_id", Label: "Order ID", Type: TypeNumber},
			{Key: "date_add", Label: "Created", Type: TypeDatetime},
			{Key: "status_id", Label: "Status ID", Type: TypeNumber},
			{Key: "currency", Label: "Currency", Type: TypeText},
			{Key: "reason", Label: "Reason", Type: TypeText},
			{Key: "items_count", Label: "Items", Type: TypeNumber},
			{Key: "refund_total", Label: "Refund total", Type: TypeCurrency},
		}},
		{Name: "Currency conversion", Fields: convertedFields("refund_total")},
	}
}

func externalProductGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Product", Fields: []Field{
			{Key: "product_id", Label: "Product ID", Type: TypeText},
			{Key: "storage_id", Label: "Storage", Type: TypeText},
			{Key: "sku", Label: "SKU", Type: TypeText},
			{Key: "name", Label: "Name", Type: TypeText},
			{Key: "quantity", Label: "Stock", Type: TypeNumber},
			{Key: "price", Label: "Price", Type: TypeCurrency},
		}},
	}
}

func purchaseOrderGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Purchase order", Fields: []Field{
			{Key: "order_id", Label: "PO ID", Type: TypeNumber},
			{Key: "document_number", Label: "Number", Type: TypeText},
			{Key: "date_add", Label: "Created", Type: TypeDatetime},
			{Key: "supplier_id", Label: "Supplier", Type: TypeNumber},
			{Key: "status", Label: "Status", Type: TypeText},
			{Key: "items_count", Label: "Items", Type: TypeNumber},
			{Key: "total_netto", Label: "Total net", Type: TypeCurrency},
			{Key: "total_brutto", Label: "Total gross", Type: TypeCurrency},
			{Key: "currency", Label: "Currency", Type: TypeText},
		}},
		{Name: "Currency conversion", Fields: convertedFields("total_netto", "total_brutto")},
	}
}

func warehouseDocumentGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Document", Fields: []Field{
			{Key: "document_id", Label: "Document ID", Type: TypeNumber},
			{Key: "document_type", Label: "Type", Type: TypeText},
			{Key: "date_add", Label: "Created", Type: TypeDatetime},
			{Key: "warehouse_id", Label: "Warehouse ID", Type: TypeNumber},
			{Key: "warehouse_name", Label: "Warehouse", Type: TypeText, Computed: true},
			{Key: "items_count", Label: "Items", Type: TypeNumber},
			{Key: "total_value", Label: "Total value", Type: TypeCurrency},
		}},
	}
}

func invoiceGroups() []FieldGroup {
	return []FieldGroup{
		{Name: "Invoice", Fields: []Field{
			{Key: "invoice_id", Label: "Invoice ID", Type: TypeNumber},
			{Key: "order_id", Label: "Order ID", Type: TypeNumber},
			{Key: "number", Label: "Number", Type: TypeText},
			{Key: "date_add", Label: "Issued", Type: TypeDatetime},
			{Key: "payer_name", Label: "Payer", Type: TypeText},
			{Key: "currency", Label: "Currency", Type: TypeText},
			{Key: "total_netto", Label: "Total net", Type: TypeCurrency},
			{Key: "total_brutto", Label: "Total gross", Type: TypeCurrency},
		}},
		{Name: "Currency conversion", Fields: convertedFields("total_netto", "total_brutto")},
	}
}

func buildDatasets() []*Dataset {
	ordersExtra := map[string]string{"extra_field_": ""}
	productsExtra := map[string]string{
		"stock_warehouse_": "stock",
		"price_group_":     "prices",
	}
	return []*Dataset{
		{ID: "orders", Label: "Orders", Groups: ordersGroups(), ExtraKeys: ordersExtra},
		{ID: "order_items", Label: "Order items", Groups: orderItemGroups(), ExtraKeys: ordersExtra},
		{ID: "returns", Label: "Returns", Groups: returnGroups()},
		{ID: "products", Label: "Inventory products", Groups: productGroups(),
			RequiredOptions: []string{"inventory_id"}, ExtraKeys: productsExtra},
		{ID: "external_products", Label: "External storage products", Groups: externalProductGroups(),
			RequiredOptions: []string{"storage_id"}},
		{ID: "purchase_orders", Label: "Purchase orders", Groups: purchaseOrderGroups(),
			RequiredOptions: []string{"inventory_id"}},
		{ID: "warehouse_documents", Label: "Warehouse documents", Groups: warehouseDocumentGroups(),
			RequiredOptions: []string{"inventory_id"}},
		{ID: "invoices", Label: "Invoices", Groups: invoiceGroups()},
	}
}
