package transform

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/models"
	"sheetbridge/internal/pipeline"
)

func ordersTransformer(t *testing.T, cfg *models.ExportConfig, dicts *Dictionaries) *Transformer {
	ds, ok := catalog.GetDataset("orders")
	require.True(t, ok)
	if cfg.Dataset == "" {
		cfg.Dataset = "orders"
	}
	return New(ds, cfg, dicts, zerolog.Nop())
}

func TestTransformFormatsTypedCells(t *testing.T) {
	cfg := &models.ExportConfig{
		SelectedFields: []string{"order_id", "date_add", "payment_done", "want_invoice", "email"},
	}
	tr := ordersTransformer(t, cfg, nil)

	headers, rows := tr.Transform([]pipeline.Record{{
		"order_id":     101,
		"date_add":     1705312800,
		"payment_done": 99.9,
		"want_invoice": 1,
		"email":        "buyer@example.com",
	}})

	require.Equal(t, []string{"Order ID", "Created", "Paid", "Invoice requested", "E-mail"}, headers)
	require.Len(t, rows, 1)
	require.Equal(t, "101.00", rows[0][0])
	require.Equal(t, "2024-01-15 10:00:00", rows[0][1])
	require.Equal(t, "99.90", rows[0][2])
	require.Equal(t, "TAK", rows[0][3])
	require.Equal(t, "buyer@example.com", rows[0][4])
}

func TestTransformEmptySelectionYieldsNothing(t *testing.T) {
	tr := ordersTransformer(t, &models.ExportConfig{}, nil)

	headers, rows := tr.Transform([]pipeline.Record{
		{"order_id": 101},
		{"order_id": 102},
	})
	require.Empty(t, headers)
	require.Empty(t, rows, "no columns means no rows, not zero-width ones")
}

func TestTransformBooleanLabelsConfigurable(t *testing.T) {
	cfg := &models.ExportConfig{
		SelectedFields: []string{"want_invoice", "payment_method_cod"},
		BoolTrue:       "Y",
		BoolFalse:      "N",
	}
	tr := ordersTransformer(t, cfg, nil)

	_, rows := tr.Transform([]pipeline.Record{{
		"want_invoice":       1,
		"payment_method_cod": false,
	}})
	require.Equal(t, "Y", rows[0][0])
	require.Equal(t, "N", rows[0][1])
}

func TestTransformMillisecondTimestamps(t *testing.T) {
	cfg := &models.ExportConfig{SelectedFields: []string{"date_add", "date_confirmed"}}
	tr := ordersTransformer(t, cfg, nil)

	_, rows := tr.Transform([]pipeline.Record{{
		"date_add":       int64(1705316400000), // millis
		"date_confirmed": "2024-01-15 11:00:00",
	}})
	require.Equal(t, "2024-01-15 11:00:00", rows[0][0])
	require.Equal(t, "2024-01-15 11:00:00", rows[0][1])
}

func TestTransformHeaderResolution(t *testing.T) {
	cfg := &models.ExportConfig{
		SelectedFields: []string{"order_id", "extra_field_117", "mystery_key", "_empty_1"},
		CustomHeaders:  map[string]string{"order_id": "Nr", "_empty_1": "Spacer"},
	}
	tr := ordersTransformer(t, cfg, nil)

	headers, rows := tr.Transform([]pipeline.Record{{
		"order_id":        7,
		"extra_field_117": "gift",
		"mystery_key":     "x",
	}})

	// Custom header beats label beats raw key; empty columns render blank.
	require.Equal(t, []string{"Nr", "extra_field_117", "mystery_key", "Spacer"}, headers)
	require.Equal(t, "gift", rows[0][1])
	require.Equal(t, "x", rows[0][2])
	require.Equal(t, "", rows[0][3])
}

func TestTransformCustomTemplateColumn(t *testing.T) {
	cfg := &models.ExportConfig{
		SelectedFields: []string{"_custom_link"},
		CustomFields: map[string]models.CustomField{
			"_custom_link": {Label: "Order link", Template: "https://panel.example/orders/{order_id}?src={order_source}"},
		},
	}
	tr := ordersTransformer(t, cfg, nil)

	headers, rows := tr.Transform([]pipeline.Record{{
		"order_id":     101,
		"order_source": "shop",
	}})
	require.Equal(t, []string{"Order link"}, headers)
	require.Equal(t, "https://panel.example/orders/101?src=shop", rows[0][0])
}

func TestTransformNullMarker(t *testing.T) {
	cfg := &models.ExportConfig{
		SelectedFields: []string{"email", "payment_done"},
		NullMarker:     "—",
	}
	tr := ordersTransformer(t, cfg, nil)

	_, rows := tr.Transform([]pipeline.Record{{}})
	require.Equal(t, "—", rows[0][0])
	require.Equal(t, "—", rows[0][1])
}

func TestTransformArrayJoin(t *testing.T) {
	ds, _ := catalog.GetDataset("products")
	cfg := &models.ExportConfig{Dataset: "products", SelectedFields: []string{"locations"}}
	tr := New(ds, cfg, nil, zerolog.Nop())

	_, rows := tr.Transform([]pipeline.Record{{
		"locations": []any{"A-1-2", "B-3-4"},
	}})
	require.Equal(t, "A-1-2, B-3-4", rows[0][0])
}

func TestTransformComputedOrderColumns(t *testing.T) {
	cfg := &models.ExportConfig{SelectedFields: []string{
		"order_status_name", "products_count", "products_quantity",
		"products_value_brutto", "order_value_brutto", "payment_status", "delivery_price_netto",
	}}
	dicts := &Dictionaries{OrderStatuses: map[string]string{"5": "Shipped"}}
	tr := ordersTransformer(t, cfg, dicts)

	_, rows := tr.Transform([]pipeline.Record{{
		"order_status_id": 5,
		"delivery_price":  12.30,
		"payment_done":    37.0,
		"_products": []any{
			map[string]any{"quantity": 2.0, "price_brutto": 12.30, "tax_rate": 23.0},
			map[string]any{"quantity": 1.0, "price_brutto": 5.0, "tax_rate": 23.0},
		},
	}})

	require.Equal(t, "Shipped", rows[0][0])
	require.Equal(t, "2.00", rows[0][1])
	require.Equal(t, "3.00", rows[0][2])
	require.Equal(t, "29.60", rows[0][3]) // 2*12.30 + 5.00
	require.Equal(t, "41.90", rows[0][4]) // products + delivery
	require.Equal(t, "partly_paid", rows[0][5])
	require.Equal(t, "10.00", rows[0][6]) // 12.30 / 1.23
}

func TestTransformDictionaryFallsBackToRawID(t *testing.T) {
	cfg := &models.ExportConfig{SelectedFields: []string{"order_status_name"}}
	tr := ordersTransformer(t, cfg, &Dictionaries{})

	_, rows := tr.Transform([]pipeline.Record{{"order_status_id": 42}})
	require.Equal(t, "42", rows[0][0])
}

func TestTransformEnrichedValueWinsOverComputed(t *testing.T) {
	cfg := &models.ExportConfig{SelectedFields: []string{"products_count"}}
	tr := ordersTransformer(t, cfg, nil)

	_, rows := tr.Transform([]pipeline.Record{{
		"products_count": 9,
		"_products":      []any{map[string]any{"quantity": 1.0}},
	}})
	require.Equal(t, "9.00", rows[0][0])
}
