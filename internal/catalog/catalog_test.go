package catalog

import (
	"testing"
)

func TestFieldKeysUniquePerDataset(t *testing.T) {
	for id, d := range datasets {
		seen := make(map[string]bool)
		for _, g := range d.Groups {
			for _, f := range g.Fields {
				if seen[f.Key] {
					t.Errorf("dataset %s: duplicate field key %s", id, f.Key)
				}
				seen[f.Key] = true
			}
		}
	}
}

func TestComputedFieldsHaveSource(t *testing.T) {
	// A computed field is either filled by an enricher or synthesized by the
	// transformer; either way it must not be both.
	for id, d := range datasets {
		for _, g := range d.Groups {
			for _, f := range g.Fields {
				if f.Computed && f.Enrichment != "" {
					t.Errorf("dataset %s: field %s is computed and enriched", id, f.Key)
				}
			}
		}
	}
}

func TestRequiredEnrichmentsFromSelection(t *testing.T) {
	cases := []struct {
		name     string
		dataset  string
		selected []string
		currency bool
		want     []string
	}{
		{
			name:     "no enrichments",
			dataset:  "orders",
			selected: []string{"order_id", "date_add", "email"},
			want:     nil,
		},
		{
			name:     "packages inferred",
			dataset:  "orders",
			selected: []string{"order_id", "pkg1_tracking_number"},
			want:     []string{"packages"},
		},
		{
			name:     "tracking pulls packages first",
			dataset:  "orders",
			selected: []string{"pkg1_tracking_status"},
			want:     []string{"packages", "tracking"},
		},
		{
			name:     "dependency not duplicated",
			dataset:  "orders",
			selected: []string{"pkg1_tracking_number", "pkg1_tracking_status", "pkg2_label_url"},
			want:     []string{"packages", "tracking", "label"},
		},
		{
			name:     "currency appended",
			dataset:  "orders",
			selected: []string{"order_id"},
			currency: true,
			want:     []string{"currency"},
		},
		{
			name:     "selection order preserved",
			dataset:  "orders",
			selected: []string{"payments_sum", "ds1_number", "credit_available"},
			want:     []string{"payments", "documents", "credit"},
		},
		{
			name:     "dynamic stock key",
			dataset:  "products",
			selected: []string{"product_id", "stock_warehouse_42", "price_group_7"},
			want:     []string{"stock", "prices"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RequiredEnrichments(tc.dataset, tc.selected, tc.currency)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestRecognizesExtraKey(t *testing.T) {
	d, ok := GetDataset("orders")
	if !ok {
		t.Fatal("orders dataset missing")
	}
	if !d.RecognizesExtraKey("extra_field_117") {
		t.Error("extra_field_117 should be recognized")
	}
	if d.RecognizesExtraKey("mystery_column") {
		t.Error("mystery_column should not be recognized")
	}
}
