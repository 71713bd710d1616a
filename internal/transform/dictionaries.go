package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// Dictionaries are the id-to-name lookups computed columns draw from. They
// are loaded once per run; a failed load degrades to raw ids, it does not
// block the export.
type Dictionaries struct {
	OrderStatuses map[string]string
	OrderSources  map[string]string
	Couriers      map[string]string
	Warehouses    map[string]string
}

func (d *Dictionaries) OrderStatus(id string) string { return lookupOr(d.OrderStatuses, id) }
func (d *Dictionaries) OrderSource(id string) string { return lookupOr(d.OrderSources, id) }
func (d *Dictionaries) Courier(code string) string   { return lookupOr(d.Couriers, code) }
func (d *Dictionaries) Warehouse(id string) string   { return lookupOr(d.Warehouses, id) }

// lookupOr falls back to the raw id so a thin dictionary never blanks a cell.
func lookupOr(m map[string]string, id string) string {
	if id == "" {
		return ""
	}
	if name, ok := m[id]; ok {
		return name
	}
	return id
}

// LoadDictionaries pulls the four upstream listings computed columns need.
// Each listing failure is reported but leaves that dictionary empty.
func LoadDictionaries(ctx context.Context, client *upstream.Client) (*Dictionaries, []error) {
	d := &Dictionaries{}
	var errs []error

	load := func(method, listKey, idKey, nameKey string, dst *map[string]string) {
		m, err := loadListing(ctx, client, method, listKey, idKey, nameKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
			return
		}
		*dst = m
	}

	load("getOrderStatusList", "statuses", "id", "name", &d.OrderStatuses)
	load("getOrderSources", "sources", "id", "name", &d.OrderSources)
	load("getCouriersList", "couriers", "courier_code", "name", &d.Couriers)
	load("getInventoryWarehouses", "warehouses", "warehouse_id", "name", &d.Warehouses)
	return d, errs
}

func loadListing(ctx context.Context, client *upstream.Client, method, listKey, idKey, nameKey string) (map[string]string, error) {
	body, err := client.Call(ctx, method, upstream.Params{})
	if err != nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	var items []map[string]any
	if raw, ok := payload[listKey]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", method, listKey, err)
		}
	}

	out := make(map[string]string, len(items))
	for _, item := range items {
		id := pipeline.Str(item[idKey])
		name := pipeline.Str(item[nameKey])
		if id != "" && name != "" {
			out[id] = name
		}
	}
	return out, nil
}
