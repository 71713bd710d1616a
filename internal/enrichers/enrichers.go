// Package enrichers augments fetched record sets with related upstream data.
// Every enricher writes through Record.SetIfAbsent so chained enrichers
// compose safely regardless of execution order, and treats upstream errors
// as soft: affected records get empty values and the run keeps going.
package enrichers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/models"
	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/rates"
	"sheetbridge/internal/upstream"
)

// Deps carries everything an enricher may need. All fields are shared,
// run-scoped collaborators.
type Deps struct {
	Client  *upstream.Client
	Rates   *rates.Service
	Dataset *catalog.Dataset
	Config  *models.ExportConfig
}

// Factory builds one enricher from the run's dependencies.
type Factory func(Deps) pipeline.Enricher

var registry = map[string]Factory{
	"packages":  newPackages,
	"documents": newDocuments,
	"inventory": newInventory,
	"stock":     newStock,
	"prices":    newPrices,
	"tracking":  newTracking,
	"label":     newLabel,
	"payments":  newPayments,
	"credit":    newCredit,
	"currency":  newCurrency,
}

// New resolves an enrichment tag to its implementation.
func New(tag string, deps Deps) (pipeline.Enricher, error) {
	f, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("no enricher registered for capability %q", tag)
	}
	return f(deps), nil
}

// base is shared call accounting.
type base struct {
	client *upstream.Client
	stats  pipeline.Stats
}

func (b *base) call(ctx context.Context, method string, params upstream.Params) (json.RawMessage, error) {
	start := time.Now()
	body, err := b.client.Call(ctx, method, params)
	b.stats.Calls++
	b.stats.Duration += time.Since(start)
	return body, err
}

func (b *base) Stats() pipeline.Stats { return b.stats }

// uniqueStrings returns the distinct non-empty values of key across records,
// in first-seen order.
func uniqueStrings(recs []pipeline.Record, key string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range recs {
		v := pipeline.Str(r.Get(key))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// recordsByKey buckets records by the string form of key.
func recordsByKey(recs []pipeline.Record, key string) map[string][]pipeline.Record {
	out := make(map[string][]pipeline.Record)
	for _, r := range recs {
		v := pipeline.Str(r.Get(key))
		if v == "" {
			continue
		}
		out[v] = append(out[v], r)
	}
	return out
}
