package enrichers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// documentsEnricher attaches fiscal documents to orders. Instead of one call
// per order it pulls the document listing once, bounded below by the oldest
// order in the batch, and buckets client-side.
type documentsEnricher struct {
	base
}

func newDocuments(deps Deps) pipeline.Enricher {
	return &documentsEnricher{base{client: deps.Client}}
}

func (e *documentsEnricher) Name() string { return "documents" }

type fiscalDocument struct {
	OrderID     string
	Number      string
	Type        string
	Date        any
	DateEpoch   int64
	TotalBrutto any
}

func (e *documentsEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	if len(recs) == 0 {
		return nil
	}

	params := upstream.Params{}
	if from, ok := oldestEpoch(recs, "date_add"); ok {
		params["date_from"] = from
	}

	body, err := e.call(ctx, "getInvoices", params)
	if err != nil {
		return fmt.Errorf("document listing: %w", err)
	}

	var payload struct {
		Invoices []map[string]any `json:"invoices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode getInvoices: %w", err)
	}

	byOrder := make(map[string][]fiscalDocument)
	for _, inv := range payload.Invoices {
		orderID := pipeline.Str(inv["order_id"])
		if orderID == "" {
			continue
		}
		doc := fiscalDocument{
			OrderID:     orderID,
			Number:      pipeline.Str(inv["number"]),
			Type:        pipeline.Str(inv["type"]),
			Date:        inv["date_add"],
			TotalBrutto: inv["total_brutto"],
		}
		doc.DateEpoch, _ = pipeline.Int(inv["date_add"])
		byOrder[orderID] = append(byOrder[orderID], doc)
	}
	for _, docs := range byOrder {
		sort.SliceStable(docs, func(i, j int) bool {
			return docs[i].DateEpoch > docs[j].DateEpoch
		})
	}

	for _, rec := range recs {
		orderID := pipeline.Str(rec.Get("order_id"))
		main, second := pickDocuments(byOrder[orderID])
		applyDocument(rec, "ds1_", main)
		applyDocument(rec, "ds2_", second)
	}
	return nil
}

// pickDocuments chooses the main document (newest non-correction, falling
// back to the newest of any type) and the secondary one (newest correction,
// falling back to the second most recent).
func pickDocuments(docs []fiscalDocument) (main, second *fiscalDocument) {
	for i := range docs {
		if docs[i].Type != "correction" {
			main = &docs[i]
			break
		}
	}
	if main == nil && len(docs) > 0 {
		main = &docs[0]
	}
	for i := range docs {
		if docs[i].Type == "correction" {
			second = &docs[i]
			break
		}
	}
	if second == nil {
		for i := range docs {
			if main != nil && &docs[i] != main {
				second = &docs[i]
				break
			}
		}
	}
	return main, second
}

func applyDocument(rec pipeline.Record, prefix string, doc *fiscalDocument) {
	if doc == nil {
		rec.SetIfAbsent(prefix+"number", "")
		rec.SetIfAbsent(prefix+"type", "")
		rec.SetIfAbsent(prefix+"date", "")
		rec.SetIfAbsent(prefix+"total_brutto", "")
		return
	}
	rec.SetIfAbsent(prefix+"number", doc.Number)
	rec.SetIfAbsent(prefix+"type", doc.Type)
	rec.SetIfAbsent(prefix+"date", doc.Date)
	rec.SetIfAbsent(prefix+"total_brutto", doc.TotalBrutto)
}

// oldestEpoch returns the smallest numeric value of key across records.
func oldestEpoch(recs []pipeline.Record, key string) (int64, bool) {
	var min int64
	found := false
	for _, r := range recs {
		v, ok := pipeline.Int(r.Get(key))
		if !ok || v == 0 {
			continue
		}
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min, found
}
