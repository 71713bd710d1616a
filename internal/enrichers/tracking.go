package enrichers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// trackingEnricher pulls the courier status history for every flattened
// shipment and writes the newest status plus the event count. It reads the
// private _pkgN_package_id keys left by the packages enricher.
type trackingEnricher struct {
	base
}

func newTracking(deps Deps) pipeline.Enricher {
	return &trackingEnricher{base{client: deps.Client}}
}

func (e *trackingEnricher) Name() string { return "tracking" }

// shipmentSlot ties one flattened shipment back to its record and column.
type shipmentSlot struct {
	rec    pipeline.Record
	prefix string
}

// shipmentSlots indexes every populated pkgN slot by package id.
func shipmentSlots(recs []pipeline.Record) (map[string][]shipmentSlot, []string) {
	slots := make(map[string][]shipmentSlot)
	var order []string
	for _, rec := range recs {
		for i := 1; i <= catalog.MaxPackages; i++ {
			prefix := fmt.Sprintf("pkg%d_", i)
			pkgID := pipeline.Str(rec.Get("_" + prefix + "package_id"))
			if pkgID == "" {
				continue
			}
			if _, seen := slots[pkgID]; !seen {
				order = append(order, pkgID)
			}
			slots[pkgID] = append(slots[pkgID], shipmentSlot{rec: rec, prefix: prefix})
		}
	}
	return slots, order
}

func (e *trackingEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	slots, packageIDs := shipmentSlots(recs)
	if len(packageIDs) == 0 {
		return nil
	}

	var mu sync.Mutex
	errs := forEachKey(ctx, packageIDs, func(ctx context.Context, pkgID string) error {
		body, err := e.call(ctx, "getCourierPackagesStatusHistory", upstream.Params{"package_id": pkgID})
		if err != nil {
			mu.Lock()
			for _, slot := range slots[pkgID] {
				fillEmpty(slot.rec, []string{slot.prefix + "tracking_status", slot.prefix + "tracking_events"})
			}
			mu.Unlock()
			return fmt.Errorf("package %s status history: %w", pkgID, err)
		}

		var payload struct {
			History []struct {
				Status string `json:"tracking_status"`
				Date   int64  `json:"status_date"`
			} `json:"packages_history"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode status history for package %s: %w", pkgID, err)
		}

		newest := ""
		if len(payload.History) > 0 {
			events := payload.History
			sort.SliceStable(events, func(i, j int) bool { return events[i].Date > events[j].Date })
			newest = events[0].Status
		}

		mu.Lock()
		for _, slot := range slots[pkgID] {
			slot.rec.SetIfAbsent(slot.prefix+"tracking_status", newest)
			slot.rec.SetIfAbsent(slot.prefix+"tracking_events", len(payload.History))
		}
		mu.Unlock()
		return nil
	})
	return errors.Join(errs...)
}
