package enrichers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// labelEnricher checks shipping label and pickup protocol availability per
// shipment. A missing document is a normal answer, not an error.
type labelEnricher struct {
	base
}

func newLabel(deps Deps) pipeline.Enricher {
	return &labelEnricher{base{client: deps.Client}}
}

func (e *labelEnricher) Name() string { return "label" }

func (e *labelEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	slots, packageIDs := shipmentSlots(recs)
	if len(packageIDs) == 0 {
		return nil
	}

	var mu sync.Mutex
	errs := forEachKey(ctx, packageIDs, func(ctx context.Context, pkgID string) error {
		labelURL, labelOK, err := e.documentURL(ctx, "getLabel", pkgID)
		if err != nil {
			return fmt.Errorf("package %s label: %w", pkgID, err)
		}
		protoURL, protoOK, err := e.documentURL(ctx, "getPickupProtocol", pkgID)
		if err != nil {
			return fmt.Errorf("package %s pickup protocol: %w", pkgID, err)
		}

		mu.Lock()
		for _, slot := range slots[pkgID] {
			slot.rec.SetIfAbsent(slot.prefix+"label_available", labelOK)
			slot.rec.SetIfAbsent(slot.prefix+"label_url", labelURL)
			slot.rec.SetIfAbsent(slot.prefix+"protocol_available", protoOK)
			slot.rec.SetIfAbsent(slot.prefix+"protocol_url", protoURL)
		}
		mu.Unlock()
		return nil
	})
	return errors.Join(errs...)
}

// documentURL asks for one shipment document. An upstream client error means
// the document does not exist for this shipment.
func (e *labelEnricher) documentURL(ctx context.Context, method, pkgID string) (url string, available bool, err error) {
	body, err := e.call(ctx, method, upstream.Params{"package_id": pkgID})
	if err != nil {
		if _, ok := upstream.AsClientError(err); ok {
			return "", false, nil
		}
		return "", false, err
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false, fmt.Errorf("decode %s: %w", method, err)
	}
	if payload.URL == "" {
		return "", false, nil
	}
	return payload.URL, true, nil
}
