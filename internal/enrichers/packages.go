package enrichers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// trackingURLTemplates synthesizes a public tracking link per courier when
// the upstream payload carries none. {tracking_number} is substituted.
var trackingURLTemplates = map[string]string{
	"dpd":      "https://tracktrace.dpd.com.pl/parcelDetails?p1={tracking_number}",
	"inpost":   "https://inpost.pl/sledzenie-przesylek?number={tracking_number}",
	"dhl":      "https://www.dhl.com/pl-pl/home/tracking.html?tracking-id={tracking_number}",
	"gls":      "https://gls-group.eu/PL/pl/sledzenie-paczek?match={tracking_number}",
	"ups":      "https://www.ups.com/track?tracknum={tracking_number}",
	"fedex":    "https://www.fedex.com/fedextrack/?trknbr={tracking_number}",
	"poczta":   "https://emonitoring.poczta-polska.pl/?numer={tracking_number}",
	"orlen":    "https://nadaj.orlenpaczka.pl/sledz-paczke/?numer={tracking_number}",
	"pocztex":  "https://emonitoring.poczta-polska.pl/?numer={tracking_number}",
	"meest":    "https://t.meest-group.com/en/{tracking_number}",
	"packeta":  "https://tracking.packeta.com/pl/?id={tracking_number}",
	"geodis":   "https://geodis.pl/tracking?ref={tracking_number}",
	"raben":    "https://my.raben-group.com/tracking/{tracking_number}",
	"schenker": "https://www.dbschenker.com/app/tracking-public/?refNumber={tracking_number}",
}

func trackingURLFor(courierCode, trackingNumber string) string {
	if trackingNumber == "" {
		return ""
	}
	tpl, ok := trackingURLTemplates[strings.ToLower(courierCode)]
	if !ok {
		return ""
	}
	return strings.ReplaceAll(tpl, "{tracking_number}", trackingNumber)
}

// packagesEnricher flattens each parent order's shipments into numbered
// pkgN_* columns, up to catalog.MaxPackages. Package ids ride along on
// private keys for the tracking and label enrichers.
type packagesEnricher struct {
	base
}

func newPackages(deps Deps) pipeline.Enricher {
	return &packagesEnricher{base{client: deps.Client}}
}

func (e *packagesEnricher) Name() string { return "packages" }

func (e *packagesEnricher) contributedKeys() []string {
	var keys []string
	for i := 1; i <= catalog.MaxPackages; i++ {
		p := fmt.Sprintf("pkg%d_", i)
		keys = append(keys, p+"courier_code", p+"tracking_number", p+"tracking_url", p+"date")
	}
	return keys
}

func (e *packagesEnricher) Enrich(ctx context.Context, recs []pipeline.Record) error {
	buckets := recordsByKey(recs, "order_id")
	orderIDs := uniqueStrings(recs, "order_id")

	errs := forEachKey(ctx, orderIDs, func(ctx context.Context, orderID string) error {
		body, err := e.call(ctx, "getOrderPackages", upstream.Params{"order_id": orderID})
		if err != nil {
			for _, rec := range buckets[orderID] {
				fillEmpty(rec, e.contributedKeys())
			}
			return fmt.Errorf("order %s packages: %w", orderID, err)
		}

		var payload struct {
			Packages []map[string]any `json:"packages"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decode getOrderPackages for order %s: %w", orderID, err)
		}

		for _, rec := range buckets[orderID] {
			applyPackages(rec, payload.Packages)
		}
		return nil
	})
	return errors.Join(errs...)
}

func applyPackages(rec pipeline.Record, packages []map[string]any) {
	for i, pkg := range packages {
		if i >= catalog.MaxPackages {
			break
		}
		p := fmt.Sprintf("pkg%d_", i+1)
		courier := pipeline.Str(pkg["courier_code"])
		tracking := pipeline.Str(pkg["tracking_number"])
		if tracking == "" {
			tracking = pipeline.Str(pkg["courier_package_nr"])
		}
		url := pipeline.Str(pkg["tracking_url"])
		if url == "" {
			url = trackingURLFor(courier, tracking)
		}

		rec.SetIfAbsent(p+"courier_code", courier)
		rec.SetIfAbsent(p+"tracking_number", tracking)
		rec.SetIfAbsent(p+"tracking_url", url)
		if v, ok := pkg["date_add"]; ok {
			rec.SetIfAbsent(p+"date", v)
		}
		if id := pipeline.Str(pkg["package_id"]); id != "" {
			rec.SetIfAbsent("_"+p+"package_id", id)
		}
	}
}

// fillEmpty writes empty strings for keys an enricher could not populate so
// the output columns render as blanks instead of carrying stale data.
func fillEmpty(rec pipeline.Record, keys []string) {
	for _, k := range keys {
		rec.SetIfAbsent(k, "")
	}
}
