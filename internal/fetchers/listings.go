package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/upstream"
)

// The remaining listing fetchers share one shape: a numeric-page or
// cursor-paginated method returning an array of objects that already match
// the dataset's field keys.

// returnsFetcher pages getOrderReturns by number.
type returnsFetcher struct {
	base
}

func newReturnsFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &returnsFetcher{base{client: client, max: maxRecords}}
}

func (f *returnsFetcher) Fetch(ctx context.Context, filters map[string]any, _ map[string]string) ([]pipeline.Record, error) {
	return f.pagedList(ctx, "getOrderReturns", "returns", listingPageLimit, func(params upstream.Params) {
		if v, ok := filters["date_from"]; ok {
			params["date_from"] = v
		}
		if v, ok := filters["date_to"]; ok {
			params["date_to"] = v
		}
		if v, ok := filters["status"]; ok {
			params["status_id"] = v
		}
	})
}

// externalProductsFetcher pages an external storage's product list.
type externalProductsFetcher struct {
	base
}

func newExternalProductsFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &externalProductsFetcher{base{client: client, max: maxRecords}}
}

func (f *externalProductsFetcher) Fetch(ctx context.Context, _ map[string]any, opts map[string]string) ([]pipeline.Record, error) {
	storageID := opts["storage_id"]
	if storageID == "" {
		return nil, fmt.Errorf("external_products dataset requires the storage_id option")
	}
	return f.pagedList(ctx, "getExternalStorageProductsList", "products", inventoryPageLimit, func(params upstream.Params) {
		params["storage_id"] = storageID
	})
}

// purchaseOrdersFetcher pages inventory purchase orders.
type purchaseOrdersFetcher struct {
	base
}

func newPurchaseOrdersFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &purchaseOrdersFetcher{base{client: client, max: maxRecords}}
}

func (f *purchaseOrdersFetcher) Fetch(ctx context.Context, filters map[string]any, opts map[string]string) ([]pipeline.Record, error) {
	inventoryID := opts["inventory_id"]
	if inventoryID == "" {
		return nil, fmt.Errorf("purchase_orders dataset requires the inventory_id option")
	}
	return f.pagedList(ctx, "getInventoryPurchaseOrders", "purchase_orders", listingPageLimit, func(params upstream.Params) {
		params["inventory_id"] = inventoryID
		if v, ok := filters["date_from"]; ok {
			params["date_from"] = v
		}
	})
}

// warehouseDocumentsFetcher pages inventory warehouse documents.
type warehouseDocumentsFetcher struct {
	base
}

func newWarehouseDocumentsFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &warehouseDocumentsFetcher{base{client: client, max: maxRecords}}
}

func (f *warehouseDocumentsFetcher) Fetch(ctx context.Context, filters map[string]any, opts map[string]string) ([]pipeline.Record, error) {
	inventoryID := opts["inventory_id"]
	if inventoryID == "" {
		return nil, fmt.Errorf("warehouse_documents dataset requires the inventory_id option")
	}
	return f.pagedList(ctx, "getInventoryDocuments", "documents", listingPageLimit, func(params upstream.Params) {
		params["inventory_id"] = inventoryID
		if v, ok := filters["date_from"]; ok {
			params["date_from"] = v
		}
		if v, ok := filters["document_type"]; ok {
			params["document_type"] = v
		}
	})
}

// listingPageLimit is the upstream page size for order-side listings.
const listingPageLimit = 100

// invoicesFetcher cursors getInvoices by the last invoice id.
type invoicesFetcher struct {
	base
}

func newInvoicesFetcher(client *upstream.Client, maxRecords int) pipeline.Fetcher {
	return &invoicesFetcher{base{client: client, max: maxRecords}}
}

const invoicesPageLimit = 100

func (f *invoicesFetcher) Fetch(ctx context.Context, filters map[string]any, _ map[string]string) ([]pipeline.Record, error) {
	return fetchAllPages(ctx, f.max, func(ctx context.Context, cont string) ([]pipeline.Record, string, error) {
		params := upstream.Params{}
		if v, ok := filters["date_from"]; ok {
			params["date_from"] = v
		}
		if cont != "" {
			params["id_from"] = cont
		}

		body, err := f.call(ctx, "getInvoices", params)
		if err != nil {
			return nil, "", err
		}

		var payload struct {
			Invoices []map[string]any `json:"invoices"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, "", fmt.Errorf("decode getInvoices: %w", err)
		}

		recs := make([]pipeline.Record, 0, len(payload.Invoices))
		var lastID int64
		for _, inv := range payload.Invoices {
			rec := pipeline.Record(inv)
			if id, ok := pipeline.Int(rec["invoice_id"]); ok {
				lastID = id
			}
			recs = append(recs, rec)
		}
		if len(recs) < invoicesPageLimit {
			return recs, "", nil
		}
		return recs, strconv.FormatInt(lastID+1, 10), nil
	})
}

// pagedList drives a numeric-page listing method whose payload is an array
// under listKey. A short page (fewer than pageLimit items) ends pagination.
func (b *base) pagedList(ctx context.Context, method, listKey string, pageLimit int, addParams func(upstream.Params)) ([]pipeline.Record, error) {
	return fetchAllPages(ctx, b.max, func(ctx context.Context, cont string) ([]pipeline.Record, string, error) {
		page := 1
		if cont != "" {
			page, _ = strconv.Atoi(cont)
		}
		params := upstream.Params{"page": page}
		if addParams != nil {
			addParams(params)
		}

		body, err := b.call(ctx, method, params)
		if err != nil {
			return nil, "", err
		}

		var payload map[string]json.RawMessage
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, "", fmt.Errorf("decode %s: %w", method, err)
		}
		var items []map[string]any
		if raw, ok := payload[listKey]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, "", fmt.Errorf("decode %s.%s: %w", method, listKey, err)
			}
		}

		recs := make([]pipeline.Record, 0, len(items))
		for _, it := range items {
			recs = append(recs, pipeline.Record(it))
		}
		if len(recs) < pageLimit {
			return recs, "", nil
		}
		return recs, strconv.Itoa(page + 1), nil
	})
}
