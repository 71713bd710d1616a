package enrichers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sheetbridge/internal/catalog"
	"sheetbridge/internal/models"
	"sheetbridge/internal/pipeline"
	"sheetbridge/internal/rates"
	"sheetbridge/internal/upstream"
)

// fakeConnector serves canned responses per (method, discriminator param).
type fakeConnector struct {
	mu        chan struct{}
	responses map[string]string
	calls     map[string]int
}

func newFakeConnector(t *testing.T) (*fakeConnector, *upstream.Client) {
	fc := &fakeConnector{
		mu:        make(chan struct{}, 1),
		responses: make(map[string]string),
		calls:     make(map[string]int),
	}
	fc.mu <- struct{}{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		method := r.PostFormValue("method")
		var params map[string]any
		json.Unmarshal([]byte(r.PostFormValue("parameters")), &params)

		<-fc.mu
		fc.calls[method]++
		resp, ok := fc.responses[fc.key(method, params)]
		if !ok {
			resp = fc.responses[method]
		}
		fc.mu <- struct{}{}

		if resp == "" {
			fmt.Fprintf(w, `{"status":"ERROR","error_code":"ERROR_NOT_FOUND","error_message":"no canned response"}`)
			return
		}
		w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	client := upstream.NewClient(srv.URL, "test-token", upstream.NewBudget(1000, time.Second))
	return fc, client
}

func (fc *fakeConnector) key(method string, params map[string]any) string {
	for _, k := range []string{"order_id", "package_id", "contractor_id"} {
		if v, ok := params[k]; ok {
			return fmt.Sprintf("%s/%v", method, v)
		}
	}
	return method
}

// on registers a response for a method, optionally scoped to one id value.
func (fc *fakeConnector) on(method string, response string) {
	fc.responses[method] = response
}

func (fc *fakeConnector) onID(method, id, response string) {
	fc.responses[method+"/"+id] = response
}

func (fc *fakeConnector) callCount(method string) int {
	<-fc.mu
	defer func() { fc.mu <- struct{}{} }()
	return fc.calls[method]
}

func mustEnricher(t *testing.T, tag string, deps Deps) pipeline.Enricher {
	e, err := New(tag, deps)
	require.NoError(t, err)
	return e
}

func TestPackagesFlattensShipments(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.onID("getOrderPackages", "101", `{"status":"SUCCESS","packages":[
		{"package_id":9001,"courier_code":"dpd","tracking_number":"DPD123","date_add":1705312800},
		{"package_id":9002,"courier_code":"inpost","tracking_number":"IN456","date_add":1705316400}
	]}`)
	fc.onID("getOrderPackages", "102", `{"status":"SUCCESS","packages":[]}`)

	recs := []pipeline.Record{
		{"order_id": 101},
		{"order_id": 102},
	}
	e := mustEnricher(t, "packages", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, "dpd", recs[0]["pkg1_courier_code"])
	require.Equal(t, "DPD123", recs[0]["pkg1_tracking_number"])
	require.Equal(t, "https://tracktrace.dpd.com.pl/parcelDetails?p1=DPD123", recs[0]["pkg1_tracking_url"])
	require.Equal(t, "IN456", recs[0]["pkg2_tracking_number"])
	require.Equal(t, "9001", recs[0]["_pkg1_package_id"])

	// No shipments: columns stay unset and render as blanks downstream.
	require.NotContains(t, recs[1], "pkg1_tracking_number")
}

func TestPackagesCapsAtMaxAndLeavesNoShipmentsBlank(t *testing.T) {
	fc, client := newFakeConnector(t)
	packages := make([]map[string]any, catalog.MaxPackages+2)
	for i := range packages {
		packages[i] = map[string]any{
			"package_id":      9000 + i,
			"courier_code":    "dpd",
			"tracking_number": fmt.Sprintf("N%d", i),
		}
	}
	body, _ := json.Marshal(map[string]any{"status": "SUCCESS", "packages": packages})
	fc.onID("getOrderPackages", "101", string(body))
	fc.onID("getOrderPackages", "102", `{"status":"SUCCESS","packages":[]}`)

	recs := []pipeline.Record{{"order_id": 101}, {"order_id": 102}}
	e := mustEnricher(t, "packages", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, "N2", recs[0][fmt.Sprintf("pkg%d_tracking_number", catalog.MaxPackages)])
	require.NotContains(t, recs[0], fmt.Sprintf("pkg%d_tracking_number", catalog.MaxPackages+1))

	require.NotContains(t, recs[1], "pkg1_tracking_number")
}

func TestPackagesUpstreamFailureIsSoft(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.onID("getOrderPackages", "101", `{"status":"SUCCESS","packages":[{"package_id":1,"courier_code":"gls","tracking_number":"G1"}]}`)
	// order 102 has no canned response and answers ERROR_NOT_FOUND

	recs := []pipeline.Record{{"order_id": 101}, {"order_id": 102}}
	e := mustEnricher(t, "packages", Deps{Client: client})
	err := e.Enrich(context.Background(), recs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "102")

	// The healthy order is still enriched, the failed one filled blank.
	require.Equal(t, "G1", recs[0]["pkg1_tracking_number"])
	require.Equal(t, "", recs[1]["pkg1_tracking_number"])
}

func TestTrackingReadsNewestStatus(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.onID("getCourierPackagesStatusHistory", "9001", `{"status":"SUCCESS","packages_history":[
		{"tracking_status":"in_transit","status_date":1705312800},
		{"tracking_status":"delivered","status_date":1705399200},
		{"tracking_status":"accepted","status_date":1705226400}
	]}`)

	recs := []pipeline.Record{{
		"order_id":             101,
		"pkg1_tracking_number": "DPD123",
		"_pkg1_package_id":     "9001",
	}}
	e := mustEnricher(t, "tracking", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, "delivered", recs[0]["pkg1_tracking_status"])
	require.Equal(t, 3, recs[0]["pkg1_tracking_events"])
}

func TestLabelToleratesMissingDocuments(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.onID("getLabel", "9001", `{"status":"SUCCESS","url":"https://files.example/label-9001.pdf"}`)
	// getPickupProtocol answers ERROR_NOT_FOUND, which means "no protocol"

	recs := []pipeline.Record{{"_pkg1_package_id": "9001"}}
	e := mustEnricher(t, "label", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, true, recs[0]["pkg1_label_available"])
	require.Equal(t, "https://files.example/label-9001.pdf", recs[0]["pkg1_label_url"])
	require.Equal(t, false, recs[0]["pkg1_protocol_available"])
	require.Equal(t, "", recs[0]["pkg1_protocol_url"])
}

func TestDocumentsBucketsSingleListing(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.on("getInvoices", `{"status":"SUCCESS","invoices":[
		{"order_id":101,"number":"FV/1/2024","type":"normal","date_add":1705312800,"total_brutto":123.45},
		{"order_id":101,"number":"KOR/1/2024","type":"correction","date_add":1705399200,"total_brutto":-23.45},
		{"order_id":103,"number":"FV/2/2024","type":"normal","date_add":1705312800,"total_brutto":50}
	]}`)

	recs := []pipeline.Record{
		{"order_id": 101, "date_add": 1705312800},
		{"order_id": 102, "date_add": 1705312800},
	}
	e := mustEnricher(t, "documents", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	// One listing call serves the whole batch.
	require.Equal(t, 1, fc.callCount("getInvoices"))

	require.Equal(t, "FV/1/2024", recs[0]["ds1_number"])
	require.Equal(t, "KOR/1/2024", recs[0]["ds2_number"])
	require.Equal(t, "correction", recs[0]["ds2_type"])

	// No documents: blanks, not absent keys.
	require.Equal(t, "", recs[1]["ds1_number"])
	require.Equal(t, "", recs[1]["ds2_number"])
}

func TestPaymentsSummary(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.onID("getOrderPaymentsHistory", "101", `{"status":"SUCCESS","payments":[
		{"date":1705312800,"paid_before":0,"paid_after":100.50},
		{"date":1705399200,"paid_before":100.50,"paid_after":150.75}
	]}`)

	recs := []pipeline.Record{{"order_id": 101}}
	e := mustEnricher(t, "payments", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, int64(1705399200), recs[0]["last_payment_date"])
	require.Equal(t, 50.25, recs[0]["last_payment_amount"])
	require.Equal(t, 150.75, recs[0]["payments_sum"])
	require.Equal(t, 2, recs[0]["payments_count"])
}

func TestCreditComputesAvailable(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.onID("getContractorCredit", "C-7", `{"status":"SUCCESS","credit_limit":1000,"current_debt":1200,"overdue_debt":300,"orders_count":14,"orders_value":5400.10}`)

	recs := []pipeline.Record{
		{"order_id": 101, "_contractor_id": "C-7"},
		{"order_id": 102},
	}
	e := mustEnricher(t, "credit", Deps{Client: client})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, 1200.0, recs[0]["credit_current_debt"])
	// Debt above the limit clamps availability at zero.
	require.Equal(t, 0.0, recs[0]["credit_available"])
	require.Equal(t, 14, recs[0]["credit_orders_count"])

	// No contractor: blank columns.
	require.Equal(t, "", recs[1]["credit_current_debt"])
}

func TestInventoryMargins(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.on("getInventoryProductsData", `{"status":"SUCCESS","products":{
		"P1":{"average_cost":7.50,"average_landed_cost":8.10,"tax_rate":23,"locations":["A-1-2"]}
	}}`)

	recs := []pipeline.Record{
		{"product_id": "P1", "price_brutto": 12.30},
		{"product_id": "P-missing", "price_brutto": 5},
	}
	e := mustEnricher(t, "inventory", Deps{Client: client, Config: &models.ExportConfig{
		Options: map[string]string{"inventory_id": "inv-9"},
	}})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, 4.8, recs[0]["unit_margin"])
	require.Equal(t, 39.02, recs[0]["margin_percent"])
	require.Equal(t, "A-1-2", recs[0]["inventory_location"])

	require.Equal(t, "", recs[1]["unit_margin"])
}

func TestStockSpreadsWarehouses(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.on("getInventoryProductsStock", `{"status":"SUCCESS","products":{
		"P1":{"stock":{"wh1":12,"wh2":0}}
	}}`)

	recs := []pipeline.Record{{"product_id": "P1"}}
	e := mustEnricher(t, "stock", Deps{Client: client, Config: &models.ExportConfig{
		Options: map[string]string{"inventory_id": "inv-9"},
	}})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, float64(12), recs[0]["stock_warehouse_wh1"])
	require.Equal(t, float64(0), recs[0]["stock_warehouse_wh2"])
}

func TestPricesSpreadGroups(t *testing.T) {
	fc, client := newFakeConnector(t)
	fc.on("getInventoryProductsPrices", `{"status":"SUCCESS","products":{
		"P1":{"prices":{"retail":19.99,"wholesale":14.50}}
	}}`)

	recs := []pipeline.Record{{"product_id": "P1"}}
	e := mustEnricher(t, "prices", Deps{Client: client, Config: &models.ExportConfig{
		Options: map[string]string{"inventory_id": "inv-9"},
	}})
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, 19.99, recs[0]["price_group_retail"])
}

// fakeRateServer answers dated quote lookups for a fixed table.
func fakeRateServer(t *testing.T, quotes map[string]float64) (*rates.Service, *int) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		// Path shape: /rates/{code}/{date or "last"}
		var code, day string
		fmt.Sscanf(r.URL.Path, "/rates/%3s/%10s", &code, &day)
		mid, ok := quotes[code+"/"+day]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"code":%q,"rates":[{"mid":%g,"effectiveDate":%q}]}`, code, mid, day)
	}))
	t.Cleanup(srv.Close)
	return rates.NewService(rates.NewProvider(srv.URL)), &hits
}

func ordersDeps(t *testing.T, svc *rates.Service, cfg models.CurrencySettings) Deps {
	ds, ok := catalog.GetDataset("orders")
	require.True(t, ok)
	return Deps{
		Rates:   svc,
		Dataset: ds,
		Config:  &models.ExportConfig{Dataset: "orders", Currency: cfg},
	}
}

func TestCurrencyConvertsByOrderDate(t *testing.T) {
	svc, _ := fakeRateServer(t, map[string]float64{"eur/2024-01-15": 4.40})
	deps := ordersDeps(t, svc, models.CurrencySettings{TargetCurrency: "PLN", RateSource: models.RateSourceOrder})

	recs := []pipeline.Record{{
		"order_id":     101,
		"currency":     "EUR",
		"date_add":     1705312800, // 2024-01-15 10:00 UTC
		"payment_done": 100.0,
		// Derived at fetch time, so conversion reaches the totals too.
		"order_value_brutto": 150.0,
	}}
	e := mustEnricher(t, "currency", deps)
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, "PLN", recs[0]["converted_currency"])
	require.Equal(t, 4.40, recs[0]["converted_rate"])
	require.Equal(t, "2024-01-15", recs[0]["converted_rate_date"])
	require.Equal(t, 440.0, recs[0]["converted_payment_done"])
	require.Equal(t, 660.0, recs[0]["converted_order_value_brutto"])
}

func TestCurrencyNoOpWhenAlreadyTarget(t *testing.T) {
	svc, hits := fakeRateServer(t, nil)
	deps := ordersDeps(t, svc, models.CurrencySettings{TargetCurrency: "PLN", RateSource: models.RateSourceOrder})

	recs := []pipeline.Record{{"order_id": 101, "currency": "PLN", "payment_done": 100.0}}
	e := mustEnricher(t, "currency", deps)
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.NotContains(t, recs[0], "converted_currency")
	require.Equal(t, 0, *hits)
}

func TestCurrencyIsIdempotent(t *testing.T) {
	svc, _ := fakeRateServer(t, map[string]float64{"eur/2024-01-15": 4.40})
	deps := ordersDeps(t, svc, models.CurrencySettings{TargetCurrency: "PLN", RateSource: models.RateSourceOrder})

	recs := []pipeline.Record{{
		"order_id": 101, "currency": "EUR", "date_add": 1705312800, "payment_done": 100.0,
	}}
	e := mustEnricher(t, "currency", deps)
	require.NoError(t, e.Enrich(context.Background(), recs))
	require.NoError(t, e.Enrich(context.Background(), recs))

	require.Equal(t, 440.0, recs[0]["converted_payment_done"])
}

func TestCurrencyDegradesToIdentityRate(t *testing.T) {
	svc, _ := fakeRateServer(t, nil)
	deps := ordersDeps(t, svc, models.CurrencySettings{TargetCurrency: "PLN", RateSource: models.RateSourceOrder})

	recs := []pipeline.Record{{
		"order_id": 101, "currency": "EUR", "date_add": 1705312800, "payment_done": 100.0,
	}}
	e := mustEnricher(t, "currency", deps)
	err := e.Enrich(context.Background(), recs)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unconverted")

	require.Equal(t, 1.0, recs[0]["converted_rate"])
	require.Equal(t, 100.0, recs[0]["converted_payment_done"])
}

func TestForEachKeyCollectsErrorsAndStopsOnCancel(t *testing.T) {
	errs := forEachKey(context.Background(), []string{"a", "b", "c"}, func(_ context.Context, key string) error {
		if key == "b" {
			return fmt.Errorf("boom %s", key)
		}
		return nil
	})
	require.Len(t, errs, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errs = forEachKey(ctx, []string{"a"}, nil)
	require.ErrorIs(t, errs[0], context.Canceled)
}

func TestUnknownCapability(t *testing.T) {
	_, err := New("teleportation", Deps{})
	require.Error(t, err)
}
