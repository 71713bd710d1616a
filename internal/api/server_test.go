package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sheetbridge/internal/config"
	"sheetbridge/internal/dispatch"
	"sheetbridge/internal/eventbus"
	"sheetbridge/internal/models"
	"sheetbridge/internal/rates"
	"sheetbridge/internal/upstream"
	"sheetbridge/internal/writer"
)

const testSecret = "test-secret"

func signToken(t *testing.T, tenantID string) string {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": tenantID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type apiHarness struct {
	server     *Server
	store      *dispatch.MemoryStore
	dispatcher *dispatch.Dispatcher
}

func newAPIHarness(t *testing.T) *apiHarness {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.PostFormValue("method") {
		case "getOrders":
			fmt.Fprint(w, `{"status":"SUCCESS","orders":[{"order_id":1,"date_add":1705312800,"email":"a@x","currency":"PLN","products":[]}]}`)
		case "getOrderStatusList":
			fmt.Fprint(w, `{"status":"SUCCESS","statuses":[]}`)
		case "getOrderSources":
			fmt.Fprint(w, `{"status":"SUCCESS","sources":[]}`)
		case "getCouriersList":
			fmt.Fprint(w, `{"status":"SUCCESS","couriers":[]}`)
		case "getInventoryWarehouses":
			fmt.Fprint(w, `{"status":"SUCCESS","warehouses":[]}`)
		default:
			fmt.Fprint(w, `{"status":"ERROR","error_code":"ERROR_NOT_FOUND","error_message":"nope"}`)
		}
	}))
	t.Cleanup(upstreamSrv.Close)

	engineCfg := &config.Config{
		UpstreamBaseURL:   upstreamSrv.URL,
		MaxRecords:        1000,
		RunTimeoutMinutes: 5,
		StaleAfterMinutes: 15,
	}
	source := dispatch.NewStaticSource(&models.ExportConfig{
		ID:             "cfg-1",
		TenantID:       "tenant-1",
		Token:          "tok",
		Dataset:        "orders",
		SelectedFields: []string{"order_id", "email"},
		Destination:    "sheet-1",
		WriteMode:      models.WriteOverwrite,
		Active:         true,
	})

	store := dispatch.NewMemoryStore()
	bus := eventbus.New()
	sink := writer.NewCSVWriter(t.TempDir(), zerolog.Nop())
	budget := upstream.NewBudget(1000, time.Second)
	ratesSvc := rates.NewService(rates.NewProvider("http://127.0.0.1:0"))

	d := dispatch.NewDispatcher(store, source, bus, ratesSvc, budget, sink, engineCfg, zerolog.Nop())
	stale := func(run *models.RunRecord) bool {
		return run.Stale(engineCfg.StaleAfter(), time.Now())
	}
	srv := NewServer(d, store, source, testSecret, 0, stale, zerolog.Nop())
	return &apiHarness{server: srv, store: store, dispatcher: d}
}

func (h *apiHarness) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.request(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunEndpointsRequireAuth(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/exports/cfg-1/run", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenantIsolation(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/exports/cfg-1/run", signToken(t, "other-tenant"), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTriggerAndReadRun(t *testing.T) {
	h := newAPIHarness(t)
	token := signToken(t, "tenant-1")

	rec := h.request(t, http.MethodPost, "/v1/exports/cfg-1/run", token, `{"run_id":"run-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.dispatcher.Wait()

	rec = h.request(t, http.MethodGet, "/v1/runs/run-1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		State    models.RunState `json:"state"`
		RowCount int             `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, models.RunSucceeded, view.State)
	require.Equal(t, 1, view.RowCount)
}

func TestTriggerReplayReturnsCachedRun(t *testing.T) {
	h := newAPIHarness(t)
	token := signToken(t, "tenant-1")

	rec := h.request(t, http.MethodPost, "/v1/exports/cfg-1/run", token, `{"run_id":"run-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.dispatcher.Wait()

	rec = h.request(t, http.MethodPost, "/v1/exports/cfg-1/run", token, `{"run_id":"run-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cached bool `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Cached)
}

func TestTriggerUnknownConfig(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.request(t, http.MethodPost, "/v1/exports/no-such/run", signToken(t, "tenant-1"), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunViewMarksStale(t *testing.T) {
	h := newAPIHarness(t)
	token := signToken(t, "tenant-1")

	stuck := &models.RunRecord{
		RunID:     "run-old",
		ConfigID:  "cfg-1",
		State:     models.RunRunning,
		StartedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, h.store.Create(context.Background(), stuck))

	rec := h.request(t, http.MethodGet, "/v1/runs/run-old", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		State          models.RunState `json:"state"`
		EffectiveState models.RunState `json:"effective_state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, models.RunRunning, view.State)
	require.Equal(t, models.RunStale, view.EffectiveState)
}

func TestListRuns(t *testing.T) {
	h := newAPIHarness(t)
	token := signToken(t, "tenant-1")

	rec := h.request(t, http.MethodPost, "/v1/exports/cfg-1/run", token, `{"run_id":"run-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	h.dispatcher.Wait()

	rec = h.request(t, http.MethodGet, "/v1/exports/cfg-1/runs", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []json.RawMessage `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
}
