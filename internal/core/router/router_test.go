package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/aggregate"
	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/health"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/geometry"
	"github.com/mohammed-shakir/polygon-parts/internal/ingest"
	"github.com/mohammed-shakir/polygon-parts/internal/partition"
	"github.com/mohammed-shakir/polygon-parts/internal/store/memstore"
)

type fakeIngest struct {
	err      error
	gotSwap  bool
	gotCalls int
}

func (f *fakeIngest) result(p model.Payload) (ingest.Result, error) {
	f.gotCalls++
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	names, err := partition.DefaultNaming().EntityNames(p.ProductID, p.ProductType)
	return ingest.Result{Names: names}, err
}

func (f *fakeIngest) Create(_ context.Context, p model.Payload) (ingest.Result, error) {
	return f.result(p)
}

func (f *fakeIngest) Update(_ context.Context, p model.Payload, swap bool) (ingest.Result, error) {
	f.gotSwap = swap
	return f.result(p)
}

type fakeAgg struct {
	err     error
	gotName string
	gotID   uuid.UUID
}

func (f *fakeAgg) Aggregate(_ context.Context, name string) (model.AggregationResult, error) {
	f.gotName = name
	return model.AggregationResult{ProductBoundingBox: "0,0,1,1", Sensors: []string{}}, f.err
}

func (f *fakeAgg) AggregateByCatalog(_ context.Context, id uuid.UUID) (model.AggregationResult, error) {
	f.gotID = id
	return model.AggregationResult{ProductBoundingBox: "0,0,1,1", Sensors: []string{}}, f.err
}

const body = `{
  "catalogId": "7d8c4b2e-0a0b-4c1d-9e2f-3a4b5c6d7e8f",
  "productId": "BlueMarble",
  "productType": "Orthophoto",
  "productVersion": "1.0",
  "partsData": [{
    "sourceName": "src",
    "imagingTimeBeginUTC": "2026-01-01T00:00:00Z",
    "imagingTimeEndUTC": "2026-01-02T00:00:00Z",
    "resolutionDegree": 0.001,
    "resolutionMeter": 5,
    "sourceResolutionMeter": 5,
    "horizontalAccuracyCE90": 10,
    "sensors": ["WV3"],
    "footprint": {"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}
  }]
}`

func do(t *testing.T, h http.Handler, method, target, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func message(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return e.Message
}

func TestCreate_Returns201WithEntityName(t *testing.T) {
	fi := &fakeIngest{}
	h := New(Deps{Ingest: fi, Aggregate: &fakeAgg{}})

	rr := do(t, h, http.MethodPost, "/polygonParts", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	var got entityNameResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PolygonPartsEntityName != "bluemarble_orthophoto" {
		t.Fatalf("entity=%q", got.PolygonPartsEntityName)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
}

func TestUpdate_SwapFlag(t *testing.T) {
	cases := []struct {
		query  string
		code   int
		swap   bool
		called bool
	}{
		{"", http.StatusOK, false, true},
		{"?isSwap=false", http.StatusOK, false, true},
		{"?isSwap=true", http.StatusOK, true, true},
		{"?isSwap=maybe", http.StatusBadRequest, false, false},
	}
	for _, c := range cases {
		fi := &fakeIngest{}
		h := New(Deps{Ingest: fi, Aggregate: &fakeAgg{}})
		rr := do(t, h, http.MethodPut, "/polygonParts"+c.query, body)
		if rr.Code != c.code {
			t.Fatalf("%q: status=%d want %d", c.query, rr.Code, c.code)
		}
		if fi.gotSwap != c.swap || (fi.gotCalls == 1) != c.called {
			t.Fatalf("%q: swap=%v calls=%d", c.query, fi.gotSwap, fi.gotCalls)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{errs.Errorf(errs.ErrConflict, "create partition", "x", "exists"), http.StatusConflict},
		{errs.Errorf(errs.ErrNotFound, "verify partition", "x", "missing"), http.StatusNotFound},
		{errs.Errorf(errs.ErrValidation, "validate", "x", "bad"), http.StatusBadRequest},
		{errs.Errorf(errs.ErrGeometry, "consolidate difference", "x", "engine exploded at 0x1234"), http.StatusInternalServerError},
		{errors.New("pq: password authentication failed for user secret"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		h := New(Deps{Ingest: &fakeIngest{err: c.err}, Aggregate: &fakeAgg{}})
		rr := do(t, h, http.MethodPost, "/polygonParts", body)
		if rr.Code != c.code {
			t.Fatalf("%v: status=%d want %d", c.err, rr.Code, c.code)
		}
		msg := message(t, rr)
		if c.code == http.StatusInternalServerError && msg != "Internal Server Error" {
			t.Fatalf("internal detail leaked: %q", msg)
		}
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	fi := &fakeIngest{}
	h := New(Deps{Ingest: fi, Aggregate: &fakeAgg{}})
	for _, b := range []string{`{`, `{"partsData": 3}`, body + ` {}`, `{"catalogId":"nope"}`} {
		rr := do(t, h, http.MethodPost, "/polygonParts", b)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: status=%d want 400", b, rr.Code)
		}
	}
	if fi.gotCalls != 0 {
		t.Fatalf("ingestor called for malformed input")
	}
}

func TestNonPolygonFootprintIs400(t *testing.T) {
	b := strings.Replace(body, `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`,
		`{"type":"Point","coordinates":[0,0]}`, 1)
	rr := do(t, New(Deps{Ingest: &fakeIngest{}, Aggregate: &fakeAgg{}}), http.MethodPost, "/polygonParts", b)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestAggregationRoutes(t *testing.T) {
	fa := &fakeAgg{}
	h := New(Deps{Ingest: &fakeIngest{}, Aggregate: fa})

	rr := do(t, h, http.MethodGet, "/aggregation/bluemarble_orthophoto", "")
	if rr.Code != http.StatusOK || fa.gotName != "bluemarble_orthophoto" {
		t.Fatalf("status=%d name=%q", rr.Code, fa.gotName)
	}

	id := uuid.New()
	rr = do(t, h, http.MethodGet, "/aggregation/catalog/"+id.String(), "")
	if rr.Code != http.StatusOK || fa.gotID != id {
		t.Fatalf("status=%d id=%v", rr.Code, fa.gotID)
	}

	rr = do(t, h, http.MethodGet, "/aggregation/catalog/not-a-uuid", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid status=%d", rr.Code)
	}

	fa.err = errs.Errorf(errs.ErrNotFound, "aggregate", "x", "no rows")
	rr = do(t, h, http.MethodGet, "/aggregation/x_orthophoto", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := New(Deps{Ingest: &fakeIngest{}, Aggregate: &fakeAgg{}})
	rr := do(t, h, http.MethodOptions, "/polygonParts", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "PUT") {
		t.Fatalf("allow methods=%q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestHealthRoutes(t *testing.T) {
	h := New(Deps{
		Ingest: &fakeIngest{}, Aggregate: &fakeAgg{},
		Ready: []health.Check{{Name: "store", Probe: func(context.Context) error { return errors.New("down") }}},
	})
	if rr := do(t, h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d", rr.Code)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	h := New(Deps{Ingest: nil, Aggregate: &fakeAgg{}})
	rr := do(t, h, http.MethodPost, "/polygonParts", body)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rr.Code)
	}
}

func TestEndToEnd_MemoryStore(t *testing.T) {
	st := memstore.New()
	ing := ingest.New(ingest.Config{
		Store: st, Engine: geometry.NewEngine(), Naming: partition.DefaultNaming(),
		Timeout: 5 * time.Second,
	})
	agg := aggregate.NewService(aggregate.Config{
		Store: st, Engine: geometry.NewEngine(), Naming: partition.DefaultNaming(), Digits: 7,
	})
	h := New(Deps{Ingest: ing, Aggregate: agg})

	if rr := do(t, h, http.MethodPost, "/polygonParts", body); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body)
	}
	if rr := do(t, h, http.MethodPost, "/polygonParts", body); rr.Code != http.StatusConflict {
		t.Fatalf("second create status=%d want 409", rr.Code)
	}

	rr := do(t, h, http.MethodGet, "/aggregation/bluemarble_orthophoto", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("aggregate status=%d body=%s", rr.Code, rr.Body)
	}
	var res model.AggregationResult
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ProductBoundingBox != "0,0,1,1" || res.MinResolutionMeter != 5 || len(res.Sensors) != 1 {
		t.Fatalf("unexpected aggregation %+v", res)
	}

	missing := strings.Replace(body, "BlueMarble", "Other", 1)
	if rr := do(t, h, http.MethodPut, "/polygonParts", missing); rr.Code != http.StatusNotFound {
		t.Fatalf("update of missing partition status=%d want 404", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/aggregation/other_orthophoto", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("aggregate missing status=%d want 404", rr.Code)
	}
}
