package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
)

var id = uuid.MustParse("7d8c4b2e-0a0b-4c1d-9e2f-3a4b5c6d7e8f")

func serve(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, WithRetries(2, time.Millisecond))
}

func TestProduct_SingleRecord(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/records/find" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &body); err != nil || body["id"] != id.String() {
			t.Errorf("unexpected body %s", b)
		}
		_, _ = w.Write([]byte(`[{"id":"x","metadata":{"productId":"BlueMarble","productType":"Orthophoto","productVersion":"1.0"}}]`))
	})

	pid, pt, err := c.Product(context.Background(), id)
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if pid != "BlueMarble" || pt != model.Orthophoto {
		t.Fatalf("got %s %s", pid, pt)
	}
}

func TestProduct_ZeroOrManyRecordsIsNotFound(t *testing.T) {
	for name, body := range map[string]string{
		"zero": `[]`,
		"many": `[{"metadata":{"productId":"A","productType":"Orthophoto"}},{"metadata":{"productId":"B","productType":"Orthophoto"}}]`,
	} {
		c := serve(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) })
		_, _, err := c.Product(context.Background(), id)
		if !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("%s: got %v want NotFound", name, err)
		}
	}
}

func TestProduct_UpstreamNotFound(t *testing.T) {
	c := serve(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	_, _, err := c.Product(context.Background(), id)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("got %v want NotFound", err)
	}
}

func TestProduct_MalformedMetadataIsInternal(t *testing.T) {
	for name, body := range map[string]string{
		"no metadata":  `[{"id":"x"}]`,
		"bad id":       `[{"metadata":{"productId":"1bad","productType":"Orthophoto"}}]`,
		"bad type":     `[{"metadata":{"productId":"ok","productType":"Vector"}}]`,
		"not an array": `{"metadata":{}}`,
	} {
		c := serve(t, func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) })
		_, _, err := c.Product(context.Background(), id)
		if err == nil || errs.HTTPStatus(err) != http.StatusInternalServerError {
			t.Fatalf("%s: got %v want internal error", name, err)
		}
	}
}

func TestProduct_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"metadata":{"productId":"A","productType":"RasterMap"}}]`))
	})
	if _, pt, err := c.Product(context.Background(), id); err != nil || pt != model.RasterMap {
		t.Fatalf("got %v %v", pt, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d want 3", calls.Load())
	}
}

func TestProduct_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	c := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if _, _, err := c.Product(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d want 3", calls.Load())
	}
}

func TestProduct_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	if _, _, err := c.Product(context.Background(), id); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", calls.Load())
	}
}
