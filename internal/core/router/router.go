// Package router maps the public HTTP surface onto the ingestion and aggregation services.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/polygon-parts/internal/core/errs"
	"github.com/mohammed-shakir/polygon-parts/internal/core/health"
	"github.com/mohammed-shakir/polygon-parts/internal/core/middleware"
	"github.com/mohammed-shakir/polygon-parts/internal/core/model"
	"github.com/mohammed-shakir/polygon-parts/internal/ingest"
)

// footprints can be large; anything past this is rejected before decoding
const maxBodyBytes = 64 << 20

type Ingestor interface {
	Create(ctx context.Context, p model.Payload) (ingest.Result, error)
	Update(ctx context.Context, p model.Payload, swap bool) (ingest.Result, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, name string) (model.AggregationResult, error)
	AggregateByCatalog(ctx context.Context, catalogID uuid.UUID) (model.AggregationResult, error)
}

type Deps struct {
	Logger       *slog.Logger
	Ingest       Ingestor
	Aggregate    Aggregator
	Ready        []health.Check
	ReadyTimeout time.Duration
}

type entityNameResponse struct {
	PolygonPartsEntityName string `json:"polygonPartsEntityName"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type handlers struct {
	log *slog.Logger
	ing Ingestor
	agg Aggregator
}

// New builds the service router.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{log: d.Logger, ing: d.Ingest, agg: d.Aggregate}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Logger))
	r.Use(middleware.Logging(d.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.ReadyTimeout, d.Ready...))

	r.Post("/polygonParts", h.createPolygonParts)
	r.Put("/polygonParts", h.updatePolygonParts)
	r.Get("/aggregation/catalog/{catalogId}", h.aggregateByCatalog)
	r.Get("/aggregation/{polygonPartsEntityName}", h.aggregate)
	return r
}

func (h *handlers) createPolygonParts(w http.ResponseWriter, r *http.Request) {
	p, err := decodePayload(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.ing.Create(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entityNameResponse{PolygonPartsEntityName: res.Names.PolygonParts.EntityName})
}

func (h *handlers) updatePolygonParts(w http.ResponseWriter, r *http.Request) {
	swap, err := parseSwap(r.URL.Query().Get("isSwap"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := decodePayload(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.ing.Update(r.Context(), p, swap)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entityNameResponse{PolygonPartsEntityName: res.Names.PolygonParts.EntityName})
}

func (h *handlers) aggregate(w http.ResponseWriter, r *http.Request) {
	out, err := h.agg.Aggregate(r.Context(), chi.URLParam(r, "polygonPartsEntityName"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) aggregateByCatalog(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "catalogId")
	id, err := uuid.Parse(raw)
	if err != nil {
		h.fail(w, r, errs.Errorf(errs.ErrValidation, "parse catalogId", raw, "not a uuid"))
		return
	}
	out, err := h.agg.AggregateByCatalog(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func decodePayload(w http.ResponseWriter, r *http.Request) (model.Payload, error) {
	var p model.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return p, errs.Errorf(errs.ErrValidation, "decode body", "", "request body exceeds %d bytes", tooLarge.Limit)
		}
		return p, errs.E(errs.ErrValidation, "decode body", "", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return p, errs.Errorf(errs.ErrValidation, "decode body", "", "unexpected data after payload")
	}
	return p, nil
}

func parseSwap(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errs.Errorf(errs.ErrValidation, "parse isSwap", v, "must be a boolean")
	}
	return b, nil
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		h.log.InfoContext(r.Context(), "request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, errorResponse{Message: errs.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = fmt.Fprintln(w)
}
