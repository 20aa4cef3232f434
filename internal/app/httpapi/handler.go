// Package httpapi exposes the tribute services over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/tribute_layer/internal/app"
	core "github.com/R3E-Network/tribute_layer/internal/app/core/service"
	"github.com/R3E-Network/tribute_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
	"github.com/R3E-Network/tribute_layer/internal/app/services/ledgertx"
	"github.com/R3E-Network/tribute_layer/internal/httputil"
	"github.com/R3E-Network/tribute_layer/internal/middleware"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

const (
	maxBodyBytes        = 1 << 20
	limiterCleanupEvery = 10 * time.Minute
)

// Options configures the HTTP surface.
type Options struct {
	AdminToken     string
	AdminJWTSecret string
	RateLimit      float64
	Burst          int
	Log            *logger.Logger
	// Context bounds background work such as rate limiter cleanup. Nil
	// disables cleanup.
	Context context.Context
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns the router exposing the public and operator API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	limiter := middleware.NewRateLimiter(opts.RateLimit, opts.Burst, log.Named("ratelimit"))
	if opts.Context != nil {
		limiter.StartCleanup(opts.Context, limiterCleanupEvery)
	}
	admin := middleware.NewAdminAuth(opts.AdminToken, opts.AdminJWTSecret, log.Named("admin"))

	r := mux.NewRouter()
	r.Use(middleware.NewRequestLogger(log).Handler, middleware.Identify)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	public := r.NewRoute().Subrouter()
	public.Use(limiter.Handler)
	public.HandleFunc("/items/{id}/heat", h.incrementHeat).Methods(http.MethodPost)
	public.HandleFunc("/items/{id}/events", h.recordEvent).Methods(http.MethodPost)
	public.HandleFunc("/items/{id}/stats", h.itemStats).Methods(http.MethodGet)
	public.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)

	user := r.PathPrefix("/transactions").Subrouter()
	user.Use(middleware.RequireUserID, limiter.Handler)
	user.HandleFunc("", h.createTransaction).Methods(http.MethodPost)
	user.HandleFunc("", h.listTransactions).Methods(http.MethodGet)
	user.HandleFunc("/{id}", h.getTransaction).Methods(http.MethodGet)
	user.HandleFunc("/{id}/cancel", h.cancelTransaction).Methods(http.MethodPost)
	user.HandleFunc("/{id}/retry", h.retryTransaction).Methods(http.MethodPost)

	ops := r.PathPrefix("/internal").Subrouter()
	ops.Use(admin.Handler)
	ops.HandleFunc("/ticks/{tick}", h.runTick).Methods(http.MethodPost)
	ops.HandleFunc("/leaderboard/snapshot", h.takeSnapshot).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) incrementHeat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Delta float64 `json:"delta"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	window, err := h.app.Heat.Increment(r.Context(), mux.Vars(r)["id"], payload.Delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

func (h *handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	window, err := h.app.Heat.Record(r.Context(), mux.Vars(r)["id"], payload.Kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

func (h *handler) itemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Heat.Stats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := h.app.Leaderboard.Leaderboard(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TargetAddress    string             `json:"target_address"`
		ContentType      ledger.ContentType `json:"content_type"`
		ContentReference string             `json:"content_reference"`
		Metadata         json.RawMessage    `json:"metadata"`
		DataSize         int64              `json:"data_size"`
		FeeAmount        int64              `json:"fee_amount"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	meta, err := ledger.DecodeMetadata(payload.ContentType, payload.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.Ledger.Enqueue(r.Context(), ledgertx.NewTransaction{
		UserID:           httputil.UserIDFrom(r.Context()),
		TargetAddress:    payload.TargetAddress,
		ContentType:      payload.ContentType,
		ContentReference: payload.ContentReference,
		Metadata:         meta,
		DataSize:         payload.DataSize,
		FeeAmount:        payload.FeeAmount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	txs, err := h.app.Ledger.ListForUser(r.Context(), httputil.UserIDFrom(r.Context()), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Ledger.Get(r.Context(), mux.Vars(r)["id"], httputil.UserIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Ledger.RequestCancel(r.Context(), mux.Vars(r)["id"], httputil.UserIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) retryTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.Ledger.RequestRetry(r.Context(), mux.Vars(r)["id"], httputil.UserIDFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handler) runTick(w http.ResponseWriter, r *http.Request) {
	batch, err := intQuery(r, "batch")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var report ledgertx.TickReport
	switch tick := mux.Vars(r)["tick"]; tick {
	case ledgertx.TickExecution:
		report, err = h.app.Ledger.ProcessPendingExecution(r.Context(), batch)
	case ledgertx.TickConfirmation:
		report, err = h.app.Ledger.ProcessPendingConfirmation(r.Context(), batch)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown tick %q", tick))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) takeSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Leaderboard.TakeSnapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// fail maps service errors onto status codes.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("method", r.Method).
			Error("request failed")
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case core.IsValidationError(err):
		return http.StatusBadRequest
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsForbidden(err):
		return http.StatusForbidden
	case core.IsInvalidStatus(err):
		return http.StatusConflict
	case core.IsStoreUnavailable(err), errors.Is(err, core.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
