// Package httpapi exposes the reconciliation engine over HTTP.
//
// The processor posts its notification to POST /payments; the body is
// handed to Reconcile untouched. Read endpoints serve orders, their
// payment records and quotas. Every error body is {"error": "..."}.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/quota"
)

// DefaultMaxBodyBytes caps a processor notification body.
const DefaultMaxBodyBytes = 1 << 20

// DefaultListLimit applies when a list request names no limit.
const DefaultListLimit = 100

// Engine is the part of *bookkeeper.Bookkeeper the handlers use.
type Engine interface {
	Reconcile(ctx context.Context, raw []byte) (*bookkeeper.Result, error)
	GetOrder(ctx context.Context, orderID int64) (*order.Order, error)
	ListPayments(ctx context.Context, orderID int64) ([]*payment.Record, error)
	ListQuotas(ctx context.Context, opts quota.ListOpts) ([]*quota.Quota, error)
	Ping(ctx context.Context) error
}

var _ Engine = (*bookkeeper.Bookkeeper)(nil)

// Handler serves the HTTP API.
type Handler struct {
	engine       Engine
	logger       *slog.Logger
	maxBodyBytes int64
	mux          chi.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMaxBodyBytes sets the largest accepted notification body.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// New returns a Handler over engine.
func New(engine Engine, opts ...Option) *Handler {
	h := &Handler{
		engine:       engine,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.mux = h.Routes()
	return h
}

// Routes builds the router. Mount it under any prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Post("/payments", h.reconcile)

	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/payments", h.listPayments)
	})
	r.Get("/quotas", h.listQuotas)

	return r
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.engine.Reconcile(r.Context(), raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if res.PartialSuccess() {
		h.logger.WarnContext(r.Context(), "order paid with quota failures",
			"order_id", res.OrderID,
			"quota_failures", len(res.QuotaFailures),
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	o, err := h.engine.GetOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	if _, err := h.engine.GetOrder(r.Context(), orderID); err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.engine.ListPayments(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []*payment.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) listQuotas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := quota.ListOpts{
		Subject: q.Get("subject"),
		Feature: q.Get("feature"),
		Limit:   DefaultListLimit,
	}
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid "+name+" "+strconv.Quote(v)))
			return
		}
		*dst = n
	}

	quotas, err := h.engine.ListQuotas(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if quotas == nil {
		quotas = []*quota.Quota{}
	}
	writeJSON(w, http.StatusOK, quotas)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps an engine error to a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, err)
}

// StatusFor returns the HTTP status an engine error is reported with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, bookkeeper.ErrMalformedPaymentPayload),
		errors.Is(err, bookkeeper.ErrInvalidInput):
		return http.StatusBadRequest
	case bookkeeper.IsNotFound(err):
		return http.StatusNotFound
	case bookkeeper.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid "+param+" "+strconv.Quote(raw)))
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
