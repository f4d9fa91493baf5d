package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/hermes/internal/aggregate"
	"github.com/UnknownOlympus/hermes/internal/models"
	"github.com/UnknownOlympus/hermes/internal/parser"
	"github.com/UnknownOlympus/hermes/internal/repository"
	"github.com/UnknownOlympus/hermes/internal/workbook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxUploadSize      = 32 << 20
	defaultUploadLimit = 20
	healthTimeout      = 2 * time.Second
	xlsxContentType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var allowedExtensions = map[string]bool{".xlsx": true, ".xls": true}

// Ingester turns an uploaded workbook into reports.
type Ingester interface {
	Ingest(ctx context.Context, filename string, r io.Reader) (*aggregate.Reports, error)
}

// Handler serves the upload, history and monitoring endpoints.
type Handler struct {
	log      *slog.Logger
	ingester Ingester
	store    repository.Store
}

// NewHandler creates a new Handler.
func NewHandler(log *slog.Logger, ingester Ingester, store repository.Store) *Handler {
	return &Handler{log: log, ingester: ingester, store: store}
}

// Routes builds the router. Metrics are served from gatherer.
func (h *Handler) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/upload", h.Upload)
	r.Get("/customers/{id}/history", h.AddressHistory)
	r.Get("/uploads", h.Uploads)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// Upload ingests a workbook sent as the multipart field "file" and replies with the
// report workbook.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		http.Error(w, "file type not allowed, allowed types: xlsx, xls", http.StatusBadRequest)
		return
	}

	reports, err := h.ingester.Ingest(ctx, header.Filename, file)
	if err != nil {
		status, message := classify(err)
		http.Error(w, message, status)
		return
	}

	var out bytes.Buffer
	if err = workbook.WriteReports(&out, reports); err != nil {
		h.log.ErrorContext(ctx, "Failed to render reports", "file", header.Filename, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	name := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reports_%s.xlsx"`, name))
	w.WriteHeader(http.StatusOK)
	if _, err = out.WriteTo(w); err != nil {
		h.log.ErrorContext(ctx, "failed to write reply", "error", err)
	}
}

// classify maps an ingestion error to a status code and a client-facing message.
func classify(err error) (int, string) {
	var (
		invalid   *workbook.ValidationError
		malformed *parser.MalformedRecordError
	)

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error()
	case errors.As(err, &malformed):
		return http.StatusBadRequest, malformed.Error()
	case errors.Is(err, aggregate.ErrEmptyReport):
		return http.StatusInternalServerError, "processing failed: " + err.Error()
	default:
		return http.StatusInternalServerError, "processing failed"
	}
}

type addressChangeResponse struct {
	OldAddress     string              `json:"old_address"`
	NewAddress     string              `json:"new_address"`
	OldCoordinates *models.Coordinates `json:"old_coordinates"`
	NewCoordinates *models.Coordinates `json:"new_coordinates"`
	ChangedAt      time.Time           `json:"changed_at"`
}

// AddressHistory lists the address changes of one customer, oldest first.
func (h *Handler) AddressHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID := chi.URLParam(r, "id")

	history, err := h.store.AddressHistory(ctx, customerID)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to load address history", "customer_id", customerID, "error", err)
		http.Error(w, "failed to fetch address history", http.StatusInternalServerError)
		return
	}

	resp := make([]addressChangeResponse, 0, len(history))
	for _, change := range history {
		resp = append(resp, addressChangeResponse{
			OldAddress:     change.OldAddress,
			NewAddress:     change.NewAddress,
			OldCoordinates: change.OldCoordinates,
			NewCoordinates: change.NewCoordinates,
			ChangedAt:      change.ChangedAt,
		})
	}

	h.writeJSON(ctx, w, map[string]any{"customer_id": customerID, "address_updates": resp})
}

type ingestLogResponse struct {
	ID               string    `json:"id"`
	Filename         string    `json:"filename"`
	UploadedAt       time.Time `json:"uploaded_at"`
	CustomersRows    int       `json:"customers_rows"`
	TransactionsRows int       `json:"transactions_rows"`
	ProductsRows     int       `json:"products_rows"`
}

// Uploads lists the most recent ingestions, newest first.
func (h *Handler) Uploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultUploadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	logs, err := h.store.RecentIngestLogs(ctx, limit)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to load ingest logs", "error", err)
		http.Error(w, "failed to fetch uploads", http.StatusInternalServerError)
		return
	}

	resp := make([]ingestLogResponse, 0, len(logs))
	for _, entry := range logs {
		resp = append(resp, ingestLogResponse{
			ID:               entry.ID.String(),
			Filename:         entry.Filename,
			UploadedAt:       entry.UploadedAt,
			CustomersRows:    entry.CustomersRows,
			TransactionsRows: entry.TransactionsRows,
			ProductsRows:     entry.ProductsRows,
		})
	}

	h.writeJSON(ctx, w, resp)
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	h.log.DebugContext(ctx, "Performing health checks...")
	status, body := http.StatusOK, "OK"
	if err := h.store.Ping(ctx); err != nil {
		status, body = http.StatusServiceUnavailable, "DB ping failed"
	}

	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		h.log.ErrorContext(ctx, "failed to write reply", "error", err)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.ErrorContext(ctx, "failed to write reply", "error", err)
	}
}
