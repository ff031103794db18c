// Package alerts provides HTTP handlers for batch processing and
// querying triaged alerts.
package alerts

import (
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quiet-owl-labs/threattriage/internal/api"
	"github.com/quiet-owl-labs/threattriage/internal/ml"
	"github.com/quiet-owl-labs/threattriage/internal/pipeline"
	"github.com/quiet-owl-labs/threattriage/internal/storage"
)

// maxUploadBytes bounds CSV uploads.
const maxUploadBytes = 10 << 20 // 10 MiB

// Runner runs parsed rows through the pipeline.
type Runner interface {
	Run(ctx context.Context, rows []pipeline.Row, source string) (*pipeline.Report, error)
}

// Handler serves alert processing and query endpoints.
type Handler struct {
	runner Runner
	store  storage.Storage
}

// NewHandler creates an alerts handler.
func NewHandler(runner Runner, store storage.Storage) *Handler {
	return &Handler{runner: runner, store: store}
}

// Process accepts a CSV batch (multipart field "file" or a raw
// text/csv body), runs it through the pipeline, and returns the
// per-row report.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	body, err := h.csvBody(r)
	if err != nil {
		api.JSONError(w, api.NewBadRequest(err.Error()))
		return
	}
	defer body.Close()

	rows, rowErrs, err := pipeline.ParseCSV(io.LimitReader(body, maxUploadBytes))
	if err != nil {
		api.JSONError(w, api.NewValidationError(err.Error()))
		return
	}

	report, err := h.runner.Run(r.Context(), rows, "api")
	if err != nil {
		if errors.Is(err, ml.ErrNoTrainedModel) {
			api.JSONError(w, api.ErrModelNotTrained)
			return
		}
		log.Printf("[api] batch processing failed: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}

	report.RowErrors = append(rowErrs, report.RowErrors...)
	report.Failed = len(report.RowErrors)
	api.OK(w, report)
}

// csvBody resolves the upload payload from multipart or raw body.
func (h *Handler) csvBody(r *http.Request) (io.ReadCloser, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, errors.New("invalid multipart form")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New(`multipart form must carry a "file" field`)
		}
		return file, nil
	}

	return r.Body, nil
}

// List returns recent alerts, newest first, paginated.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	alerts, total, err := h.store.Alerts().ListRecent(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		log.Printf("[api] list alerts: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}

	totalPages := int(total) / perPage
	if int(total)%perPage > 0 {
		totalPages++
	}
	api.OK(w, api.PaginatedResponse{
		Items:      alerts,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// GetByID returns one persisted alert record.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := h.store.Alerts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.JSONError(w, api.NewNotFound("alert not found"))
			return
		}
		log.Printf("[api] get alert %s: %v", id, err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	api.OK(w, alert)
}

// Batches returns recent processed batches.
func (h *Handler) Batches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	batches, err := h.store.Alerts().ListBatches(r.Context(), limit)
	if err != nil {
		log.Printf("[api] list batches: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	api.OK(w, batches)
}

// ThreatSummary returns aggregate statistics over persisted alerts.
func (h *Handler) ThreatSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Stats().ThreatSummary(r.Context())
	if err != nil {
		log.Printf("[api] threat summary: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	api.OK(w, summary)
}

// HighRiskCountries returns the current derived country list.
func (h *Handler) HighRiskCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.store.Stats().HighRiskCountries(r.Context())
	if err != nil {
		log.Printf("[api] high-risk countries: %v", err)
		api.JSONError(w, api.ErrInternalServer)
		return
	}
	if countries == nil {
		countries = []string{}
	}
	api.OK(w, map[string]any{"countries": countries})
}

func pagination(r *http.Request) (page, perPage int) {
	page, perPage = 1, 50
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			perPage = n
		}
	}
	return page, perPage
}
