package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/receiving/internal/auth"
	"github.com/odyssey-erp/receiving/internal/platform/httpx"
	"github.com/odyssey-erp/receiving/internal/shared"
	"github.com/odyssey-erp/receiving/report"
)

// SheetRenderer turns a batch's serials into a printable PDF label sheet.
type SheetRenderer interface {
	Render(ctx context.Context, sheet report.Sheet) ([]byte, error)
}

// Handler exposes reviewed batches to authenticated operators.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gate    *auth.Gate
	sheets  SheetRenderer
}

// NewHandler constructs review handler. sheets may be nil, in which case the
// report endpoint answers 503.
func NewHandler(logger *slog.Logger, service *Service, gate *auth.Gate, sheets SheetRenderer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate, sheets: sheets}
}

// Routes lists the review endpoints; all of them require a login.
func (h *Handler) Routes() []auth.Route {
	return []auth.Route{
		{Method: http.MethodGet, Pattern: "/serials", Protected: true, Handler: h.handleSearch},
		{Method: http.MethodGet, Pattern: "/batches/{number}", Protected: true, Handler: h.handleLookup},
		{Method: http.MethodGet, Pattern: "/batches/{number}/report", Protected: true, Handler: h.handleReport},
		{Method: http.MethodPatch, Pattern: "/serials/{id}/void", Protected: true, Handler: h.handleVoid},
		{Method: http.MethodPost, Pattern: "/batches/{id}/complete", Protected: true, Handler: h.handleComplete},
	}
}

// MountRoutes registers review routes.
func (h *Handler) MountRoutes(r chi.Router) {
	auth.Mount(r, h.gate, h.Routes())
}

type serialView struct {
	ID       int64      `json:"id"`
	Serial   string     `json:"serial"`
	ItemNo   int        `json:"item_no"`
	Status   string     `json:"status"`
	Voided   bool       `json:"voided"`
	VoidedAt *time.Time `json:"voided_at,omitempty"`
	VoidedBy string     `json:"voided_by,omitempty"`
}

type batchDetailView struct {
	ID                int64             `json:"id"`
	BatchNumber       string            `json:"batch_number"`
	NumberOfItems     int               `json:"number_of_items"`
	PartNumber        string            `json:"part_number"`
	BatchType         string            `json:"batch_type"`
	Description       string            `json:"description"`
	SourceInfoID      *int64            `json:"source_info_id"`
	LastScannedItem   string            `json:"last_scanned_item"`
	CurrentItemNumber int               `json:"current_item_number"`
	Stage             string            `json:"stage"`
	SubmittedBy       string            `json:"submitted_by"`
	DeclaredAt        time.Time         `json:"declared_at"`
	TotalRecords      int               `json:"total_records"`
	Page              shared.Pagination `json:"page"`
	Serials           []serialView      `json:"serials"`
}

type serialHitView struct {
	serialView
	BatchNumber string    `json:"batch_number"`
	CreatedAt   time.Time `json:"created_at"`
}

type searchView struct {
	Page    shared.Pagination `json:"page"`
	Serials []serialHitView   `json:"serials"`
}

type movedView struct {
	BatchID int64 `json:"batch_id"`
	Moved   int64 `json:"moved"`
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Lookup(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	b := detail.Batch
	page := shared.NewPagination(queryInt(r, "page"), queryInt(r, "per_page"), len(detail.Serials))
	start, end := page.Bounds()
	view := batchDetailView{
		ID:                b.ID,
		BatchNumber:       b.BatchNumber,
		NumberOfItems:     b.NumberOfItems,
		PartNumber:        b.PartNumber,
		BatchType:         b.BatchType,
		Description:       b.Description,
		SourceInfoID:      b.SourceInfoID,
		LastScannedItem:   b.LastScannedItem,
		CurrentItemNumber: b.CurrentItemNumber,
		Stage:             b.Stage,
		SubmittedBy:       b.SubmittedBy,
		DeclaredAt:        b.DeclaredAt,
		TotalRecords:      detail.TotalRecords,
		Page:              page,
		Serials:           make([]serialView, 0, end-start),
	}
	for _, s := range detail.Serials[start:end] {
		view.Serials = append(view.Serials, toSerialView(s))
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter, fields := parseSerialFilter(r)
	if fields != nil {
		httpx.ValidationProblem(w, fields)
		return
	}
	hits, page, err := h.service.SearchSerials(r.Context(), filter, queryInt(r, "page"), queryInt(r, "per_page"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view := searchView{Page: page, Serials: make([]serialHitView, 0, len(hits))}
	for _, hit := range hits {
		view.Serials = append(view.Serials, serialHitView{
			serialView:  toSerialView(hit.SerialRecord),
			BatchNumber: hit.BatchNumber,
			CreatedAt:   hit.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.sheets == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Reports Unavailable", "no pdf converter configured")
		return
	}
	detail, err := h.service.Lookup(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sheet := report.Sheet{
		BatchNumber: detail.Batch.BatchNumber,
		PartNumber:  detail.Batch.PartNumber,
		GeneratedAt: h.service.now(),
		Serials:     make([]string, 0, len(detail.Serials)),
	}
	for _, s := range detail.Serials {
		sheet.Serials = append(sheet.Serials, s.Serial)
	}
	pdf, err := h.sheets.Render(r.Context(), sheet)
	switch {
	case errors.Is(err, report.ErrEmptySheet):
		httpx.Problem(w, http.StatusNotFound, "Nothing To Print", "batch has no live serials")
		return
	case errors.Is(err, report.ErrUnprintable):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprintable Serial", err.Error())
		return
	case err != nil:
		h.logger.Error("render serial sheet", slog.String("batch", sheet.BatchNumber), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Report Failed", "pdf conversion failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="Batch_%s_Report.pdf"`, sanitizeFilename(sheet.BatchNumber)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.VoidSerial(r.Context(), id, h.gate.Principal(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSerialView(rec))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	moved, err := h.service.Complete(r.Context(), id, h.gate.Principal(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movedView{BatchID: id, Moved: moved})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

// parseSerialFilter reads search filters from the query string. Dates are
// YYYY-MM-DD; the to date is inclusive.
func parseSerialFilter(r *http.Request) (SerialFilter, map[string]string) {
	q := r.URL.Query()
	filter := SerialFilter{
		BatchNumber: q.Get("batch_number"),
		Serial:      q.Get("serial"),
		Status:      SerialStatus(q.Get("status")),
		SortBy:      q.Get("sort_by"),
		SortOrder:   q.Get("sort_order"),
	}
	fields := map[string]string{}
	switch filter.Status {
	case "", SerialNewScan, SerialCompliance, SerialComplete:
	default:
		fields["status"] = "must be one of NewScan Compliance Complete"
	}
	if v := q.Get("voided"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields["voided"] = "must be true or false"
		} else {
			filter.Voided = &b
		}
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			fields["start_date"] = "expected YYYY-MM-DD"
		} else {
			filter.From = &t
		}
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			fields["end_date"] = "expected YYYY-MM-DD"
		} else {
			end := t.AddDate(0, 0, 1)
			filter.To = &end
		}
	}
	if len(fields) > 0 {
		return SerialFilter{}, fields
	}
	return filter, nil
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.ValidationProblem(w, map[string]string{"id": "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyVoided):
		httpx.Problem(w, http.StatusConflict, "Already Voided", err.Error())
	case errors.Is(err, ErrInvalidFilter):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", err.Error())
	default:
		h.logger.Error("review request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toSerialView(s SerialRecord) serialView {
	return serialView{
		ID:       s.ID,
		Serial:   s.Serial,
		ItemNo:   s.ItemNo,
		Status:   string(s.Status),
		Voided:   s.Voided,
		VoidedAt: s.VoidedAt,
		VoidedBy: s.VoidedBy,
	}
}
