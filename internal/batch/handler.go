package batch

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/receiving/internal/auth"
	"github.com/odyssey-erp/receiving/internal/platform/httpx"
	"github.com/odyssey-erp/receiving/internal/shared"
)

// Handler exposes the scanning workflow to the view layer.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *auth.Gate
	scanLimit int
}

// NewHandler constructs the batch handler. scanLimit caps scans per minute
// per session; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, gate *auth.Gate, scanLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate, scanLimit: scanLimit}
}

// Routes lists the workflow endpoints. Transitions are gated inside the
// controller so that a refusal can leave the batch verified.
func (h *Handler) Routes() []auth.Route {
	var scanMW []func(http.Handler) http.Handler
	if h.scanLimit > 0 {
		scanMW = append(scanMW, httprate.Limit(h.scanLimit, time.Minute, httprate.WithKeyFuncs(sessionKey)))
	}
	return []auth.Route{
		{Method: http.MethodGet, Pattern: "/current", Handler: h.handleSnapshot},
		{Method: http.MethodPost, Pattern: "/", Handler: h.handleDeclare},
		{Method: http.MethodPost, Pattern: "/scans", Handler: h.handleScan, Middleware: scanMW},
		{Method: http.MethodPut, Pattern: "/count", Handler: h.handleSetCount},
		{Method: http.MethodPost, Pattern: "/verify", Handler: h.handleVerify},
		{Method: http.MethodPost, Pattern: "/transitions", Handler: h.handleTransition},
	}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	auth.Mount(r, h.gate, h.Routes())
}

type declareRequest struct {
	BatchNumber   string `json:"batch_number" validate:"max=50"`
	NumberOfItems int    `json:"number_of_items"`
	PartNumber    string `json:"part_number" validate:"max=50"`
	BatchType     string `json:"batch_type" validate:"omitempty,oneof=inbound outbound"`
	Description   string `json:"description" validate:"max=2000"`
	SourceInfoID  *int64 `json:"source_info_id"`
}

// scanRequest carries a scanned serial. With OCR set, Serial holds the raw
// text read off the label and the serial is extracted from it.
type scanRequest struct {
	Serial string `json:"serial" validate:"required,max=2000"`
	OCR    bool   `json:"ocr"`
}

type countRequest struct {
	CurrentCount *int `json:"current_count" validate:"required"`
}

type transitionRequest struct {
	Stage    string `json:"stage" validate:"required,oneof=review compliance bulk"`
	Location string `json:"location" validate:"max=512"`
}

type batchView struct {
	BatchNumber   string    `json:"batch_number"`
	NumberOfItems int       `json:"number_of_items"`
	PartNumber    string    `json:"part_number"`
	BatchType     Type      `json:"batch_type"`
	Description   string    `json:"description"`
	SourceInfoID  *int64    `json:"source_info_id"`
	Verified      bool      `json:"verified"`
	CurrentCount  int       `json:"current_count"`
	DeclaredAt    time.Time `json:"declared_at"`
}

type snapshotView struct {
	State      State      `json:"state"`
	Status     Status     `json:"status,omitempty"`
	Batch      *batchView `json:"batch,omitempty"`
	Serials    []string   `json:"serials"`
	LedgerSize int        `json:"ledger_size"`
}

type transitionView struct {
	HandoffID string `json:"handoff_id"`
	Stage     Stage  `json:"stage"`
	State     State  `json:"state"`
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context(), shared.SessionID(r.Context()))
	if err != nil {
		h.respondError(w, r, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, toView(snap))
}

func (h *Handler) handleDeclare(w http.ResponseWriter, r *http.Request) {
	var req declareRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.service.Declare(r.Context(), shared.SessionID(r.Context()), Spec{
		BatchNumber:   req.BatchNumber,
		NumberOfItems: req.NumberOfItems,
		PartNumber:    req.PartNumber,
		Type:          Type(req.BatchType),
		Description:   req.Description,
		SourceInfoID:  req.SourceInfoID,
	})
	if err != nil {
		h.respondError(w, r, err, "")
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(snap))
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !h.decode(w, r, &req) {
		return
	}
	serial := req.Serial
	if req.OCR {
		extracted, ok := ExtractSerial(serial)
		if !ok {
			httpx.Problem(w, http.StatusUnprocessableEntity, "No Serial Found", "no serial number in scanned text")
			return
		}
		serial = extracted
	} else if len(serial) > 255 {
		httpx.ValidationProblem(w, map[string]string{"serial": "must be at most 255 characters"})
		return
	}
	snap, err := h.service.Scan(r.Context(), shared.SessionID(r.Context()), serial)
	if err != nil {
		h.respondError(w, r, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, toView(snap))
}

func (h *Handler) handleSetCount(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.service.SetCurrentCount(r.Context(), shared.SessionID(r.Context()), *req.CurrentCount)
	if err != nil {
		h.respondError(w, r, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, toView(snap))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Verify(r.Context(), shared.SessionID(r.Context()))
	if err != nil {
		h.respondError(w, r, err, "")
		return
	}
	httpx.JSON(w, http.StatusOK, toView(snap))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	location := req.Location
	if location == "" {
		location = "/" + req.Stage
	}
	handoff, err := h.service.RequestTransition(r.Context(), shared.SessionID(r.Context()), Stage(req.Stage), location)
	if err != nil {
		h.respondError(w, r, err, location)
		return
	}
	httpx.JSON(w, http.StatusOK, transitionView{HandoffID: handoff.ID.String(), Stage: handoff.Stage, State: StateReviewed})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if fields := httpx.Validate(dst); fields != nil {
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error, location string) {
	switch {
	case errors.Is(err, ErrNotAuthorized):
		w.Header().Set("Location", h.gate.LoginURL(location))
		httpx.Problem(w, http.StatusUnauthorized, "Login Required", "sign in to continue")
	case errors.Is(err, ErrInvalidBatchSpec):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Batch", err.Error())
	case errors.Is(err, ErrInvalidCount):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Count", err.Error())
	case errors.Is(err, ErrInvalidSerial), errors.Is(err, ErrUnknownStage):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, ErrDuplicateSerial):
		httpx.Problem(w, http.StatusConflict, "Duplicate Serial", err.Error())
	case errors.Is(err, ErrOverCapacity):
		httpx.Problem(w, http.StatusConflict, "Batch Full", err.Error())
	case errors.Is(err, ErrStaleWorkflow):
		httpx.Problem(w, http.StatusConflict, "Workflow Closed", err.Error())
	case errors.Is(err, ErrNoActiveBatch):
		httpx.Problem(w, http.StatusNotFound, "No Active Batch", err.Error())
	case errors.Is(err, ErrInternalConsistency):
		h.logger.Error("batch internal consistency", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Batch Inconsistent", err.Error())
	default:
		h.logger.Error("batch request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toView(snap Snapshot) snapshotView {
	view := snapshotView{State: snap.State, Status: snap.Status, Serials: snap.Serials, LedgerSize: snap.LedgerSize}
	if view.Serials == nil {
		view.Serials = []string{}
	}
	if snap.State != StateEmpty {
		rec := snap.Record
		view.Batch = &batchView{
			BatchNumber:   rec.BatchNumber,
			NumberOfItems: rec.NumberOfItems,
			PartNumber:    rec.PartNumber,
			BatchType:     rec.Type,
			Description:   rec.Description,
			SourceInfoID:  rec.SourceInfoID,
			Verified:      rec.Verified,
			CurrentCount:  rec.CurrentCount,
			DeclaredAt:    rec.DeclaredAt,
		}
	}
	return view
}

func sessionKey(r *http.Request) (string, error) {
	if id := shared.SessionID(r.Context()); id != "" {
		return "scan:" + id, nil
	}
	return httprate.KeyByIP(r)
}
