package documents

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/matola-erp/matola-erp/internal/inventory"
	"github.com/matola-erp/matola-erp/internal/observability"
	"github.com/matola-erp/matola-erp/internal/platform/httpx"
	"github.com/matola-erp/matola-erp/internal/shared"
)

// Handler exposes the document engine as a JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	metrics  *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		metrics:  metrics,
	}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.createDocument)
	r.Get("/documents/{id}", h.getDocument)
	r.Put("/documents/{id}/lines", h.setLines)
	r.Post("/documents/{id}/transition", h.transition)
	r.Get("/documents/{id}/movements", h.listMovements)
	r.Post("/documents/{id}/reservations", h.reserveStock)
	r.Delete("/documents/{id}/reservations", h.releaseStock)
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.CreateDocument(r.Context(), req)
	if err != nil {
		if errors.Is(err, shared.ErrAllocationConflict) {
			h.metrics.AllocationConflict()
		}
		h.respondError(w, r, err)
		return
	}
	h.metrics.DocumentCreated(string(doc.Type))
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) setLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	var req SetLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	totals, err := h.service.SetLines(r.Context(), id, req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, totals)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, changed, err := h.service.Transition(r.Context(), id, req.Target)
	if err != nil {
		h.metrics.Transition(string(req.Target), "rejected")
		h.respondError(w, r, err)
		return
	}
	// A retry of an already-reached state is a no-op: counting it would
	// inflate the transition and movement metrics.
	if changed {
		h.metrics.Transition(string(req.Target), "applied")
		if req.Target == StateFulfilled {
			if direction := doc.Type.StockEffect(); direction != inventory.DirectionNone {
				h.metrics.MovementsApplied(string(direction), len(doc.MovementLines()))
			}
		}
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	movements, err := h.service.Movements(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if movements == nil {
		movements = []inventory.StockMovement{}
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) reserveStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	reservations, err := h.service.ReserveStock(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if reservations == nil {
		reservations = []inventory.Reservation{}
	}
	httpx.JSON(w, http.StatusOK, reservations)
}

func (h *Handler) releaseStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	if err := h.service.ReleaseStock(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "document id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps engine errors onto problem responses, carrying the
// identifying data the UI needs for a precise message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr   *ValidationError
		transitionErr   *InvalidTransitionError
		insufficientErr *inventory.InsufficientStockError
	)
	switch {
	case errors.As(err, &validationErr):
		httpx.ProblemWith(w, http.StatusBadRequest, "Validation Failed", validationErr.Error(), map[string]any{
			"field": validationErr.Field,
		})
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &transitionErr):
		httpx.ProblemWith(w, http.StatusConflict, "Invalid Transition", transitionErr.Error(), map[string]any{
			"document_id": transitionErr.DocumentID.String(),
			"current":     string(transitionErr.Current),
			"requested":   string(transitionErr.Requested),
		})
	case errors.As(err, &insufficientErr):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", insufficientErr.Error(), map[string]any{
			"product_ref": insufficientErr.ProductRef,
			"requested":   insufficientErr.Requested,
			"available":   insufficientErr.Available,
			"shortfall":   insufficientErr.Shortfall(),
		})
	case errors.Is(err, ErrNotEditable):
		httpx.Problem(w, http.StatusConflict, "Not Editable", err.Error())
	case errors.Is(err, shared.ErrAllocationConflict):
		httpx.Problem(w, http.StatusConflict, "Allocation Conflict", "document number allocation raced, retry the request")
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "document not found")
	default:
		h.logger.Error("documents request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
