package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matola-erp/matola-erp/internal/platform/httpx"
)

// Handler exposes read access to stock records.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/{productRef}", h.getStock)
	r.Get("/stock/{productRef}/movements", h.getMovements)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	productRef := chi.URLParam(r, "productRef")
	record, err := h.service.GetStock(r.Context(), productRef)
	if err != nil {
		if errors.Is(err, ErrStockNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no stock record for "+productRef)
			return
		}
		h.logger.Error("get stock failed", slog.String("product_ref", productRef), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, struct {
		StockRecord
		Available float64 `json:"available"`
	}{StockRecord: record, Available: record.Available()})
}

func (h *Handler) getMovements(w http.ResponseWriter, r *http.Request) {
	productRef := chi.URLParam(r, "productRef")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ProductMovements(r.Context(), productRef, limit)
	if err != nil {
		h.logger.Error("list product movements failed", slog.String("product_ref", productRef), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if movements == nil {
		movements = []StockMovement{}
	}
	httpx.JSON(w, http.StatusOK, movements)
}
