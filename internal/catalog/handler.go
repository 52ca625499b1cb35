package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/fulfillment/internal/domain"
)

type ProductStore interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type Handler struct {
	repo   ProductStore
	logger *slog.Logger
}

func NewHandler(repo ProductStore, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("id")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id", "validation_error")
		return
	}

	product, err := h.repo.GetByID(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found", "not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

type resolveRequest struct {
	Items []domain.LineRequest `json:"items"`
}

type resolveResponse struct {
	Items []domain.OrderItem `json:"items"`
}

type unavailableResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	ProductID string `json:"product_id"`
}

func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
		return
	}

	if err := ValidateLines(req.Items); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	products, err := h.repo.GetMany(r.Context(), productIDs(req.Items))
	if err != nil {
		h.logger.Error("failed to load products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	items, err := Snapshot(req.Items, products)
	if err != nil {
		var unavailable *UnavailableError
		if errors.As(err, &unavailable) {
			h.logger.Info("product unavailable", "product_id", unavailable.ProductID)
			h.writeJSON(w, http.StatusUnprocessableEntity, unavailableResponse{
				Error:     err.Error(),
				Code:      "product_unavailable",
				ProductID: unavailable.ProductID,
			})
			return
		}
		h.logger.Error("failed to snapshot products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	h.logger.Info("products resolved", "lines", len(items))
	h.writeJSON(w, http.StatusOK, resolveResponse{Items: items})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
