package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
)

// Headers stamped by the gateway after it has verified the caller's token.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func actorFrom(r *http.Request) (domain.Actor, bool) {
	id := r.Header.Get(HeaderActorID)
	if id == "" {
		return domain.Actor{}, false
	}
	role, err := domain.ParseRole(r.Header.Get(HeaderActorRole))
	if err != nil {
		return domain.Actor{}, false
	}
	return domain.Actor{ID: id, Role: role}, true
}

// authenticated rejects requests that carry no usable actor.
func (h *Handler) authenticated(next func(http.ResponseWriter, *http.Request, domain.Actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "missing or invalid actor", "unauthenticated")
			return
		}
		next(w, r, actor)
	}
}

type createOrderRequest struct {
	Items           []domain.LineRequest `json:"items"`
	ShippingAddress domain.Address       `json:"shipping_address"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	ItemsPrice      *decimal.Decimal     `json:"items_price"`
	ShippingPrice   *decimal.Decimal     `json:"shipping_price"`
	TaxPrice        *decimal.Decimal     `json:"tax_price"`
	TotalPrice      *decimal.Decimal     `json:"total_price"`
}

// totals returns nil when no price was sent and an error when only some were.
func (req createOrderRequest) totals() (*domain.Totals, error) {
	parts := []*decimal.Decimal{req.ItemsPrice, req.ShippingPrice, req.TaxPrice, req.TotalPrice}
	present := 0
	for _, p := range parts {
		if p != nil {
			present++
		}
	}
	switch present {
	case 0:
		return nil, nil
	case len(parts):
		return &domain.Totals{
			ItemsPrice:    *req.ItemsPrice,
			ShippingPrice: *req.ShippingPrice,
			TaxPrice:      *req.TaxPrice,
			TotalPrice:    *req.TotalPrice,
		}, nil
	}
	return nil, fmt.Errorf("%w: items_price, shipping_price, tax_price and total_price must be sent together", domain.ErrValidation)
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
			return
		}

		totals, err := req.totals()
		if err != nil {
			h.writeServiceError(w, err)
			return
		}

		order, err := h.service.CreateOrder(r.Context(), actor, CreateOrderInput{
			Items:           req.Items,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   req.PaymentMethod,
			Totals:          totals,
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}

		h.writeJSON(w, http.StatusCreated, order)
	})(w, r)
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		order, err := h.service.GetOrder(r.Context(), actor, r.PathValue("id"))
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, order)
	})(w, r)
}

type updateStatusRequest struct {
	Status       domain.OrderStatus `json:"status"`
	CancelReason string             `json:"cancel_reason"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
			return
		}

		order, err := h.service.UpdateStatus(r.Context(), actor, r.PathValue("id"), StatusChange{
			Status:       req.Status,
			CancelReason: req.CancelReason,
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, order)
	})(w, r)
}

type assignRequest struct {
	CarrierID         string     `json:"carrier_id"`
	TrackingNumber    string     `json:"tracking_number"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

func (h *Handler) HandleAssignCarrier(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		var req assignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
			return
		}

		order, err := h.service.AssignCarrier(r.Context(), actor, r.PathValue("id"), Assignment{
			CarrierID:         req.CarrierID,
			TrackingNumber:    req.TrackingNumber,
			EstimatedDelivery: req.EstimatedDelivery,
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, order)
	})(w, r)
}

type deliveryProofRequest struct {
	Proof string `json:"proof"`
}

func (h *Handler) HandleDeliveryProof(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		var req deliveryProofRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
			return
		}

		order, err := h.service.UploadDeliveryProof(r.Context(), actor, r.PathValue("id"), req.Proof)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, order)
	})(w, r)
}

func (h *Handler) HandleMarkPaid(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		var req domain.PaymentResult
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", "validation_error")
			return
		}

		order, err := h.service.MarkPaid(r.Context(), actor, r.PathValue("id"), req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, order)
	})(w, r)
}

type listFunc func(*Service, *http.Request, domain.Actor, ListQuery) (*domain.OrderPage, error)

func (h *Handler) handleList(list listFunc) http.HandlerFunc {
	return h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		q, err := parseListQuery(r)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}

		page, err := list(h.service, r, actor, q)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, page)
	})
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	h.handleList(func(s *Service, r *http.Request, a domain.Actor, q ListQuery) (*domain.OrderPage, error) {
		return s.ListForBuyer(r.Context(), a, q)
	})(w, r)
}

func (h *Handler) HandleListSeller(w http.ResponseWriter, r *http.Request) {
	h.handleList(func(s *Service, r *http.Request, a domain.Actor, q ListQuery) (*domain.OrderPage, error) {
		return s.ListForSeller(r.Context(), a, q)
	})(w, r)
}

func (h *Handler) HandleListCarrier(w http.ResponseWriter, r *http.Request) {
	h.handleList(func(s *Service, r *http.Request, a domain.Actor, q ListQuery) (*domain.OrderPage, error) {
		return s.ListForCarrier(r.Context(), a, q)
	})(w, r)
}

func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	h.handleList(func(s *Service, r *http.Request, a domain.Actor, q ListQuery) (*domain.OrderPage, error) {
		return s.ListAll(r.Context(), a, q)
	})(w, r)
}

func (h *Handler) HandleCarrierStats(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		stats, err := h.service.CarrierStats(r.Context(), actor)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, stats)
	})(w, r)
}

func (h *Handler) HandleListPayouts(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		query := r.URL.Query()
		page, err := intParam(query.Get("page"), "page")
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		limit, err := intParam(query.Get("limit"), "limit")
		if err != nil {
			h.writeServiceError(w, err)
			return
		}

		payouts, err := h.service.ListPayouts(r.Context(), actor, PayoutQuery{
			SellerID: query.Get("seller_id"),
			Page:     page,
			Limit:    limit,
			Status:   domain.PayoutStatus(query.Get("status")),
		})
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, payouts)
	})(w, r)
}

func (h *Handler) HandleEarnings(w http.ResponseWriter, r *http.Request) {
	h.authenticated(func(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
		query := r.URL.Query()
		earnings, err := h.service.Earnings(r.Context(), actor, query.Get("seller_id"), query.Get("timeframe"))
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, earnings)
	})(w, r)
}

func parseListQuery(r *http.Request) (ListQuery, error) {
	query := r.URL.Query()

	page, err := intParam(query.Get("page"), "page")
	if err != nil {
		return ListQuery{}, err
	}
	limit, err := intParam(query.Get("limit"), "limit")
	if err != nil {
		return ListQuery{}, err
	}

	q := ListQuery{
		Page:   page,
		Limit:  limit,
		Status: domain.OrderStatus(query.Get("status")),
		Search: query.Get("search"),
	}

	if raw := query.Get("start_date"); raw != "" {
		since, err := parseDate(raw)
		if err != nil {
			return ListQuery{}, err
		}
		q.DeliveredSince = &since
	}

	return q, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", domain.ErrValidation, name)
	}
	return n, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD or RFC 3339", domain.ErrValidation)
	}
	return t, nil
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrValidation, http.StatusBadRequest, "validation_error"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrProductUnavailable, http.StatusUnprocessableEntity, "product_unavailable"},
	{domain.ErrInvalidCarrier, http.StatusUnprocessableEntity, "invalid_carrier"},
	{domain.ErrConflictRetry, http.StatusConflict, "conflict_retry"},
	{resilience.ErrUnavailable, http.StatusServiceUnavailable, "dependency_unavailable"},
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			h.writeError(w, e.status, err.Error(), e.code)
			return
		}
	}

	h.logger.Error("request failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
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
