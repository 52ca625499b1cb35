package orders

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/fulfillment/internal/domain"
	"github.com/joao-fontenele/fulfillment/internal/resilience"
)

func newTestHandler(t *testing.T) (*Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil))), f
}

func asActor(req *http.Request, actor domain.Actor) *http.Request {
	req.Header.Set(HeaderActorID, actor.ID)
	req.Header.Set(HeaderActorRole, string(actor.Role))
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandler_HandleCreateOrder(t *testing.T) {
	body := `{
		"items": [{"product_id": "PROD-001", "quantity": 2}, {"product_id": "PROD-002", "quantity": 1}],
		"shipping_address": {"street": "1 Main St", "city": "Lahore", "state": "Punjab", "postal_code": "54000", "country": "PK", "phone": "123"},
		"payment_method": "cod"
	}`

	t.Run("creates order with computed totals", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := asActor(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), buyer)
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
		}

		var order domain.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected pending, got %s", order.Status)
		}
		if !order.TotalPrice.Equal(dec("104.5")) {
			t.Errorf("expected total 104.5, got %s", order.TotalPrice)
		}
	})

	t.Run("returns 401 without actor", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp["code"] != "unauthenticated" {
			t.Errorf("expected unauthenticated, got %s", resp["code"])
		}
	})

	t.Run("returns 400 for invalid body", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := asActor(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("not json")), buyer)
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("returns 400 for partial totals", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		partial := strings.Replace(body, `"payment_method": "cod"`, `"payment_method": "cod", "total_price": "104.5"`, 1)
		req := asActor(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(partial)), buyer)
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp["code"] != "validation_error" {
			t.Errorf("expected validation_error, got %s", resp["code"])
		}
	})

	t.Run("returns 422 for unavailable product", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		unavailable := strings.Replace(body, "PROD-002", "PROD-003", 1)
		req := asActor(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(unavailable)), buyer)
		rec := httptest.NewRecorder()

		handler.HandleCreateOrder(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp["code"] != "product_unavailable" {
			t.Errorf("expected product_unavailable, got %s", resp["code"])
		}
	})
}

func TestHandler_HandleGetOrder(t *testing.T) {
	t.Run("returns order to its buyer", func(t *testing.T) {
		handler, f := newTestHandler(t)
		order := f.placeTwoSellerOrder(t)

		req := asActor(httptest.NewRequest(http.MethodGet, "/orders/"+order.ID, nil), buyer)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleGetOrder(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("returns 403 to strangers", func(t *testing.T) {
		handler, f := newTestHandler(t)
		order := f.placeTwoSellerOrder(t)

		req := asActor(httptest.NewRequest(http.MethodGet, "/orders/"+order.ID, nil), otherBuy)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleGetOrder(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("returns 404 for unknown order", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := asActor(httptest.NewRequest(http.MethodGet, "/orders/missing", nil), admin)
		req.SetPathValue("id", "missing")
		rec := httptest.NewRecorder()

		handler.HandleGetOrder(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp["code"] != "not_found" {
			t.Errorf("expected not_found, got %s", resp["code"])
		}
	})

	t.Run("returns 401 for unknown role", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/orders/x", nil)
		req.Header.Set(HeaderActorID, "someone")
		req.Header.Set(HeaderActorRole, "wizard")
		req.SetPathValue("id", "x")
		rec := httptest.NewRecorder()

		handler.HandleGetOrder(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleUpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		actor      domain.Actor
		body       string
		wantStatus int
		wantCode   string
	}{
		{"seller moves to processing", sellerA, `{"status":"processing"}`, http.StatusOK, ""},
		{"unrelated seller", sellerZ, `{"status":"processing"}`, http.StatusForbidden, "unauthorized"},
		{"unknown status", admin, `{"status":"lost"}`, http.StatusBadRequest, "validation_error"},
		{"skipping ahead", sellerA, `{"status":"shipped"}`, http.StatusForbidden, "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, f := newTestHandler(t)
			order := f.placeTwoSellerOrder(t)

			req := asActor(httptest.NewRequest(http.MethodPatch, "/orders/"+order.ID+"/status", strings.NewReader(tt.body)), tt.actor)
			req.SetPathValue("id", order.ID)
			rec := httptest.NewRecorder()

			handler.HandleUpdateStatus(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if resp := decodeError(t, rec); resp["code"] != tt.wantCode {
					t.Errorf("expected %s, got %s", tt.wantCode, resp["code"])
				}
			}
		})
	}

	t.Run("invalid transition is a conflict", func(t *testing.T) {
		handler, f := newTestHandler(t)
		order := f.shipped(t)

		req := asActor(httptest.NewRequest(http.MethodPatch, "/orders/"+order.ID+"/status", strings.NewReader(`{"status":"cancelled"}`)), buyer)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleUpdateStatus(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp["code"] != "invalid_transition" {
			t.Errorf("expected invalid_transition, got %s", resp["code"])
		}
	})
}

func TestHandler_HandleAssignCarrier(t *testing.T) {
	t.Run("ships a processing order", func(t *testing.T) {
		handler, f := newTestHandler(t)
		order := f.placeTwoSellerOrder(t)
		if _, err := f.service.UpdateStatus(t.Context(), sellerA, order.ID, StatusChange{Status: domain.OrderStatusProcessing}); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		req := asActor(httptest.NewRequest(http.MethodPut, "/orders/"+order.ID+"/assign",
			strings.NewReader(`{"carrier_id":"shipper-1","tracking_number":"TRK123456"}`)), sellerB)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleAssignCarrier(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var got domain.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Status != domain.OrderStatusShipped || got.Shipment.TrackingNumber != "TRK123456" {
			t.Errorf("unexpected order: status=%s shipment=%+v", got.Status, got.Shipment)
		}
		if n := f.payoutCount(order.ID); n != 2 {
			t.Errorf("expected 2 payouts, got %d", n)
		}
	})

	t.Run("returns 422 for a non-shipper", func(t *testing.T) {
		handler, f := newTestHandler(t)
		order := f.placeTwoSellerOrder(t)

		req := asActor(httptest.NewRequest(http.MethodPut, "/orders/"+order.ID+"/assign",
			strings.NewReader(`{"carrier_id":"buyer-1"}`)), sellerA)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleAssignCarrier(rec, req)

		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp["code"] != "invalid_carrier" {
			t.Errorf("expected invalid_carrier, got %s", resp["code"])
		}
	})
}

func TestHandler_HandleDeliveryProof(t *testing.T) {
	handler, f := newTestHandler(t)
	order := f.shipped(t)

	req := asActor(httptest.NewRequest(http.MethodPost, "/orders/"+order.ID+"/proof",
		strings.NewReader(`{"proof":"proofs/door.jpg"}`)), carrier)
	req.SetPathValue("id", order.ID)
	rec := httptest.NewRecorder()

	handler.HandleDeliveryProof(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	for seller, tx := range f.payoutsFor(order.ID) {
		if tx.Status != domain.PayoutCompleted {
			t.Errorf("expected %s completed, got %s", seller, tx.Status)
		}
	}
}

func TestHandler_HandleListMine(t *testing.T) {
	t.Run("lists with paging", func(t *testing.T) {
		handler, f := newTestHandler(t)
		f.placeTwoSellerOrder(t)
		f.placeTwoSellerOrder(t)
		f.placeTwoSellerOrder(t)

		req := asActor(httptest.NewRequest(http.MethodGet, "/orders/mine?page=2&limit=2", nil), buyer)
		rec := httptest.NewRecorder()

		handler.HandleListMine(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var page domain.OrderPage
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if page.Total != 3 || page.Pages != 2 || len(page.Orders) != 1 {
			t.Errorf("unexpected page: total=%d pages=%d orders=%d", page.Total, page.Pages, len(page.Orders))
		}
	})

	t.Run("rejects non-numeric page", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := asActor(httptest.NewRequest(http.MethodGet, "/orders/mine?page=two", nil), buyer)
		rec := httptest.NewRecorder()

		handler.HandleListMine(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleListCarrier(t *testing.T) {
	t.Run("filters by delivery date", func(t *testing.T) {
		handler, f := newTestHandler(t)
		order := f.shipped(t)
		if _, err := f.service.UploadDeliveryProof(t.Context(), carrier, order.ID, "proof"); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		for _, tc := range []struct {
			since string
			want  int
		}{
			{"2026-04-30", 1},
			{"2026-05-02", 0},
		} {
			req := asActor(httptest.NewRequest(http.MethodGet, "/orders/carrier?start_date="+tc.since, nil), carrier)
			rec := httptest.NewRecorder()

			handler.HandleListCarrier(rec, req)

			var page domain.OrderPage
			if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if page.Total != tc.want {
				t.Errorf("since %s: expected %d orders, got %d", tc.since, tc.want, page.Total)
			}
		}
	})

	t.Run("rejects a malformed date", func(t *testing.T) {
		handler, _ := newTestHandler(t)

		req := asActor(httptest.NewRequest(http.MethodGet, "/orders/carrier?start_date=yesterday", nil), carrier)
		rec := httptest.NewRecorder()

		handler.HandleListCarrier(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleListPayouts(t *testing.T) {
	handler, f := newTestHandler(t)
	f.shipped(t)

	t.Run("seller totals", func(t *testing.T) {
		req := asActor(httptest.NewRequest(http.MethodGet, "/payouts", nil), sellerB)
		rec := httptest.NewRecorder()

		handler.HandleListPayouts(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var page domain.PayoutPage
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if page.Total != 1 || !page.Totals.Pending.Equal(dec("40")) {
			t.Errorf("unexpected payouts: %+v", page)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		req := asActor(httptest.NewRequest(http.MethodGet, "/payouts?status=lost", nil), sellerB)
		rec := httptest.NewRecorder()

		handler.HandleListPayouts(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("buyer is forbidden", func(t *testing.T) {
		req := asActor(httptest.NewRequest(http.MethodGet, "/payouts", nil), buyer)
		rec := httptest.NewRecorder()

		handler.HandleListPayouts(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})
}

func TestHandler_WriteServiceError(t *testing.T) {
	handler, _ := newTestHandler(t)

	tests := []struct {
		err        error
		wantStatus int
	}{
		{domain.ErrConflictRetry, http.StatusConflict},
		{resilience.ErrUnavailable, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.writeServiceError(rec, tt.err)

		if rec.Code != tt.wantStatus {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.wantStatus, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.writeServiceError(rec, io.ErrUnexpectedEOF)
	if resp := decodeError(t, rec); resp["error"] != "internal server error" {
		t.Errorf("expected internal error message to be hidden, got %s", resp["error"])
	}
}
