package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
	"github.com/kazu-2020/bento-manager-sub000/internal/service"
	"github.com/kazu-2020/bento-manager-sub000/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, service.Options{BusinessTZ: time.UTC})
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API, username string, password string) *client {
	t.Helper()
	return &client{
		t:       t,
		handler: api.Handler(),
		token:   loginAs(t, api, username, password),
		csrf:    fetchCSRFToken(t, api),
	}
}

func (c *client) do(method string, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			c.t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "manager",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	staff := newClient(t, api, "staff", "staff123")

	rec := staff.do(http.MethodGet, "/api/v1/products", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &body)
	if len(body.Products) != 4 {
		t.Fatalf("expected 4 seeded products, got %d", len(body.Products))
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCheckoutAndRefundOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	staff := newClient(t, api, "staff", "staff123")
	manager := newClient(t, api, "manager", "manager123")
	today := time.Now().UTC().Format(time.DateOnly)

	rec := staff.do(http.MethodPost, "/api/v1/locations/loc-main/inventory/"+today, domain.InventoryDayRequest{
		Items: []domain.InventoryItem{
			{ProductID: "prod-karaage", Stock: 5},
			{ProductID: "prod-salad", Stock: 5},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open day expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = staff.do(http.MethodPost, "/api/v1/sales", domain.CheckoutRequest{
		LocationID: "loc-main",
		Items: []domain.BasketLine{
			{ProductID: "prod-karaage", Quantity: 1},
			{ProductID: "prod-salad", Quantity: 1},
		},
		Coupons: domain.Coupons{"coupon-50": 1},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var checkout domain.CheckoutResponse
	decodeBody(t, rec, &checkout)
	if checkout.Sale.FinalAmount != 650 {
		t.Fatalf("expected final amount 650, got %d", checkout.Sale.FinalAmount)
	}

	rec = staff.do(http.MethodPost, "/api/v1/sales/"+checkout.Sale.ID+"/refund", domain.RefundRequest{Reason: "returned", ManagerPIN: "123456"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff refund expected 403, got %d", rec.Code)
	}

	rec = manager.do(http.MethodPost, "/api/v1/sales/"+checkout.Sale.ID+"/refund", domain.RefundRequest{
		RetainedItems: []domain.BasketLine{{ProductID: "prod-karaage", Quantity: 1}},
		Reason:        "salad returned",
		ManagerPIN:    "123456",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refund expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var refund domain.RefundResponse
	decodeBody(t, rec, &refund)
	if refund.RefundAmount != 150 || refund.CorrectedSale == nil {
		t.Fatalf("expected refund 150 with a corrected sale, got %+v", refund)
	}

	rec = manager.do(http.MethodPost, "/api/v1/sales/"+checkout.Sale.ID+"/refund", domain.RefundRequest{Reason: "again", ManagerPIN: "123456"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second refund expected 409, got %d", rec.Code)
	}

	rec = staff.do(http.MethodGet, "/api/v1/sales/"+checkout.Sale.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get sale expected 200, got %d", rec.Code)
	}
	var got struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &got)
	if got.Sale.Status != domain.SaleStatusVoided {
		t.Fatalf("expected voided sale, got %s", got.Sale.Status)
	}

	rec = manager.do(http.MethodPut, "/api/v1/locations/loc-main/inventory/"+today, domain.InventoryDayRequest{
		Items: []domain.InventoryItem{{ProductID: "prod-karaage", Stock: 9}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("correcting a started day expected 409, got %d", rec.Code)
	}
}

func TestCheckoutErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	staff := newClient(t, api, "staff", "staff123")
	today := time.Now().UTC().Format(time.DateOnly)

	rec := staff.do(http.MethodPost, "/api/v1/locations/loc-main/inventory/"+today, domain.InventoryDayRequest{
		Items: []domain.InventoryItem{{ProductID: "prod-karaage", Stock: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open day expected 201, got %d", rec.Code)
	}

	rec = staff.do(http.MethodPost, "/api/v1/sales", domain.CheckoutRequest{
		LocationID: "loc-main",
		Items:      []domain.BasketLine{{ProductID: "prod-karaage", Quantity: 3}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell expected 409, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["product_id"] != "prod-karaage" {
		t.Fatalf("expected shortfall detail, got %v", body)
	}

	rec = staff.do(http.MethodPost, "/api/v1/sales", domain.CheckoutRequest{
		LocationID: "loc-main",
		Items:      []domain.BasketLine{{ProductID: "prod-karaage", Quantity: 0}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero quantity expected 400, got %d", rec.Code)
	}

	rec = staff.do(http.MethodGet, "/api/v1/locations/loc-main/inventory/not-a-date", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date expected 400, got %d", rec.Code)
	}

	rec = staff.do(http.MethodGet, "/api/v1/sales/sale-ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown sale expected 404, got %d", rec.Code)
	}
}

func TestMissingPriceReportedWithDetail(t *testing.T) {
	api := newTestAPI(t)
	manager := newClient(t, api, "manager", "manager123")

	rec := manager.do(http.MethodPost, "/api/v1/products", domain.ProductCreateRequest{Name: "Tamagoyaki Bento", Category: domain.CategoryBento})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &created)

	rec = manager.do(http.MethodPost, "/api/v1/sales/quote", domain.QuoteRequest{
		Items: []domain.BasketLine{{ProductID: created.Product.ID, Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unpriced quote expected 400, got %d", rec.Code)
	}
	var body struct {
		MissingPrices []map[string]any `json:"missing_prices"`
	}
	decodeBody(t, rec, &body)
	if len(body.MissingPrices) != 1 {
		t.Fatalf("expected one missing price entry, got %v", body.MissingPrices)
	}

	rec = manager.do(http.MethodGet, "/api/v1/catalog/missing-prices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("missing prices expected 200, got %d", rec.Code)
	}
	var report domain.MissingPriceReport
	decodeBody(t, rec, &report)
	if len(report.Products) != 1 {
		t.Fatalf("expected the new product in the report, got %+v", report.Products)
	}

	rec = manager.do(http.MethodPost, "/api/v1/products/"+created.Product.ID+"/prices", domain.PriceCreateRequest{Kind: domain.PriceKindRegular, Amount: 480})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create price expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
