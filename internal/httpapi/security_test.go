package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Referrer-Policy":             "strict-origin-when-cross-origin",
		"Access-Control-Allow-Origin": "*",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("expected %s %q, got %q", header, want, got)
		}
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token") {
		t.Fatalf("expected csrf header to be allowed, got %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestLoginAttemptsAreLimited(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "manager", Password: "wrong-pass"})

	codes := make([]int, 0, 6)
	for n := 0; n < 6; n++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.1.1.7:5000"
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	for i, code := range codes[:5] {
		if code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401, got %d", i+1, code)
		}
	}
	if codes[5] != http.StatusTooManyRequests {
		t.Fatalf("attempt 6 expected 429, got %d", codes[5])
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "staff", "staff123")

	rec := c.do(http.MethodPost, "/api/v1/sales/quote", map[string]any{
		"items": []map[string]any{{"product_id": strings.Repeat("x", (1<<20)+512), "quantity": 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestMutationsRequireValidCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "manager", "manager123")

	for name, token := range map[string]string{
		"missing": "",
		"forged":  "1700000000.deadbeef",
	} {
		c.csrf = token
		rec := c.do(http.MethodPost, "/api/v1/locations", map[string]any{"name": "Kiosk"})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s token: expected 403, got %d", name, rec.Code)
		}
	}

	c.csrf = fetchCSRFToken(t, api)
	if rec := c.do(http.MethodPost, "/api/v1/locations", map[string]any{"name": "Kiosk"}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with a fresh token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRefundPINAttemptsAreLimited(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "manager", "manager123")
	payload := map[string]any{"reason": "wrong change", "manager_pin": "000000"}

	for i := 0; i < 8; i++ {
		if rec := c.do(http.MethodPost, "/api/v1/sales/sale-nonexistent/refund", payload); rec.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before pin limit, got %d", i+1, rec.Code)
		}
	}
	if rec := c.do(http.MethodPost, "/api/v1/sales/sale-nonexistent/refund", payload); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("attempt 9 expected 429, got %d", rec.Code)
	}
}

func TestStaffCannotReachManagerRoutes(t *testing.T) {
	api := newTestAPI(t)
	staff := newClient(t, api, "staff", "staff123")

	cases := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPost, "/api/v1/products", map[string]any{"name": "Tamago", "category": "bento"}},
		{http.MethodPost, "/api/v1/pricing-rules", map[string]any{}},
		{http.MethodPost, "/api/v1/discounts", map[string]any{}},
		{http.MethodGet, "/api/v1/catalog/missing-prices", nil},
		{http.MethodGet, "/api/v1/employees", nil},
		{http.MethodPut, "/api/v1/locations/loc-main/inventory/2026-01-05", map[string]any{"items": []any{}}},
		{http.MethodPost, "/api/v1/inventory/inv-1/adjustments", map[string]any{"delta": 1}},
	}
	for _, tc := range cases {
		if rec := staff.do(tc.method, tc.path, tc.body); rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403 for staff, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", rec.Code)
	}
	var payload map[string]string
	decodeBody(t, rec, &payload)
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return payload["csrf_token"]
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, rec.Code)
	}

	var payload domain.LoginResponse
	decodeBody(t, rec, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
