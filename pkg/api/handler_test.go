package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marketmood/entitlement/pkg/api"
	"github.com/marketmood/entitlement/pkg/entitlement"
	"github.com/marketmood/entitlement/storage/memory"
)

func accountFromHeader(r *http.Request) string {
	return r.Header.Get("X-Account-ID")
}

func newTestServer(t *testing.T) (*http.ServeMux, *memory.Store) {
	t.Helper()

	store := memory.New()
	issuer, err := entitlement.NewIssuer(store, store, entitlement.Config{
		Catalog: entitlement.DefaultCatalog(),
	})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	handler, err := api.NewHandler(api.Config{
		Issuer:       issuer,
		GetAccountID: accountFromHeader,
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, store
}

func seedAccount(t *testing.T, store *memory.Store, id string, tier entitlement.Tier, balance int) {
	t.Helper()
	err := store.CreateAccount(context.Background(), &entitlement.Account{
		ID:            id,
		Tier:          tier,
		CreditBalance: balance,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
}

func postUnlock(mux *http.ServeMux, accountID string, body api.UnlockRequest) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/unlock", bytes.NewReader(payload))
	if accountID != "" {
		req.Header.Set("X-Account-ID", accountID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := api.NewHandler(api.Config{}); err == nil {
		t.Error("Expected error for missing issuer")
	}

	store := memory.New()
	issuer, _ := entitlement.NewIssuer(store, store, entitlement.Config{})
	if _, err := api.NewHandler(api.Config{Issuer: issuer}); err == nil {
		t.Error("Expected error for missing GetAccountID")
	}
}

func TestUnlock_Granted(t *testing.T) {
	mux, store := newTestServer(t)
	seedAccount(t, store, "acct1", entitlement.TierFree, 20)

	rec := postUnlock(mux, "acct1", api.UnlockRequest{Component: "socialPosts"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp api.UnlockResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("Expected a session id")
	}
	if resp.CreditsUsed != 5 {
		t.Errorf("Expected 5 credits used, got %d", resp.CreditsUsed)
	}
	if resp.ExistingSession {
		t.Error("Expected a fresh session")
	}

	// Second call returns the same session without charging
	rec = postUnlock(mux, "acct1", api.UnlockRequest{Component: "socialPosts"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var again api.UnlockResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &again)
	if !again.ExistingSession || again.SessionID != resp.SessionID || again.CreditsUsed != 0 {
		t.Errorf("Expected idempotent re-entry, got %+v", again)
	}
}

func TestUnlock_ErrorMapping(t *testing.T) {
	mux, store := newTestServer(t)
	seedAccount(t, store, "poor", entitlement.TierFree, 3)
	seedAccount(t, store, "free", entitlement.TierFree, 100)
	seedAccount(t, store, "gone", entitlement.TierPro, 100)
	_ = store.DeactivateAccount(context.Background(), "gone")

	tests := []struct {
		name       string
		accountID  string
		body       api.UnlockRequest
		wantStatus int
		wantError  string
	}{
		{
			name:       "insufficient credits",
			accountID:  "poor",
			body:       api.UnlockRequest{Component: "socialPosts"},
			wantStatus: http.StatusPaymentRequired,
			wantError:  "InsufficientCredits",
		},
		{
			name:       "tier forbidden",
			accountID:  "free",
			body:       api.UnlockRequest{Component: "aiAnalysis"},
			wantStatus: http.StatusForbidden,
			wantError:  "Forbidden",
		},
		{
			name:       "deactivated account",
			accountID:  "gone",
			body:       api.UnlockRequest{Component: "chart"},
			wantStatus: http.StatusForbidden,
			wantError:  "Forbidden",
		},
		{
			name:       "unknown component",
			accountID:  "free",
			body:       api.UnlockRequest{Component: "holograms"},
			wantStatus: http.StatusBadRequest,
			wantError:  "UnknownComponent",
		},
		{
			name:       "unknown account",
			accountID:  "ghost",
			body:       api.UnlockRequest{Component: "chart"},
			wantStatus: http.StatusNotFound,
			wantError:  "UnknownAccount",
		},
		{
			name:       "unauthenticated",
			accountID:  "",
			body:       api.UnlockRequest{Component: "chart"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Unauthenticated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postUnlock(mux, tt.accountID, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			var resp api.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Bad error body: %v", err)
			}
			if resp.Error != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, resp.Error)
			}
		})
	}
}

func TestUnlock_InsufficientCreditsDetail(t *testing.T) {
	mux, store := newTestServer(t)
	seedAccount(t, store, "poor", entitlement.TierFree, 3)

	rec := postUnlock(mux, "poor", api.UnlockRequest{Component: "socialPosts"})
	var resp api.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	if resp.RequiredCredits != 5 || resp.AvailableCredits != 3 {
		t.Errorf("Expected required=5 available=3, got %+v", resp)
	}
	if resp.Component != "socialPosts" {
		t.Errorf("Expected component echoed, got %q", resp.Component)
	}
}

func TestUnlock_BadBody(t *testing.T) {
	mux, store := newTestServer(t)
	seedAccount(t, store, "acct1", entitlement.TierFree, 20)

	req := httptest.NewRequest(http.MethodPost, "/unlock", strings.NewReader("{not json"))
	req.Header.Set("X-Account-ID", "acct1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}

	rec = postUnlock(mux, "acct1", api.UnlockRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing component, got %d", rec.Code)
	}
}

func TestSessions(t *testing.T) {
	mux, store := newTestServer(t)
	seedAccount(t, store, "acct1", entitlement.TierPro, 100)

	for _, component := range []string{"chart", "scores"} {
		rec := postUnlock(mux, "acct1", api.UnlockRequest{Component: component})
		if rec.Code != http.StatusOK {
			t.Fatalf("Unlock %s failed: %d", component, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("X-Account-ID", "acct1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp api.SessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad body: %v", err)
	}
	if resp.AccountID != "acct1" {
		t.Errorf("Expected accountId acct1, got %q", resp.AccountID)
	}
	if len(resp.Sessions) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(resp.Sessions))
	}

	// Unauthenticated
	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestCatalog(t *testing.T) {
	mux, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp api.CatalogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad body: %v", err)
	}
	if resp.Costs["aiAnalysis"] != 25 {
		t.Errorf("Expected aiAnalysis cost 25, got %d", resp.Costs["aiAnalysis"])
	}
	free, ok := resp.Tiers["free"]
	if !ok {
		t.Fatal("Expected free tier in catalog")
	}
	if free.WindowSeconds != 1800 {
		t.Errorf("Expected 1800s free window, got %d", free.WindowSeconds)
	}
	if free.Unmetered {
		t.Error("Free tier must not be unmetered")
	}
	if !resp.Tiers["institutional"].Unmetered {
		t.Error("Institutional tier must be unmetered")
	}
}
