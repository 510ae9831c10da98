package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/hqnguyen/loanbook/pkg/models"
	"github.com/hqnguyen/loanbook/pkg/store"
)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	dbFile := "test_api.db"
	os.Remove(dbFile)
	t.Cleanup(func() { os.Remove(dbFile) })

	s, err := store.NewSQLiteStore(dbFile, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	server := NewServer(s, nil)
	return server, server.routes()
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func createTestAccount(t *testing.T, router *mux.Router) models.Account {
	t.Helper()
	rr := doJSON(t, router, "POST", "/accounts", map[string]any{
		"name": "Checking", "type": "bank", "balance": 0,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var account models.Account
	json.Unmarshal(rr.Body.Bytes(), &account)
	return account
}

func createTestLoan(t *testing.T, router *mux.Router, account models.Account) models.LoanWithSchedule {
	t.Helper()
	rr := doJSON(t, router, "POST", "/loans", map[string]any{
		"name":               "business loan",
		"from_account_id":    account.ID,
		"total_amount":       120000000,
		"monthly_principal":  60000000,
		"interest_rate":      12,
		"term_months":        2,
		"start_date":         "2024-01-01",
		"first_payment_date": "2024-02-01",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var loan models.LoanWithSchedule
	json.Unmarshal(rr.Body.Bytes(), &loan)
	return loan
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	_, router := setupTestServer(t)
	account := createTestAccount(t, router)
	created := createTestLoan(t, router, account)

	if len(created.Schedule) != 2 {
		t.Fatalf("Expected 2 schedule entries, got %d", len(created.Schedule))
	}
	// 31 days of Actual/365 accrual on the full principal.
	wantInterest := decimal.NewFromInt(1_223_014)
	if !created.Schedule[0].Interest.Equal(wantInterest) {
		t.Errorf("Expected first interest %s, got %s", wantInterest, created.Schedule[0].Interest)
	}

	rr := doJSON(t, router, "GET", "/loans/"+created.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var fetched models.LoanWithSchedule
	json.Unmarshal(rr.Body.Bytes(), &fetched)
	if fetched.ID != created.ID {
		t.Errorf("Expected ID %s, got %s", created.ID, fetched.ID)
	}
	if !fetched.RemainingBalance.Equal(decimal.NewFromInt(120_000_000)) {
		t.Errorf("Expected remaining balance 120000000, got %s", fetched.RemainingBalance)
	}
}

func TestAPI_CreateLoanValidation(t *testing.T) {
	_, router := setupTestServer(t)
	account := createTestAccount(t, router)

	rr := doJSON(t, router, "POST", "/loans", map[string]any{
		"name":               "",
		"from_account_id":    account.ID,
		"total_amount":       1000,
		"interest_rate":      10,
		"term_months":        12,
		"start_date":         "2024-01-01",
		"first_payment_date": "2024-02-01",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestAPI_MarkPaid(t *testing.T) {
	_, router := setupTestServer(t)
	account := createTestAccount(t, router)
	created := createTestLoan(t, router, account)

	rr := doJSON(t, router, "POST", "/loans/"+created.ID.String()+"/schedule/1/pay", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var loan models.Loan
	json.Unmarshal(rr.Body.Bytes(), &loan)
	want := decimal.NewFromInt(60_000_000)
	if !loan.RemainingBalance.Equal(want) {
		t.Errorf("Expected remaining balance %s, got %s", want, loan.RemainingBalance)
	}

	// Re-marking the same entry is a conflict, not a second decrement.
	rr = doJSON(t, router, "POST", "/loans/"+created.ID.String()+"/schedule/1/pay", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}

	// The loan view reports how much has been repaid and when the term ends.
	rr = doJSON(t, router, "GET", "/loans/"+created.ID.String(), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var view struct {
		MaturityDate time.Time       `json:"maturity_date"`
		PaidAmount   decimal.Decimal `json:"paid_amount"`
	}
	json.Unmarshal(rr.Body.Bytes(), &view)
	if !view.PaidAmount.Equal(want) {
		t.Errorf("Expected paid amount %s, got %s", want, view.PaidAmount)
	}
	wantMaturity := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.Local)
	if !view.MaturityDate.Equal(wantMaturity) {
		t.Errorf("Expected maturity date %s, got %s", wantMaturity, view.MaturityDate)
	}
}

func TestAPI_EditEntry(t *testing.T) {
	_, router := setupTestServer(t)
	account := createTestAccount(t, router)
	created := createTestLoan(t, router, account)

	rr := doJSON(t, router, "PUT", "/loans/"+created.ID.String()+"/schedule/1", map[string]any{
		"payment_date":         "2024-02-01",
		"principal":            50000000,
		"interest":             1223014,
		"interest_rate":        12,
		"apply_rate_to_future": false,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var entries []models.ScheduleEntry
	json.Unmarshal(rr.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if !entries[0].Principal.Equal(decimal.NewFromInt(50_000_000)) {
		t.Errorf("Expected edited principal 50000000, got %s", entries[0].Principal)
	}
	// The cascade re-anchored the second entry on the 70,000,000 now left.
	wantBalance := decimal.NewFromInt(70_000_000)
	if !entries[0].RemainingBalance.Decimal.Equal(wantBalance) {
		t.Errorf("Expected balance snapshot %s, got %s", wantBalance, entries[0].RemainingBalance.Decimal)
	}
}

func TestAPI_DeleteLoan(t *testing.T) {
	_, router := setupTestServer(t)
	account := createTestAccount(t, router)
	created := createTestLoan(t, router, account)

	rr := doJSON(t, router, "DELETE", "/loans/"+created.ID.String(), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}

	rr = doJSON(t, router, "GET", "/loans/"+created.ID.String(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	rr = doJSON(t, router, "DELETE", "/loans/"+created.ID.String(), nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected delete of missing loan to 404, got %d", rr.Code)
	}
}
