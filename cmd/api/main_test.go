package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hartadi/koperasi/pkg/models"
	"github.com/hartadi/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewServer(s, log)
}

func doJSON(t *testing.T, server *Server, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, body)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func registerAPIMember(t *testing.T, server *Server, name string, voluntary int64) *models.Member {
	t.Helper()

	rr := doJSON(t, server, "POST", "/api/members", map[string]any{
		"nama_lengkap":   name,
		"tgl_bergabung":  "2026-02-10",
		"iuran_sukarela": voluntary,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 registering member, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var member models.Member
	json.Unmarshal(rr.Body.Bytes(), &member)
	return &member
}

func TestAPI_ConfigRoundTrip(t *testing.T) {
	server := setupTestServer(t)

	rr := doJSON(t, server, "PUT", "/api/config", map[string]any{
		"nama_key":      "iuran_wajib",
		"nilai_nominal": "25000",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, "GET", "/api/config", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var config map[string]string
	json.Unmarshal(rr.Body.Bytes(), &config)
	if config["iuran_wajib"] != "25000" {
		t.Errorf("Expected updated iuran_wajib 25000, got %q", config["iuran_wajib"])
	}
	// Seeded default survives untouched.
	if config["biaya_pendaftaran"] != "100000" {
		t.Errorf("Expected default biaya_pendaftaran 100000, got %q", config["biaya_pendaftaran"])
	}

	rr = doJSON(t, server, "PUT", "/api/config", map[string]any{
		"nama_key":      "iuran_wajib",
		"nilai_nominal": "abc",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-numeric fee, got %d", rr.Code)
	}
}

func TestAPI_MemberRegistrationAndSavings(t *testing.T) {
	server := setupTestServer(t)

	member := registerAPIMember(t, server, "Budi Santoso", 25000)
	if member.Number != "0226001" {
		t.Errorf("Expected member number 0226001, got %q", member.Number)
	}

	// One more mandatory due; the posted amount is ignored in favor of the
	// configured 20000.
	rr := doJSON(t, server, "POST", "/api/dues", map[string]any{
		"id_anggota":   member.ID,
		"jenis_iuran":  "wajib",
		"jumlah_bayar": 99999,
		"bulan_iuran":  3,
		"tahun_iuran":  2026,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var entry models.LedgerEntry
	json.Unmarshal(rr.Body.Bytes(), &entry)
	if !entry.Amount.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("Expected forced mandatory amount 20000, got %s", entry.Amount)
	}

	rr = doJSON(t, server, "POST", "/api/dues", map[string]any{
		"id_anggota":   member.ID,
		"jenis_iuran":  "tarik_simpanan",
		"jumlah_bayar": 15000,
		"bulan_iuran":  3,
		"tahun_iuran":  2026,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	// Registration fee excluded: 20000 + 25000 + 20000 - 15000.
	rr = doJSON(t, server, "GET", fmt.Sprintf("/api/members/%d/savings", member.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var savings struct {
		Net      decimal.Decimal `json:"total_simpanan"`
		DueCount int             `json:"total_lunas_wajib"`
	}
	json.Unmarshal(rr.Body.Bytes(), &savings)
	if !savings.Net.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("Expected net savings 50000, got %s", savings.Net)
	}
	if savings.DueCount != 2 {
		t.Errorf("Expected 2 mandatory dues, got %d", savings.DueCount)
	}

	rr = doJSON(t, server, "GET", fmt.Sprintf("/api/members/%d/history", member.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var history []*models.LedgerEntry
	json.Unmarshal(rr.Body.Bytes(), &history)
	if len(history) != 5 {
		t.Errorf("Expected 5 ledger entries, got %d", len(history))
	}

	rr = doJSON(t, server, "GET", "/api/members/99/savings", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown member, got %d", rr.Code)
	}
}

func TestAPI_LoanLifecycle(t *testing.T) {
	server := setupTestServer(t)
	member := registerAPIMember(t, server, "Budi Santoso", 0)

	rr := doJSON(t, server, "POST", "/api/loans", map[string]any{
		"id_anggota":    member.ID,
		"nominal_pokok": 1200000,
		"tenor":         12,
		"bunga_persen":  2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var created createLoanResponse
	json.Unmarshal(rr.Body.Bytes(), &created)
	if len(created.Schedule) != 12 {
		t.Fatalf("Expected 12 schedule lines, got %d", len(created.Schedule))
	}
	if !created.Schedule[0].Total.Equal(decimal.NewFromInt(124000)) {
		t.Errorf("Expected first installment 124000, got %s", created.Schedule[0].Total)
	}
	if !created.Loan.AdminFee.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("Expected configured admin fee 10000, got %s", created.Loan.AdminFee)
	}

	// A second loan while the first is open is rejected.
	rr = doJSON(t, server, "POST", "/api/loans", map[string]any{
		"id_anggota":    member.ID,
		"nominal_pokok": 500000,
		"tenor":         5,
		"bunga_persen":  2,
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for second active loan, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	payPath := fmt.Sprintf("/api/installments/%d/pay", created.Schedule[0].ID)
	rr = doJSON(t, server, "POST", payPath, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var paid models.InstallmentLine
	json.Unmarshal(rr.Body.Bytes(), &paid)
	if paid.Status != models.LineStatusPaid {
		t.Errorf("Expected settled line status lunas, got %q", paid.Status)
	}

	rr = doJSON(t, server, "POST", payPath, nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for double payment, got %d", rr.Code)
	}

	rr = doJSON(t, server, "GET", "/api/loans/"+created.Loan.ID.String()+"/schedule", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var schedule []*models.InstallmentLine
	json.Unmarshal(rr.Body.Bytes(), &schedule)
	if schedule[0].Status != models.LineStatusPaid || schedule[1].Status != models.LineStatusUnpaid {
		t.Errorf("Expected first line settled and second open, got %q and %q", schedule[0].Status, schedule[1].Status)
	}

	rr = doJSON(t, server, "GET", fmt.Sprintf("/api/members/%d/loans", member.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var progress []*models.LoanProgress
	json.Unmarshal(rr.Body.Bytes(), &progress)
	if len(progress) != 1 || progress[0].PaidCount != 1 {
		t.Errorf("Expected one loan with one settled installment, got %+v", progress)
	}
}

func TestAPI_ValidationErrors(t *testing.T) {
	server := setupTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"member without name", "POST", "/api/members", map[string]any{"iuran_sukarela": 5000}},
		{"member with bad join date", "POST", "/api/members", map[string]any{"nama_lengkap": "Budi", "tgl_bergabung": "10-02-2026"}},
		{"loan without member", "POST", "/api/loans", map[string]any{"nominal_pokok": 100000, "tenor": 10, "bunga_persen": 2}},
		{"due with bad month", "POST", "/api/dues", map[string]any{"id_anggota": 1, "jenis_iuran": "wajib", "bulan_iuran": 13, "tahun_iuran": 2026}},
		{"cashflow without period", "GET", "/api/reports/cashflow", nil},
		{"expense without category", "POST", "/api/expenses", map[string]any{"nominal": 5000}},
	}
	for _, tc := range cases {
		rr := doJSON(t, server, tc.method, tc.path, tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d. Body: %s", tc.name, rr.Code, rr.Body.String())
		}
	}
}

func TestAPI_Reports(t *testing.T) {
	server := setupTestServer(t)
	member := registerAPIMember(t, server, "Budi Santoso", 30000)

	rr := doJSON(t, server, "POST", "/api/loans", map[string]any{
		"id_anggota":    member.ID,
		"nominal_pokok": 600000,
		"tenor":         6,
		"bunga_persen":  2,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, "POST", "/api/expenses", map[string]any{
		"kategori":   "atk",
		"keterangan": "Beli kertas",
		"nominal":    50000,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, "GET", "/api/reports/dashboard", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var dash models.DashboardSummary
	json.Unmarshal(rr.Body.Bytes(), &dash)

	// Registration 100000 + wajib 20000 + sukarela 30000 + admin fee 10000.
	if !dash.TotalInflow.Equal(decimal.NewFromInt(160000)) {
		t.Errorf("Expected total inflow 160000, got %s", dash.TotalInflow)
	}
	if !dash.TotalLoanDisbursed.Equal(decimal.NewFromInt(600000)) {
		t.Errorf("Expected disbursed 600000, got %s", dash.TotalLoanDisbursed)
	}
	want := dash.OpeningBalance.Add(dash.TotalInflow).Sub(dash.TotalOutflow)
	if !dash.ClosingBalance.Equal(want) {
		t.Errorf("Dashboard does not reconcile: closing %s, want %s", dash.ClosingBalance, want)
	}

	now := time.Now()
	rr = doJSON(t, server, "GET", fmt.Sprintf("/api/reports/cashflow?bulan=%d&tahun=%d", int(now.Month()), now.Year()), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var period models.PeriodCashFlow
	json.Unmarshal(rr.Body.Bytes(), &period)
	if !period.Closing.Equal(period.Opening.Add(period.Inflow).Sub(period.Outflow)) {
		t.Error("Period statement does not reconcile")
	}

	rr = doJSON(t, server, "GET", "/api/reports/categories", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var totals map[models.Category]decimal.Decimal
	json.Unmarshal(rr.Body.Bytes(), &totals)
	if !totals[models.CategoryRegistration].Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Expected registration total 100000, got %s", totals[models.CategoryRegistration])
	}
}
