package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hartadi/koperasi/pkg/ledger"
	"github.com/hartadi/koperasi/pkg/models"
	"github.com/hartadi/koperasi/pkg/report"
	"github.com/hartadi/koperasi/pkg/store"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the core services behind the HTTP surface. Sessions, auth,
// and asset handling live outside this binary.
type Server struct {
	ledger   *ledger.Ledger
	reports  *report.Engine
	storage  store.Storage
	validate *validator.Validate
	log      *logrus.Logger
}

func NewServer(s store.Storage, log *logrus.Logger) *Server {
	return &Server{
		ledger:   ledger.NewLedger(s),
		reports:  report.NewEngine(s),
		storage:  s,
		validate: validator.New(),
		log:      log,
	}
}

// Router wires every route; tests reuse it against an httptest recorder.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/config", s.getConfigHandler).Methods("GET")
	r.HandleFunc("/api/config", s.updateConfigHandler).Methods("PUT")

	r.HandleFunc("/api/members", s.registerMemberHandler).Methods("POST")
	r.HandleFunc("/api/members", s.listMembersHandler).Methods("GET")
	r.HandleFunc("/api/members/{id}/savings", s.memberSavingsHandler).Methods("GET")
	r.HandleFunc("/api/members/{id}/history", s.memberHistoryHandler).Methods("GET")
	r.HandleFunc("/api/members/{id}/loans", s.memberLoansHandler).Methods("GET")

	r.HandleFunc("/api/dues", s.postDueHandler).Methods("POST")
	r.HandleFunc("/api/dues/bulk", s.postDueBulkHandler).Methods("POST")

	r.HandleFunc("/api/loans", s.createLoanHandler).Methods("POST")
	r.HandleFunc("/api/loans", s.listLoansHandler).Methods("GET")
	r.HandleFunc("/api/loans/{id}/schedule", s.loanScheduleHandler).Methods("GET")
	r.HandleFunc("/api/installments/{id}/pay", s.payInstallmentHandler).Methods("POST")

	r.HandleFunc("/api/expenses", s.addExpenseHandler).Methods("POST")
	r.HandleFunc("/api/expenses", s.listExpensesHandler).Methods("GET")

	r.HandleFunc("/api/reports/dashboard", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/api/reports/cashflow", s.cashFlowHandler).Methods("GET")
	r.HandleFunc("/api/reports/categories", s.categoryTotalsHandler).Methods("GET")
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &verr), errors.As(err, &fieldErrs):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	case errors.Is(err, models.ErrAlreadyPaid), errors.Is(err, models.ErrLoanActive):
		s.writeJSON(w, http.StatusConflict, errorResponse{Message: err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal error"})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Message: "malformed request body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, err)
		return false
	}
	return true
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, models.Validationf("id", "must be a positive integer")
	}
	return id, nil
}

// --- Configuration ---

func (s *Server) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ledger.Config()
	if err != nil {
		s.writeError(w, err)
		return
	}
	merged := make(map[string]any, len(settings.Numbers)+len(settings.Texts))
	for k, v := range settings.Numbers {
		merged[k] = v
	}
	for k, v := range settings.Texts {
		merged[k] = v
	}
	s.writeJSON(w, http.StatusOK, merged)
}

type updateConfigRequest struct {
	Key   string `json:"nama_key" validate:"required"`
	Value string `json:"nilai_nominal"`
}

func (s *Server) updateConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ledger.UpdateConfig(req.Key, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "configuration updated"})
}

// --- Members ---

type registerMemberRequest struct {
	Name      string          `json:"nama_lengkap" validate:"required"`
	JoinDate  string          `json:"tgl_bergabung"` // YYYY-MM-DD, empty = today
	Voluntary decimal.Decimal `json:"iuran_sukarela"`
}

func (s *Server) registerMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if !s.decode(w, r, &req) {
		return
	}

	var joinDate time.Time
	if req.JoinDate != "" {
		var err error
		joinDate, err = time.Parse("2006-01-02", req.JoinDate)
		if err != nil {
			s.writeError(w, models.Validationf("tgl_bergabung", "must be YYYY-MM-DD, got %q", req.JoinDate))
			return
		}
	}

	member, err := s.ledger.RegisterMember(req.Name, joinDate, req.Voluntary)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, member)
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := s.ledger.Members()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

func (s *Server) memberSavingsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	savings, err := s.ledger.Savings(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, savings)
}

func (s *Server) memberHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.ledger.MemberHistory(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) memberLoansHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	loans, err := s.ledger.MemberLoans(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

// --- Dues ---

type postDueRequest struct {
	MemberID int64           `json:"id_anggota" validate:"required,gt=0"`
	Category string          `json:"jenis_iuran" validate:"required"`
	Amount   decimal.Decimal `json:"jumlah_bayar"`
	Month    int             `json:"bulan_iuran" validate:"required,min=1,max=12"`
	Year     int             `json:"tahun_iuran" validate:"required,min=1"`
}

func (s *Server) postDueHandler(w http.ResponseWriter, r *http.Request) {
	var req postDueRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.ledger.PostDue(req.MemberID, models.Category(req.Category), req.Amount, req.Month, req.Year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

type postDueBulkRequest struct {
	MemberID int64           `json:"id_anggota" validate:"required,gt=0"`
	Category string          `json:"jenis_iuran" validate:"required"`
	PerMonth decimal.Decimal `json:"jumlah_per_bulan"`
	Month    int             `json:"bulan_mulai" validate:"required,min=1,max=12"`
	Year     int             `json:"tahun_mulai" validate:"required,min=1"`
	Months   int             `json:"total_bulan" validate:"required,min=1"`
}

func (s *Server) postDueBulkHandler(w http.ResponseWriter, r *http.Request) {
	var req postDueBulkRequest
	if !s.decode(w, r, &req) {
		return
	}
	entries, err := s.ledger.PostDueBulk(req.MemberID, models.Category(req.Category), req.PerMonth, req.Month, req.Year, req.Months)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entries)
}

// --- Loans ---

type createLoanRequest struct {
	MemberID  int64           `json:"id_anggota" validate:"required,gt=0"`
	Principal decimal.Decimal `json:"nominal_pokok"`
	Term      int             `json:"tenor" validate:"required,min=1"`
	Rate      decimal.Decimal `json:"bunga_persen"`
}

type createLoanResponse struct {
	Loan     *models.Loan              `json:"pinjaman"`
	Schedule []*models.InstallmentLine `json:"jadwal_angsuran"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	loan, lines, err := s.ledger.CreateLoan(req.MemberID, req.Principal, req.Term, req.Rate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createLoanResponse{Loan: loan, Schedule: lines})
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.Loans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) loanScheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, models.Validationf("id", "must be a valid loan id"))
		return
	}
	lines, err := s.ledger.LoanSchedule(loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lines)
}

func (s *Server) payInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	line, err := s.ledger.PayInstallment(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, line)
}

// --- Expenses ---

type addExpenseRequest struct {
	Category  string          `json:"kategori" validate:"required"`
	Note      string          `json:"keterangan"`
	Amount    decimal.Decimal `json:"nominal"`
	EnteredBy string          `json:"admin_input"`
}

func (s *Server) addExpenseHandler(w http.ResponseWriter, r *http.Request) {
	var req addExpenseRequest
	if !s.decode(w, r, &req) {
		return
	}
	expense, err := s.ledger.AddExpense(req.Category, req.Note, req.Amount, req.EnteredBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, expense)
}

func (s *Server) listExpensesHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := periodQuery(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	expenses, err := s.ledger.Expenses(month, year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, expenses)
}

// --- Reports ---

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reports.Dashboard()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) cashFlowHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := periodQuery(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	statement, err := s.reports.PeriodCashFlow(month, year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statement)
}

func (s *Server) categoryTotalsHandler(w http.ResponseWriter, r *http.Request) {
	totals, err := s.reports.CategoryTotals()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, totals)
}

// periodQuery reads bulan/tahun query parameters. When required is false,
// missing parameters mean "no filter" and come back as zero.
func periodQuery(r *http.Request, required bool) (int, int, error) {
	q := r.URL.Query()
	monthStr, yearStr := q.Get("bulan"), q.Get("tahun")
	if !required && monthStr == "" && yearStr == "" {
		return 0, 0, nil
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil && (required || monthStr != "") {
		return 0, 0, models.Validationf("bulan", "must be an integer, got %q", monthStr)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil && (required || yearStr != "") {
		return 0, 0, models.Validationf("tahun", "must be an integer, got %q", yearStr)
	}
	return month, year, nil
}

func main() {
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	dbPath := os.Getenv("KOPERASI_DB")
	if dbPath == "" {
		dbPath = "koperasi.db"
	}
	addr := os.Getenv("KOPERASI_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	sqliteStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize SQLite store")
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, log)

	log.WithField("addr", addr).Info("server starting")
	if err := http.ListenAndServe(addr, server.Router()); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
