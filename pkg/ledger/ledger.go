// Package ledger implements the cooperative's core write paths: member
// enrollment, due posting, loan issuance with amortized schedules, and
// installment settlement. Every money movement lands in the append-only
// ledger; balances are always recomputed from it, never cached.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hartadi/koperasi/pkg/models"
	"github.com/hartadi/koperasi/pkg/schedule"
	"github.com/hartadi/koperasi/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger handles the business logic for members, dues, and loans.
type Ledger struct {
	storage store.Storage
	now     func() time.Time
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage) *Ledger {
	return &Ledger{storage: s, now: time.Now}
}

// --- Configuration ---

// Config returns a snapshot of all configuration parameters.
func (l *Ledger) Config() (models.Settings, error) {
	return l.storage.GetSettings()
}

// UpdateConfig overwrites one configuration parameter. Financial keys must
// hold a non-negative number.
func (l *Ledger) UpdateConfig(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.Validationf("nama_key", "must not be empty")
	}
	if models.NumericSettingKey(key) {
		n, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return models.Validationf(key, "must be numeric, got %q", value)
		}
		if n.IsNegative() {
			return models.Validationf(key, "must not be negative, got %s", n)
		}
	}
	return l.storage.UpsertSetting(key, value)
}

// --- Members ---

// RegisterMember enrolls a member and posts their enrollment entries in one
// transaction: the registration fee, the first mandatory due, and an
// optional voluntary deposit. Fee amounts come from one settings snapshot.
func (l *Ledger) RegisterMember(name string, joinDate time.Time, voluntary decimal.Decimal) (*models.Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.Validationf("nama_lengkap", "must not be empty")
	}
	if voluntary.IsNegative() {
		return nil, models.Validationf("iuran_sukarela", "must not be negative, got %s", voluntary)
	}

	now := l.now()
	if joinDate.IsZero() {
		joinDate = now
	}

	settings, err := l.storage.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	month, year := int(joinDate.Month()), joinDate.Year()
	entries := []*models.LedgerEntry{
		newEntry(models.CategoryRegistration, settings.RegistrationFee(), month, year, "Biaya pendaftaran", now),
		newEntry(models.CategoryMandatory, settings.MandatoryDue(), month, year, "Setoran awal", now),
	}
	if voluntary.IsPositive() {
		entries = append(entries,
			newEntry(models.CategoryVoluntary, voluntary.Truncate(0), month, year, "Setoran awal", now))
	}

	member := &models.Member{Name: name, JoinDate: joinDate, CreatedAt: now}
	if err := l.storage.RegisterMember(member, entries); err != nil {
		return nil, fmt.Errorf("failed to register member: %w", err)
	}
	return member, nil
}

// Members lists all members with their savings aggregates.
func (l *Ledger) Members() ([]*models.MemberSummary, error) {
	return l.storage.ListMembers()
}

// MemberHistory returns a member's full ledger history, newest first.
func (l *Ledger) MemberHistory(memberID int64) ([]*models.LedgerEntry, error) {
	if _, err := l.storage.GetMember(memberID); err != nil {
		return nil, err
	}
	return l.storage.EntriesForMember(memberID)
}

// MemberSavings carries the two savings projections for one member.
type MemberSavings struct {
	Net      decimal.Decimal `json:"total_simpanan"`
	DueCount int             `json:"total_lunas_wajib"`
}

// Savings returns a member's net savings (wajib + sukarela + tarik_simpanan,
// registration fees excluded) and mandatory-due count.
func (l *Ledger) Savings(memberID int64) (*MemberSavings, error) {
	if _, err := l.storage.GetMember(memberID); err != nil {
		return nil, err
	}
	net, err := l.storage.NetSavings(memberID)
	if err != nil {
		return nil, err
	}
	count, err := l.storage.MandatoryDueCount(memberID)
	if err != nil {
		return nil, err
	}
	return &MemberSavings{Net: net, DueCount: count}, nil
}

// --- Dues ---

// PostDue appends one due entry for a member. Mandatory dues are forced to
// the configured amount regardless of the caller's input; withdrawals are
// stored negative so signed sums need no special-casing downstream.
func (l *Ledger) PostDue(memberID int64, category models.Category, amount decimal.Decimal, month, year int) (*models.LedgerEntry, error) {
	entries, err := l.postDues(memberID, category, amount, month, year, 1)
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// PostDueBulk appends one due entry per period for months consecutive
// periods starting at (startMonth, startYear), rolling December into
// January. All entries persist atomically.
func (l *Ledger) PostDueBulk(memberID int64, category models.Category, perMonth decimal.Decimal, startMonth, startYear, months int) ([]*models.LedgerEntry, error) {
	if months < 1 {
		return nil, models.Validationf("total_bulan", "must be at least 1, got %d", months)
	}
	return l.postDues(memberID, category, perMonth, startMonth, startYear, months)
}

func (l *Ledger) postDues(memberID int64, category models.Category, amount decimal.Decimal, month, year, months int) ([]*models.LedgerEntry, error) {
	if memberID <= 0 {
		return nil, models.Validationf("id_anggota", "must be positive, got %d", memberID)
	}
	if !dueCategory(category) {
		return nil, models.Validationf("jenis_iuran", "must be one of wajib, sukarela, tarik_simpanan; got %q", category)
	}
	if month < 1 || month > 12 {
		return nil, models.Validationf("bulan_iuran", "must be 1-12, got %d", month)
	}
	if year < 1 {
		return nil, models.Validationf("tahun_iuran", "must be positive, got %d", year)
	}
	if !amount.IsPositive() && category != models.CategoryMandatory {
		return nil, models.Validationf("jumlah_bayar", "must be positive, got %s", amount)
	}
	if _, err := l.storage.GetMember(memberID); err != nil {
		return nil, err
	}

	settings, err := l.storage.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	amount = amount.Truncate(0)
	var note string
	switch category {
	case models.CategoryMandatory:
		// The configured due wins over whatever the caller sent.
		amount = settings.MandatoryDue()
		note = "Iuran wajib"
	case models.CategoryVoluntary:
		note = "Setoran sukarela"
	case models.CategoryWithdrawal:
		amount = amount.Abs().Neg()
		note = "Penarikan simpanan"
	}
	if months > 1 {
		note += " (Bulk)"
	}

	now := l.now()
	entries := make([]*models.LedgerEntry, 0, months)
	for i := 0; i < months; i++ {
		if month > 12 {
			month = 1
			year++
		}
		e := newEntry(category, amount, month, year, note, now)
		e.MemberID = memberID
		entries = append(entries, e)
		month++
	}

	if err := l.storage.AddEntries(entries); err != nil {
		return nil, fmt.Errorf("failed to post dues: %w", err)
	}
	return entries, nil
}

// --- Loans ---

// CreateLoan issues a loan: active-loan guard, declining-balance schedule,
// and admin-fee ledger entry, all persisted in one transaction. The admin
// fee comes from the settings snapshot taken at the start of the call.
func (l *Ledger) CreateLoan(memberID int64, principal decimal.Decimal, termMonths int, ratePercent decimal.Decimal) (*models.Loan, []*models.InstallmentLine, error) {
	if memberID <= 0 {
		return nil, nil, models.Validationf("id_anggota", "must be positive, got %d", memberID)
	}
	if !principal.IsPositive() {
		return nil, nil, models.Validationf("nominal_pokok", "must be positive, got %s", principal)
	}
	if _, err := l.storage.GetMember(memberID); err != nil {
		return nil, nil, err
	}

	plan, err := schedule.Build(principal.Truncate(0), termMonths, ratePercent)
	if err != nil {
		return nil, nil, err
	}

	settings, err := l.storage.GetSettings()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read settings: %w", err)
	}
	adminFee := settings.LoanAdminFee()

	now := l.now()
	loan := &models.Loan{
		ID:          uuid.New(),
		MemberID:    memberID,
		Principal:   principal.Truncate(0),
		TermMonths:  termMonths,
		RatePercent: ratePercent,
		AdminFee:    adminFee,
		Status:      models.LoanStatusActive,
		DisbursedAt: now,
	}

	lines := make([]*models.InstallmentLine, len(plan))
	for i, p := range plan {
		lines[i] = &models.InstallmentLine{
			Number:    p.Number,
			Principal: p.Principal,
			Interest:  p.Interest,
			Total:     p.Total,
			Status:    models.LineStatusUnpaid,
		}
	}

	fee := newEntry(models.CategoryLoanAdminFee, adminFee, int(now.Month()), now.Year(),
		fmt.Sprintf("Biaya admin pinjaman (ID: %s)", loan.ID), now)
	fee.MemberID = memberID

	if err := l.storage.DisburseLoan(loan, lines, fee); err != nil {
		if errors.Is(err, models.ErrLoanActive) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to disburse loan: %w", err)
	}
	return loan, lines, nil
}

// PayInstallment settles one schedule line: the line flips to lunas and
// exactly two ledger entries (principal, interest) are posted with the
// payment date's period, atomically.
func (l *Ledger) PayInstallment(lineID int64) (*models.InstallmentLine, error) {
	if lineID <= 0 {
		return nil, models.Validationf("id_jadwal", "must be positive, got %d", lineID)
	}
	return l.storage.SettleInstallment(lineID, l.now())
}

// Loans lists every loan with member identity, newest first.
func (l *Ledger) Loans() ([]*models.LoanInfo, error) {
	return l.storage.ListLoans()
}

// MemberLoans returns a member's loan history with repayment progress.
func (l *Ledger) MemberLoans(memberID int64) ([]*models.LoanProgress, error) {
	if _, err := l.storage.GetMember(memberID); err != nil {
		return nil, err
	}
	return l.storage.LoansForMember(memberID)
}

// LoanSchedule returns a loan's installment schedule in order.
func (l *Ledger) LoanSchedule(loanID uuid.UUID) ([]*models.InstallmentLine, error) {
	if _, err := l.storage.GetLoan(loanID); err != nil {
		return nil, err
	}
	return l.storage.ScheduleForLoan(loanID)
}

// --- Expense book ---

// AddExpense records one operating expense dated now. The category is
// uppercased for consistency in the expense book.
func (l *Ledger) AddExpense(category, note string, amount decimal.Decimal, enteredBy string) (*models.Expense, error) {
	category = strings.ToUpper(strings.TrimSpace(category))
	if category == "" {
		return nil, models.Validationf("kategori", "must not be empty")
	}
	if !amount.IsPositive() {
		return nil, models.Validationf("nominal", "must be positive, got %s", amount)
	}

	e := &models.Expense{
		Date:      l.now(),
		Category:  category,
		Note:      note,
		Amount:    amount.Truncate(0),
		EnteredBy: enteredBy,
	}
	if err := l.storage.AddExpense(e); err != nil {
		return nil, fmt.Errorf("failed to add expense: %w", err)
	}
	return e, nil
}

// Expenses lists expenses, optionally filtered by month and/or year.
func (l *Ledger) Expenses(month, year int) ([]*models.Expense, error) {
	if month < 0 || month > 12 {
		return nil, models.Validationf("bulan", "must be 1-12, got %d", month)
	}
	return l.storage.ListExpenses(month, year)
}

func dueCategory(c models.Category) bool {
	for _, dc := range models.DueCategories {
		if c == dc {
			return true
		}
	}
	return false
}

func newEntry(category models.Category, amount decimal.Decimal, month, year int, note string, at time.Time) *models.LedgerEntry {
	return &models.LedgerEntry{
		Category:  category,
		Amount:    amount,
		Month:     month,
		Year:      year,
		Note:      note,
		Verified:  true,
		CreatedAt: at,
	}
}
