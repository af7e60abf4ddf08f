package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/hartadi/koperasi/pkg/models"
	"github.com/shopspring/decimal"
)

// Storage defines the persistence operations for the cooperative ledger.
// Every multi-row method (RegisterMember, AddEntries, DisburseLoan,
// SettleInstallment) executes inside a single transaction: it persists
// everything or nothing.
type Storage interface {
	// Configuration parameters.
	GetSettings() (models.Settings, error)
	UpsertSetting(key, value string) error

	// Members. RegisterMember assigns the member number from an atomic
	// per-month counter and posts the enrollment ledger entries in the
	// same transaction.
	RegisterMember(m *models.Member, entries []*models.LedgerEntry) error
	GetMember(id int64) (*models.Member, error)
	ListMembers() ([]*models.MemberSummary, error)

	// Ledger entries. Entries are append-only; there is no update or
	// delete. Corrections are posted as offsetting entries.
	AddEntries(entries []*models.LedgerEntry) error
	EntriesForMember(memberID int64) ([]*models.LedgerEntry, error)
	NetSavings(memberID int64) (decimal.Decimal, error)
	MandatoryDueCount(memberID int64) (int, error)
	CategoryTotals() (map[models.Category]decimal.Decimal, error)

	// Loans. DisburseLoan inserts the loan, its full schedule, and the
	// admin-fee entry atomically; it fails with models.ErrLoanActive when
	// the member already holds a loan that is not yet lunas.
	DisburseLoan(loan *models.Loan, lines []*models.InstallmentLine, fee *models.LedgerEntry) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	ListLoans() ([]*models.LoanInfo, error)
	LoansForMember(memberID int64) ([]*models.LoanProgress, error)
	ScheduleForLoan(loanID uuid.UUID) ([]*models.InstallmentLine, error)
	// SettleInstallment marks the line paid and posts the principal and
	// interest ledger entries in one transaction. When the line was the
	// loan's last unpaid installment the loan itself flips to lunas.
	SettleInstallment(lineID int64, paidAt time.Time) (*models.InstallmentLine, error)

	// Operating expense book.
	AddExpense(e *models.Expense) error
	ListExpenses(month, year int) ([]*models.Expense, error)

	// Reporting aggregates over the signed ledger.
	SignedLedgerTotals() (inflow, withdrawals decimal.Decimal, err error)
	LedgerSumBefore(month, year int) (decimal.Decimal, error)
	PeriodLedgerRows(month, year int) ([]*models.PeriodEntry, error)

	Close() error
}
