// Package report aggregates the ledger, expense book, and loan table into
// the dashboard summary and period cash-flow statements. It is read-only:
// every number is recomputed from the stored rows on each call.
package report

import (
	"sort"
	"time"

	"github.com/hartadi/koperasi/pkg/models"
	"github.com/shopspring/decimal"
)

// Source is the read capability the reporting engine needs. store.Storage
// satisfies it; tests substitute an in-memory implementation.
type Source interface {
	GetSettings() (models.Settings, error)
	SignedLedgerTotals() (inflow, withdrawals decimal.Decimal, err error)
	LedgerSumBefore(month, year int) (decimal.Decimal, error)
	PeriodLedgerRows(month, year int) ([]*models.PeriodEntry, error)
	ListExpenses(month, year int) ([]*models.Expense, error)
	ListLoans() ([]*models.LoanInfo, error)
	CategoryTotals() (map[models.Category]decimal.Decimal, error)
}

// Engine computes financial reports from a Source.
type Engine struct {
	src Source
}

// NewEngine creates a reporting engine over the given source.
func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// Dashboard computes the all-time cash position.
//
// Inflow counts only positive ledger rows, so withdrawals (stored negative)
// are subtracted exactly once, on the outflow side.
func (e *Engine) Dashboard() (*models.DashboardSummary, error) {
	settings, err := e.src.GetSettings()
	if err != nil {
		return nil, err
	}
	opening := settings.OpeningBalance()

	inflow, withdrawals, err := e.src.SignedLedgerTotals()
	if err != nil {
		return nil, err
	}

	expenses, err := e.src.ListExpenses(0, 0)
	if err != nil {
		return nil, err
	}
	operating := decimal.Zero
	for _, x := range expenses {
		operating = operating.Add(x.Amount)
	}

	loans, err := e.src.ListLoans()
	if err != nil {
		return nil, err
	}
	disbursed := decimal.Zero
	for _, l := range loans {
		disbursed = disbursed.Add(l.Principal)
	}

	outflow := operating.Add(disbursed).Add(withdrawals)
	return &models.DashboardSummary{
		OpeningBalance:         opening,
		TotalInflow:            inflow,
		TotalOperatingExpenses: operating,
		TotalLoanDisbursed:     disbursed,
		TotalWithdrawals:       withdrawals,
		TotalOutflow:           outflow,
		ClosingBalance:         opening.Add(inflow).Sub(outflow),
	}, nil
}

// PeriodCashFlow computes the cash-flow statement for one month: opening
// balance carried from all activity before the period, dated detail rows
// split into inflow/outflow columns, and the closing balance. The closing
// balance of any period equals the opening balance of the next.
func (e *Engine) PeriodCashFlow(month, year int) (*models.PeriodCashFlow, error) {
	if month < 1 || month > 12 {
		return nil, models.Validationf("bulan", "must be 1-12, got %d", month)
	}
	if year < 1 {
		return nil, models.Validationf("tahun", "must be positive, got %d", year)
	}
	periodStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.Local)

	settings, err := e.src.GetSettings()
	if err != nil {
		return nil, err
	}

	ledgerBefore, err := e.src.LedgerSumBefore(month, year)
	if err != nil {
		return nil, err
	}

	expenses, err := e.src.ListExpenses(0, 0)
	if err != nil {
		return nil, err
	}
	loans, err := e.src.ListLoans()
	if err != nil {
		return nil, err
	}

	expBefore, disbBefore := decimal.Zero, decimal.Zero
	for _, x := range expenses {
		if x.Date.Before(periodStart) {
			expBefore = expBefore.Add(x.Amount)
		}
	}
	for _, l := range loans {
		if l.DisbursedAt.Before(periodStart) {
			disbBefore = disbBefore.Add(l.Principal)
		}
	}

	// The ledger sum is already net of withdrawals (they are negative), so
	// only expenses and disbursements are subtracted here.
	opening := settings.OpeningBalance().Add(ledgerBefore).Sub(expBefore.Add(disbBefore))

	ledgerRows, err := e.src.PeriodLedgerRows(month, year)
	if err != nil {
		return nil, err
	}

	inflow, outflow := decimal.Zero, decimal.Zero
	rows := make([]models.CashFlowRow, 0, len(ledgerRows))
	for _, r := range ledgerRows {
		row := models.CashFlowRow{Date: r.Date, Label: r.Label, In: decimal.Zero, Out: decimal.Zero}
		if r.Amount.IsNegative() {
			row.Out = r.Amount.Abs()
			outflow = outflow.Add(row.Out)
		} else {
			row.In = r.Amount
			inflow = inflow.Add(row.In)
		}
		rows = append(rows, row)
	}

	for _, x := range expenses {
		if int(x.Date.Month()) != month || x.Date.Year() != year {
			continue
		}
		rows = append(rows, models.CashFlowRow{
			Date: x.Date, Label: x.Note, In: decimal.Zero, Out: x.Amount,
		})
		outflow = outflow.Add(x.Amount)
	}
	for _, l := range loans {
		if int(l.DisbursedAt.Month()) != month || l.DisbursedAt.Year() != year {
			continue
		}
		rows = append(rows, models.CashFlowRow{
			Date: l.DisbursedAt, Label: "PENCAIRAN PINJAMAN - " + l.MemberName,
			In: decimal.Zero, Out: l.Principal,
		})
		outflow = outflow.Add(l.Principal)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	return &models.PeriodCashFlow{
		Month:   month,
		Year:    year,
		Opening: opening,
		Inflow:  inflow,
		Outflow: outflow,
		Closing: opening.Add(inflow).Sub(outflow),
		Rows:    rows,
	}, nil
}

// CategoryTotals sums the ledger per category for the cash report.
func (e *Engine) CategoryTotals() (map[models.Category]decimal.Decimal, error) {
	return e.src.CategoryTotals()
}
