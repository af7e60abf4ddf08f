// Package schedule builds declining-balance repayment schedules for new
// loans. All arithmetic is exact decimal with floor truncation; no floats.
package schedule

import (
	"github.com/hartadi/koperasi/pkg/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is one installment of a repayment schedule before it is persisted.
type Line struct {
	Number    int
	Principal decimal.Decimal
	Interest  decimal.Decimal
	Total     decimal.Decimal
}

// Build computes a declining-balance schedule: the principal is split evenly
// with floor(principal/term) per installment, interest each period is
// floor(remaining * rate / 100), and the final installment's principal
// absorbs the rounding remainder so the line principals sum to exactly the
// loan principal.
func Build(principal decimal.Decimal, termMonths int, ratePercent decimal.Decimal) ([]Line, error) {
	if termMonths < 1 {
		return nil, models.Validationf("tenor", "must be at least 1 month, got %d", termMonths)
	}
	if principal.IsNegative() {
		return nil, models.Validationf("nominal_pokok", "must not be negative, got %s", principal)
	}
	if ratePercent.IsNegative() {
		return nil, models.Validationf("bunga_persen", "must not be negative, got %s", ratePercent)
	}

	principal = principal.Floor()
	perPeriod := principal.Div(decimal.NewFromInt(int64(termMonths))).Floor()
	remaining := principal

	lines := make([]Line, 0, termMonths)
	for i := 1; i <= termMonths; i++ {
		interest := remaining.Mul(ratePercent).Div(hundred).Floor()
		p := perPeriod
		if i == termMonths {
			p = remaining // absorb the floor remainder on the last line
		}
		lines = append(lines, Line{
			Number:    i,
			Principal: p,
			Interest:  interest,
			Total:     p.Add(interest),
		})
		remaining = remaining.Sub(p)
	}
	return lines, nil
}
