package schedule

import (
	"errors"
	"testing"

	"github.com/hartadi/koperasi/pkg/models"
	"github.com/shopspring/decimal"
)

func TestBuildWorkedExample(t *testing.T) {
	// 1,200,000 over 12 months at 2% per period on the remaining balance.
	principal := decimal.NewFromInt(1200000)
	rate := decimal.NewFromInt(2)

	lines, err := Build(principal, 12, rate)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(lines) != 12 {
		t.Fatalf("Expected 12 lines, got %d", len(lines))
	}

	if !lines[0].Principal.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Expected first principal 100000, got %s", lines[0].Principal)
	}
	if !lines[0].Interest.Equal(decimal.NewFromInt(24000)) {
		t.Errorf("Expected first interest 24000, got %s", lines[0].Interest)
	}
	if !lines[0].Total.Equal(decimal.NewFromInt(124000)) {
		t.Errorf("Expected first total 124000, got %s", lines[0].Total)
	}
	if !lines[1].Interest.Equal(decimal.NewFromInt(22000)) {
		t.Errorf("Expected second interest 22000, got %s", lines[1].Interest)
	}

	sum := decimal.Zero
	for i, l := range lines {
		sum = sum.Add(l.Principal)
		if i > 0 && !lines[i].Interest.LessThan(lines[i-1].Interest) {
			t.Errorf("Interest should strictly decrease: line %d has %s after %s", l.Number, l.Interest, lines[i-1].Interest)
		}
	}
	if !sum.Equal(principal) {
		t.Errorf("Expected principal portions to sum to %s, got %s", principal, sum)
	}
}

func TestBuildRemainderGoesToLastLine(t *testing.T) {
	// 1000 over 3 months: floor gives 333 per period, last line gets 334.
	lines, err := Build(decimal.NewFromInt(1000), 3, decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !lines[0].Principal.Equal(decimal.NewFromInt(333)) {
		t.Errorf("Expected principal 333 on line 1, got %s", lines[0].Principal)
	}
	if !lines[2].Principal.Equal(decimal.NewFromInt(334)) {
		t.Errorf("Expected remainder-absorbing principal 334 on line 3, got %s", lines[2].Principal)
	}

	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Principal)
	}
	if !sum.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected principal sum 1000, got %s", sum)
	}
}

func TestBuildImpliedBalanceReachesZero(t *testing.T) {
	principal := decimal.NewFromInt(777777)
	lines, err := Build(principal, 7, decimal.NewFromFloat(1.5))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	remaining := principal
	for _, l := range lines {
		remaining = remaining.Sub(l.Principal)
		if remaining.IsNegative() {
			t.Fatalf("Implied balance went negative (%s) at line %d", remaining, l.Number)
		}
		if !l.Total.Equal(l.Principal.Add(l.Interest)) {
			t.Errorf("Line %d total %s != principal %s + interest %s", l.Number, l.Total, l.Principal, l.Interest)
		}
	}
	if !remaining.IsZero() {
		t.Errorf("Expected implied balance 0 after last line, got %s", remaining)
	}
}

func TestBuildZeroRate(t *testing.T) {
	lines, err := Build(decimal.NewFromInt(600), 6, decimal.Zero)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, l := range lines {
		if !l.Interest.IsZero() {
			t.Errorf("Expected zero interest on line %d, got %s", l.Number, l.Interest)
		}
		if !l.Total.Equal(l.Principal) {
			t.Errorf("Expected total == principal on line %d", l.Number)
		}
	}
}

func TestBuildSingleInstallment(t *testing.T) {
	lines, err := Build(decimal.NewFromInt(50000), 1, decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if !lines[0].Principal.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("Expected principal 50000, got %s", lines[0].Principal)
	}
	if !lines[0].Interest.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected interest 1000, got %s", lines[0].Interest)
	}
}

func TestBuildRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name      string
		principal decimal.Decimal
		term      int
		rate      decimal.Decimal
	}{
		{"zero term", decimal.NewFromInt(1000), 0, decimal.NewFromInt(2)},
		{"negative term", decimal.NewFromInt(1000), -3, decimal.NewFromInt(2)},
		{"negative principal", decimal.NewFromInt(-1), 3, decimal.NewFromInt(2)},
		{"negative rate", decimal.NewFromInt(1000), 3, decimal.NewFromInt(-2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.principal, tc.term, tc.rate)
			if err == nil {
				t.Fatal("Expected an error")
			}
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}
