package models

import "github.com/shopspring/decimal"

// Well-known configuration keys. These four always hold numeric values; any
// other key is opaque text (display name, logo path, and so on).
const (
	SettingMandatoryDue    = "iuran_wajib"
	SettingRegistrationFee = "biaya_pendaftaran"
	SettingLoanAdminFee    = "biaya_admin_pinjaman"
	SettingOpeningBalance  = "saldo_awal"
)

// NumericSettingKey reports whether a configuration key is one of the
// financial parameters that must parse as a number.
func NumericSettingKey(key string) bool {
	switch key {
	case SettingMandatoryDue, SettingRegistrationFee, SettingLoanAdminFee, SettingOpeningBalance:
		return true
	}
	return false
}

// Settings is a point-in-time snapshot of the configuration store. Write
// paths read one snapshot at operation start and never re-read mid-flight,
// so a concurrent update cannot split a single operation across two
// parameter sets.
type Settings struct {
	Numbers map[string]decimal.Decimal
	Texts   map[string]string
}

// Number returns the numeric parameter for key, or zero when absent.
func (s Settings) Number(key string) decimal.Decimal {
	if v, ok := s.Numbers[key]; ok {
		return v
	}
	return decimal.Zero
}

func (s Settings) MandatoryDue() decimal.Decimal    { return s.Number(SettingMandatoryDue) }
func (s Settings) RegistrationFee() decimal.Decimal { return s.Number(SettingRegistrationFee) }
func (s Settings) LoanAdminFee() decimal.Decimal    { return s.Number(SettingLoanAdminFee) }
func (s Settings) OpeningBalance() decimal.Decimal  { return s.Number(SettingOpeningBalance) }
