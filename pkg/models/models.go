package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category tags a ledger entry with the kind of money movement it records.
type Category string

const (
	CategoryRegistration Category = "pendaftaran"      // one-time registration fee
	CategoryMandatory    Category = "wajib"            // mandatory monthly due
	CategoryVoluntary    Category = "sukarela"         // voluntary saving
	CategoryWithdrawal   Category = "tarik_simpanan"   // savings withdrawal, stored negative
	CategoryLoanAdminFee Category = "admin_pinjaman"   // loan administration fee
	CategoryPrincipal    Category = "angsuran_pokok"   // installment principal repayment
	CategoryInterest     Category = "pendapatan_bunga" // installment interest income
)

// SavingsCategories are the categories that count toward a member's net
// savings. Registration fees are excluded: a one-time cost, not savings.
var SavingsCategories = []Category{CategoryMandatory, CategoryVoluntary, CategoryWithdrawal}

// DueCategories are the categories callers may post directly. The loan
// categories are only ever written by the loan lifecycle itself.
var DueCategories = []Category{CategoryMandatory, CategoryVoluntary, CategoryWithdrawal}

type Member struct {
	ID        int64     `json:"id_anggota"`
	Number    string    `json:"no_anggota"` // MMYY prefix + 3-digit sequence
	Name      string    `json:"nama_lengkap"`
	JoinDate  time.Time `json:"tgl_bergabung"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberSummary is a member row decorated with the ledger aggregates the
// member list screen needs.
type MemberSummary struct {
	Member
	NetSavings     decimal.Decimal `json:"total_simpanan"`
	MandatoryTotal decimal.Decimal `json:"total_simpanan_wajib"`
	MandatoryCount int             `json:"total_lunas_wajib"`
	HasActiveLoan  bool            `json:"pinjaman_aktif"`
}

// LedgerEntry is an immutable signed financial record. Positive amounts are
// inflows to cooperative cash; withdrawals are stored negative so a plain SUM
// over the savings categories yields the correct net balance.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	MemberID  int64           `json:"id_anggota"`
	Category  Category        `json:"jenis_iuran"`
	Amount    decimal.Decimal `json:"jumlah_bayar"`
	Month     int             `json:"bulan_iuran,omitempty"` // 0 when not tied to a due period
	Year      int             `json:"tahun_iuran,omitempty"`
	Note      string          `json:"keterangan"`
	Verified  bool            `json:"status_verifikasi"`
	CreatedAt time.Time       `json:"created_at"`
}

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusPaid   LoanStatus = "lunas"
)

type Loan struct {
	ID          uuid.UUID       `json:"id"`
	MemberID    int64           `json:"id_anggota"`
	Principal   decimal.Decimal `json:"nominal_pokok"`
	TermMonths  int             `json:"tenor"`
	RatePercent decimal.Decimal `json:"bunga_persen"` // per period, declining balance
	AdminFee    decimal.Decimal `json:"biaya_admin"`
	Status      LoanStatus      `json:"status"`
	DisbursedAt time.Time       `json:"tanggal_pinjam"`
}

// LoanInfo is a loan joined with its member's identity for listings and
// cash-flow reporting.
type LoanInfo struct {
	Loan
	MemberName   string `json:"nama_lengkap"`
	MemberNumber string `json:"no_anggota"`
}

// LoanProgress is a loan decorated with repayment progress derived from its
// schedule lines.
type LoanProgress struct {
	Loan
	PaidCount            int             `json:"angsuran_masuk"`
	PrincipalPaid        decimal.Decimal `json:"total_pokok_terbayar"`
	PrincipalOutstanding decimal.Decimal `json:"sisa_utang"`
}

type LineStatus string

const (
	LineStatusUnpaid LineStatus = "belum_bayar"
	LineStatusPaid   LineStatus = "lunas"
)

// InstallmentLine is one period of a loan's repayment schedule. The monetary
// split is fixed at disbursement time; only Status and PaidAt ever change.
type InstallmentLine struct {
	ID        int64           `json:"id_jadwal"`
	LoanID    uuid.UUID       `json:"id_pinjaman"`
	Number    int             `json:"angsuran_ke"`
	Principal decimal.Decimal `json:"pokok_rp"`
	Interest  decimal.Decimal `json:"bunga_rp"`
	Total     decimal.Decimal `json:"total_rp"`
	Status    LineStatus      `json:"status"`
	PaidAt    *time.Time      `json:"tgl_bayar,omitempty"`
}

// Expense is one row of the operating expense book (buku kas umum).
type Expense struct {
	ID        int64           `json:"id"`
	Date      time.Time       `json:"tanggal"`
	Category  string          `json:"kategori"`
	Note      string          `json:"keterangan"`
	Amount    decimal.Decimal `json:"nominal"`
	EnteredBy string          `json:"admin_input"`
}

// PeriodEntry is one ledger row shaped for the period cash-flow report:
// labeled, dated, amount still signed.
type PeriodEntry struct {
	Date   time.Time
	Label  string
	Amount decimal.Decimal
}

// CashFlowRow is one line of a period cash-flow statement, split into inflow
// and outflow columns.
type CashFlowRow struct {
	Date  time.Time       `json:"tanggal"`
	Label string          `json:"ket"`
	In    decimal.Decimal `json:"masuk"`
	Out   decimal.Decimal `json:"keluar"`
}

// PeriodCashFlow is a period-scoped cash-flow statement with opening/closing
// reconciliation. Closing = Opening + Inflow - Outflow.
type PeriodCashFlow struct {
	Month   int             `json:"bulan"`
	Year    int             `json:"tahun"`
	Opening decimal.Decimal `json:"saldo_awal"`
	Inflow  decimal.Decimal `json:"pemasukan"`
	Outflow decimal.Decimal `json:"pengeluaran"`
	Closing decimal.Decimal `json:"saldo_akhir"`
	Rows    []CashFlowRow   `json:"list_transaksi"`
}

// DashboardSummary is the all-time cash position of the cooperative.
type DashboardSummary struct {
	OpeningBalance         decimal.Decimal `json:"saldo_awal"`
	TotalInflow            decimal.Decimal `json:"total_pemasukan"`
	TotalOperatingExpenses decimal.Decimal `json:"total_pengeluaran_ops"`
	TotalLoanDisbursed     decimal.Decimal `json:"total_pinjaman_cair"`
	TotalWithdrawals       decimal.Decimal `json:"total_tarik_simpanan"`
	TotalOutflow           decimal.Decimal `json:"total_pengeluaran_kumulatif"`
	ClosingBalance         decimal.Decimal `json:"saldo_akhir_kas"`
}
