package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hartadi/koperasi/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
// Money columns are INTEGER whole rupiah; only the interest rate is stored
// as TEXT because it may carry a fraction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	// SQLite allows a single writer; one pooled connection serializes the
	// transactional write paths instead of surfacing SQLITE_BUSY to
	// concurrent request handlers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logrus.WithField("dsn", dataSourceName).Info("database connection established and schema initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS pengaturan (
		nama_key TEXT PRIMARY KEY,
		nilai_nominal TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS anggota (
		id_anggota INTEGER PRIMARY KEY AUTOINCREMENT,
		no_anggota TEXT NOT NULL UNIQUE,
		nama_lengkap TEXT NOT NULL,
		tgl_bergabung DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS member_counters (
		prefix TEXT PRIMARY KEY,
		seq INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transaksi (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		id_anggota INTEGER NOT NULL,
		jenis_iuran TEXT NOT NULL,
		jumlah_bayar INTEGER NOT NULL,
		bulan_iuran INTEGER,
		tahun_iuran INTEGER,
		keterangan TEXT NOT NULL DEFAULT '',
		status_verifikasi INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(id_anggota) REFERENCES anggota(id_anggota)
	);
	CREATE TABLE IF NOT EXISTS pinjaman (
		id TEXT PRIMARY KEY,
		id_anggota INTEGER NOT NULL,
		nominal_pokok INTEGER NOT NULL,
		tenor INTEGER NOT NULL,
		bunga_persen TEXT NOT NULL,
		biaya_admin INTEGER NOT NULL,
		status TEXT NOT NULL,
		tanggal_pinjam DATETIME NOT NULL,
		FOREIGN KEY(id_anggota) REFERENCES anggota(id_anggota)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pinjaman_aktif
		ON pinjaman(id_anggota) WHERE status != 'lunas';
	CREATE TABLE IF NOT EXISTS jadwal_angsuran (
		id_jadwal INTEGER PRIMARY KEY AUTOINCREMENT,
		id_pinjaman TEXT NOT NULL,
		angsuran_ke INTEGER NOT NULL,
		pokok_rp INTEGER NOT NULL,
		bunga_rp INTEGER NOT NULL,
		total_rp INTEGER NOT NULL,
		status TEXT NOT NULL,
		tgl_bayar DATETIME,
		FOREIGN KEY(id_pinjaman) REFERENCES pinjaman(id),
		UNIQUE(id_pinjaman, angsuran_ke)
	);
	CREATE TABLE IF NOT EXISTS pengeluaran (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tanggal DATETIME NOT NULL,
		kategori TEXT NOT NULL,
		keterangan TEXT NOT NULL DEFAULT '',
		nominal INTEGER NOT NULL,
		admin_input TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO pengaturan (nama_key, nilai_nominal) VALUES
		('iuran_wajib', '20000'),
		('biaya_pendaftaran', '100000'),
		('biaya_admin_pinjaman', '10000'),
		('saldo_awal', '0');
	`
	_, err := s.db.Exec(schema)
	return err
}

// rupiah converts a decimal amount to the whole-rupiah integer stored in the
// database. Amounts are validated integral before they reach the store.
func rupiah(d decimal.Decimal) int64 {
	return d.IntPart()
}

func isActiveLoanConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: pinjaman.id_anggota")
}

// --- Configuration ---

// GetSettings reads the whole pengaturan table into one snapshot. Known
// financial keys parse to numbers (zero on garbage); everything else stays
// text.
func (s *SQLiteStore) GetSettings() (models.Settings, error) {
	settings := models.Settings{
		Numbers: make(map[string]decimal.Decimal),
		Texts:   make(map[string]string),
	}

	rows, err := s.db.Query(`SELECT nama_key, nilai_nominal FROM pengaturan`)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, fmt.Errorf("failed to scan setting row: %w", err)
		}
		if models.NumericSettingKey(key) {
			n, err := decimal.NewFromString(value)
			if err != nil {
				n = decimal.Zero
			}
			settings.Numbers[key] = n
		} else {
			settings.Texts[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return settings, fmt.Errorf("error during settings iteration: %w", err)
	}
	return settings, nil
}

// UpsertSetting overwrites a configuration parameter; keys are never deleted.
func (s *SQLiteStore) UpsertSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO pengaturan (nama_key, nilai_nominal) VALUES (?, ?)
		 ON CONFLICT(nama_key) DO UPDATE SET nilai_nominal = excluded.nilai_nominal`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}

// --- Members ---

// RegisterMember inserts the member and their enrollment ledger entries in
// one transaction. The member number is the join-date MMYY prefix plus a
// sequence drawn from member_counters, bumped inside the same transaction so
// concurrent registrations cannot collide.
func (s *SQLiteStore) RegisterMember(m *models.Member, entries []*models.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prefix := fmt.Sprintf("%02d%02d", int(m.JoinDate.Month()), m.JoinDate.Year()%100)
	if _, err := tx.Exec(
		`INSERT INTO member_counters (prefix, seq) VALUES (?, 1)
		 ON CONFLICT(prefix) DO UPDATE SET seq = seq + 1`, prefix,
	); err != nil {
		return fmt.Errorf("failed to bump member counter: %w", err)
	}
	var seq int
	if err := tx.QueryRow(`SELECT seq FROM member_counters WHERE prefix = ?`, prefix).Scan(&seq); err != nil {
		return fmt.Errorf("failed to read member counter: %w", err)
	}
	m.Number = fmt.Sprintf("%s%03d", prefix, seq)

	res, err := tx.Exec(
		`INSERT INTO anggota (no_anggota, nama_lengkap, tgl_bergabung, created_at) VALUES (?, ?, ?, ?)`,
		m.Number, m.Name, m.JoinDate, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read member id: %w", err)
	}
	m.ID = id

	for _, e := range entries {
		e.MemberID = id
		if err := insertEntry(tx, e); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetMember retrieves a member by id.
func (s *SQLiteStore) GetMember(id int64) (*models.Member, error) {
	var m models.Member
	row := s.db.QueryRow(
		`SELECT id_anggota, no_anggota, nama_lengkap, tgl_bergabung, created_at FROM anggota WHERE id_anggota = ?`, id)
	if err := row.Scan(&m.ID, &m.Number, &m.Name, &m.JoinDate, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// ListMembers returns all members newest-first with their savings aggregates
// and active-loan flag.
func (s *SQLiteStore) ListMembers() ([]*models.MemberSummary, error) {
	rows, err := s.db.Query(`
		SELECT a.id_anggota, a.no_anggota, a.nama_lengkap, a.tgl_bergabung, a.created_at,
			COALESCE((SELECT SUM(t.jumlah_bayar) FROM transaksi t
				WHERE t.id_anggota = a.id_anggota
				AND t.jenis_iuran IN ('wajib', 'sukarela', 'tarik_simpanan')), 0),
			COALESCE((SELECT SUM(t.jumlah_bayar) FROM transaksi t
				WHERE t.id_anggota = a.id_anggota AND t.jenis_iuran = 'wajib'), 0),
			(SELECT COUNT(*) FROM transaksi t
				WHERE t.id_anggota = a.id_anggota AND t.jenis_iuran = 'wajib'),
			EXISTS(SELECT 1 FROM pinjaman p
				WHERE p.id_anggota = a.id_anggota AND p.status != 'lunas')
		FROM anggota a
		ORDER BY a.id_anggota DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.MemberSummary
	for rows.Next() {
		var m models.MemberSummary
		var net, mandatory int64
		if err := rows.Scan(&m.ID, &m.Number, &m.Name, &m.JoinDate, &m.CreatedAt,
			&net, &mandatory, &m.MandatoryCount, &m.HasActiveLoan); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		m.NetSavings = decimal.NewFromInt(net)
		m.MandatoryTotal = decimal.NewFromInt(mandatory)
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during member iteration: %w", err)
	}
	return members, nil
}

// --- Ledger ---

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertEntry(e execer, entry *models.LedgerEntry) error {
	var month, year any
	if entry.Month != 0 {
		month, year = entry.Month, entry.Year
	}
	res, err := e.Exec(
		`INSERT INTO transaksi (id_anggota, jenis_iuran, jumlah_bayar, bulan_iuran, tahun_iuran, keterangan, status_verifikasi, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.MemberID, string(entry.Category), rupiah(entry.Amount), month, year,
		entry.Note, entry.Verified, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ledger entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// AddEntries appends ledger entries in one transaction.
func (s *SQLiteStore) AddEntries(entries []*models.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := insertEntry(tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EntriesForMember returns a member's full ledger history, newest first.
func (s *SQLiteStore) EntriesForMember(memberID int64) ([]*models.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, id_anggota, jenis_iuran, jumlah_bayar, bulan_iuran, tahun_iuran, keterangan, status_verifikasi, created_at
		 FROM transaksi WHERE id_anggota = ? ORDER BY created_at DESC, id DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries for member %d: %w", memberID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var amount int64
		var month, year sql.NullInt64
		var category string
		if err := rows.Scan(&e.ID, &e.MemberID, &category, &amount, &month, &year,
			&e.Note, &e.Verified, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry row: %w", err)
		}
		e.Category = models.Category(category)
		e.Amount = decimal.NewFromInt(amount)
		e.Month = int(month.Int64)
		e.Year = int(year.Int64)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during ledger iteration: %w", err)
	}
	return entries, nil
}

// NetSavings is the signed sum over the savings categories; withdrawals are
// stored negative so no sign handling is needed here.
func (s *SQLiteStore) NetSavings(memberID int64) (decimal.Decimal, error) {
	var total int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(jumlah_bayar), 0) FROM transaksi
		 WHERE id_anggota = ? AND jenis_iuran IN ('wajib', 'sukarela', 'tarik_simpanan')`,
		memberID,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum savings for member %d: %w", memberID, err)
	}
	return decimal.NewFromInt(total), nil
}

// MandatoryDueCount counts a member's wajib entries; callers use it to
// compute arrears.
func (s *SQLiteStore) MandatoryDueCount(memberID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM transaksi WHERE id_anggota = ? AND jenis_iuran = 'wajib'`, memberID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count dues for member %d: %w", memberID, err)
	}
	return n, nil
}

// CategoryTotals sums the ledger per category across all members.
func (s *SQLiteStore) CategoryTotals() (map[models.Category]decimal.Decimal, error) {
	rows, err := s.db.Query(
		`SELECT jenis_iuran, COALESCE(SUM(jumlah_bayar), 0) FROM transaksi GROUP BY jenis_iuran`)
	if err != nil {
		return nil, fmt.Errorf("failed to sum categories: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.Category]decimal.Decimal)
	for rows.Next() {
		var category string
		var total int64
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		totals[models.Category(category)] = decimal.NewFromInt(total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during category iteration: %w", err)
	}
	return totals, nil
}

// --- Loans ---

// DisburseLoan performs the loan issuance as one atomic unit: active-loan
// guard, loan insert, schedule bulk insert, admin-fee ledger entry. The
// partial unique index idx_pinjaman_aktif backs the guard so two concurrent
// calls cannot both slip past the check.
func (s *SQLiteStore) DisburseLoan(loan *models.Loan, lines []*models.InstallmentLine, fee *models.LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM pinjaman WHERE id_anggota = ? AND status != 'lunas'`, loan.MemberID,
	).Scan(&active); err != nil {
		return fmt.Errorf("failed to check active loans: %w", err)
	}
	if active > 0 {
		return models.ErrLoanActive
	}

	if _, err := tx.Exec(
		`INSERT INTO pinjaman (id, id_anggota, nominal_pokok, tenor, bunga_persen, biaya_admin, status, tanggal_pinjam)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.MemberID, rupiah(loan.Principal), loan.TermMonths,
		loan.RatePercent.String(), rupiah(loan.AdminFee), string(loan.Status), loan.DisbursedAt,
	); err != nil {
		if isActiveLoanConflict(err) {
			return models.ErrLoanActive
		}
		return fmt.Errorf("failed to create loan: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO jadwal_angsuran (id_pinjaman, angsuran_ke, pokok_rp, bunga_rp, total_rp, status)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare schedule insert: %w", err)
	}
	defer stmt.Close()

	for _, line := range lines {
		res, err := stmt.Exec(loan.ID.String(), line.Number, rupiah(line.Principal),
			rupiah(line.Interest), rupiah(line.Total), string(line.Status))
		if err != nil {
			return fmt.Errorf("failed to insert schedule line %d: %w", line.Number, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read schedule line id: %w", err)
		}
		line.ID = id
		line.LoanID = loan.ID
	}

	if err := insertEntry(tx, fee); err != nil {
		return err
	}

	return tx.Commit()
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(
		`SELECT id, id_anggota, nominal_pokok, tenor, bunga_persen, biaya_admin, status, tanggal_pinjam
		 FROM pinjaman WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, rate, status string
	var principal, adminFee int64
	if err := row.Scan(&idStr, &loan.MemberID, &principal, &loan.TermMonths,
		&rate, &adminFee, &status, &loan.DisbursedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("malformed loan id %q: %w", idStr, err)
	}
	loan.ID = id
	loan.Principal = decimal.NewFromInt(principal)
	loan.AdminFee = decimal.NewFromInt(adminFee)
	loan.RatePercent, err = decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("malformed loan rate %q: %w", rate, err)
	}
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

// ListLoans returns every loan joined with its member, newest first.
func (s *SQLiteStore) ListLoans() ([]*models.LoanInfo, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.id_anggota, p.nominal_pokok, p.tenor, p.bunga_persen, p.biaya_admin, p.status, p.tanggal_pinjam,
			a.nama_lengkap, a.no_anggota
		 FROM pinjaman p JOIN anggota a ON p.id_anggota = a.id_anggota
		 ORDER BY p.tanggal_pinjam DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.LoanInfo
	for rows.Next() {
		var info models.LoanInfo
		var idStr, rate, status string
		var principal, adminFee int64
		if err := rows.Scan(&idStr, &info.MemberID, &principal, &info.TermMonths,
			&rate, &adminFee, &status, &info.DisbursedAt, &info.MemberName, &info.MemberNumber); err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("malformed loan id %q: %w", idStr, err)
		}
		info.ID = id
		info.Principal = decimal.NewFromInt(principal)
		info.AdminFee = decimal.NewFromInt(adminFee)
		info.RatePercent, err = decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("malformed loan rate %q: %w", rate, err)
		}
		info.Status = models.LoanStatus(status)
		loans = append(loans, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during loan iteration: %w", err)
	}
	return loans, nil
}

// LoansForMember returns a member's loans with repayment progress.
func (s *SQLiteStore) LoansForMember(memberID int64) ([]*models.LoanProgress, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.id_anggota, p.nominal_pokok, p.tenor, p.bunga_persen, p.biaya_admin, p.status, p.tanggal_pinjam,
			(SELECT COUNT(*) FROM jadwal_angsuran j WHERE j.id_pinjaman = p.id AND j.status = 'lunas'),
			COALESCE((SELECT SUM(j.pokok_rp) FROM jadwal_angsuran j WHERE j.id_pinjaman = p.id AND j.status = 'lunas'), 0)
		 FROM pinjaman p WHERE p.id_anggota = ?
		 ORDER BY p.tanggal_pinjam DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for member %d: %w", memberID, err)
	}
	defer rows.Close()

	var loans []*models.LoanProgress
	for rows.Next() {
		var lp models.LoanProgress
		var idStr, rate, status string
		var principal, adminFee, paid int64
		if err := rows.Scan(&idStr, &lp.MemberID, &principal, &lp.TermMonths,
			&rate, &adminFee, &status, &lp.DisbursedAt, &lp.PaidCount, &paid); err != nil {
			return nil, fmt.Errorf("failed to scan loan progress row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("malformed loan id %q: %w", idStr, err)
		}
		lp.ID = id
		lp.Principal = decimal.NewFromInt(principal)
		lp.AdminFee = decimal.NewFromInt(adminFee)
		lp.RatePercent, err = decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("malformed loan rate %q: %w", rate, err)
		}
		lp.Status = models.LoanStatus(status)
		lp.PrincipalPaid = decimal.NewFromInt(paid)
		lp.PrincipalOutstanding = lp.Principal.Sub(lp.PrincipalPaid)
		loans = append(loans, &lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during loan progress iteration: %w", err)
	}
	return loans, nil
}

// ScheduleForLoan returns a loan's schedule in installment order.
func (s *SQLiteStore) ScheduleForLoan(loanID uuid.UUID) ([]*models.InstallmentLine, error) {
	rows, err := s.db.Query(
		`SELECT id_jadwal, id_pinjaman, angsuran_ke, pokok_rp, bunga_rp, total_rp, status, tgl_bayar
		 FROM jadwal_angsuran WHERE id_pinjaman = ? ORDER BY angsuran_ke ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var lines []*models.InstallmentLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during schedule iteration: %w", err)
	}
	return lines, nil
}

func scanLine(row rowScanner) (*models.InstallmentLine, error) {
	var line models.InstallmentLine
	var loanIDStr, status string
	var principal, interest, total int64
	var paidAt sql.NullTime
	if err := row.Scan(&line.ID, &loanIDStr, &line.Number, &principal, &interest,
		&total, &status, &paidAt); err != nil {
		return nil, fmt.Errorf("failed to scan schedule line: %w", err)
	}
	loanID, err := uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("malformed loan id %q: %w", loanIDStr, err)
	}
	line.LoanID = loanID
	line.Principal = decimal.NewFromInt(principal)
	line.Interest = decimal.NewFromInt(interest)
	line.Total = decimal.NewFromInt(total)
	line.Status = models.LineStatus(status)
	if paidAt.Valid {
		line.PaidAt = &paidAt.Time
	}
	return &line, nil
}

// SettleInstallment marks a schedule line paid and posts exactly two ledger
// entries (principal, interest) dated to the payment period, all in one
// transaction. Settling the loan's last unpaid line flips the loan to lunas.
func (s *SQLiteStore) SettleInstallment(lineID int64, paidAt time.Time) (*models.InstallmentLine, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var memberID int64
	row := tx.QueryRow(
		`SELECT j.id_jadwal, j.id_pinjaman, j.angsuran_ke, j.pokok_rp, j.bunga_rp, j.total_rp, j.status, j.tgl_bayar, p.id_anggota
		 FROM jadwal_angsuran j JOIN pinjaman p ON j.id_pinjaman = p.id
		 WHERE j.id_jadwal = ?`, lineID)

	var line models.InstallmentLine
	var loanIDStr, status string
	var principal, interest, total int64
	var prevPaid sql.NullTime
	if err := row.Scan(&line.ID, &loanIDStr, &line.Number, &principal, &interest,
		&total, &status, &prevPaid, &memberID); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule line %d: %w", lineID, err)
	}
	if models.LineStatus(status) == models.LineStatusPaid {
		return nil, models.ErrAlreadyPaid
	}
	loanID, err := uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("malformed loan id %q: %w", loanIDStr, err)
	}
	line.LoanID = loanID
	line.Principal = decimal.NewFromInt(principal)
	line.Interest = decimal.NewFromInt(interest)
	line.Total = decimal.NewFromInt(total)

	if _, err := tx.Exec(
		`UPDATE jadwal_angsuran SET status = 'lunas', tgl_bayar = ? WHERE id_jadwal = ?`,
		paidAt, lineID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark schedule line paid: %w", err)
	}
	line.Status = models.LineStatusPaid
	line.PaidAt = &paidAt

	entries := []*models.LedgerEntry{
		{
			MemberID: memberID,
			Category: models.CategoryPrincipal,
			Amount:   line.Principal,
			Note:     fmt.Sprintf("Angsuran pokok ke-%d", line.Number),
		},
		{
			MemberID: memberID,
			Category: models.CategoryInterest,
			Amount:   line.Interest,
			Note:     fmt.Sprintf("Bunga angsuran ke-%d", line.Number),
		},
	}
	for _, e := range entries {
		e.Month = int(paidAt.Month())
		e.Year = paidAt.Year()
		e.Verified = true
		e.CreatedAt = paidAt
		if err := insertEntry(tx, e); err != nil {
			return nil, err
		}
	}

	var unpaid int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM jadwal_angsuran WHERE id_pinjaman = ? AND status != 'lunas'`,
		loanIDStr,
	).Scan(&unpaid); err != nil {
		return nil, fmt.Errorf("failed to count unpaid lines: %w", err)
	}
	if unpaid == 0 {
		if _, err := tx.Exec(
			`UPDATE pinjaman SET status = 'lunas' WHERE id = ?`, loanIDStr,
		); err != nil {
			return nil, fmt.Errorf("failed to settle loan: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit installment payment: %w", err)
	}
	return &line, nil
}

// --- Expense book ---

// AddExpense appends one operating expense row.
func (s *SQLiteStore) AddExpense(e *models.Expense) error {
	res, err := s.db.Exec(
		`INSERT INTO pengeluaran (tanggal, kategori, keterangan, nominal, admin_input)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Date, e.Category, e.Note, rupiah(e.Amount), e.EnteredBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read expense id: %w", err)
	}
	e.ID = id
	return nil
}

// ListExpenses returns expenses newest-first, optionally filtered by month
// and/or year (zero means no filter).
func (s *SQLiteStore) ListExpenses(month, year int) ([]*models.Expense, error) {
	rows, err := s.db.Query(
		`SELECT id, tanggal, kategori, keterangan, nominal, admin_input
		 FROM pengeluaran ORDER BY tanggal DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		var e models.Expense
		var amount int64
		if err := rows.Scan(&e.ID, &e.Date, &e.Category, &e.Note, &amount, &e.EnteredBy); err != nil {
			return nil, fmt.Errorf("failed to scan expense row: %w", err)
		}
		if month != 0 && int(e.Date.Month()) != month {
			continue
		}
		if year != 0 && e.Date.Year() != year {
			continue
		}
		e.Amount = decimal.NewFromInt(amount)
		expenses = append(expenses, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during expense iteration: %w", err)
	}
	return expenses, nil
}

// --- Reporting aggregates ---

// SignedLedgerTotals returns the sum of all positive entries and the
// absolute sum of all negative ones, across every category.
func (s *SQLiteStore) SignedLedgerTotals() (decimal.Decimal, decimal.Decimal, error) {
	var inflow, withdrawals int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN jumlah_bayar > 0 THEN jumlah_bayar ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN jumlah_bayar < 0 THEN -jumlah_bayar ELSE 0 END), 0)
		 FROM transaksi`,
	).Scan(&inflow, &withdrawals)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum ledger totals: %w", err)
	}
	return decimal.NewFromInt(inflow), decimal.NewFromInt(withdrawals), nil
}

// LedgerSumBefore is the signed ledger sum over every period strictly before
// (month, year).
func (s *SQLiteStore) LedgerSumBefore(month, year int) (decimal.Decimal, error) {
	var total int64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(jumlah_bayar), 0) FROM transaksi
		 WHERE (tahun_iuran < ?) OR (tahun_iuran = ? AND bulan_iuran < ?)`,
		year, year, month,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger before %d/%d: %w", month, year, err)
	}
	return decimal.NewFromInt(total), nil
}

// PeriodLedgerRows returns the period's ledger entries labeled with category
// and member name, amounts still signed, ordered by posting time.
func (s *SQLiteStore) PeriodLedgerRows(month, year int) ([]*models.PeriodEntry, error) {
	rows, err := s.db.Query(
		`SELECT t.created_at, UPPER(t.jenis_iuran) || ' - ' || a.nama_lengkap, t.jumlah_bayar
		 FROM transaksi t JOIN anggota a ON t.id_anggota = a.id_anggota
		 WHERE t.bulan_iuran = ? AND t.tahun_iuran = ?
		 ORDER BY t.created_at ASC, t.id ASC`, month, year)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger rows for %d/%d: %w", month, year, err)
	}
	defer rows.Close()

	var entries []*models.PeriodEntry
	for rows.Next() {
		var e models.PeriodEntry
		var amount int64
		if err := rows.Scan(&e.Date, &e.Label, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan period row: %w", err)
		}
		e.Amount = decimal.NewFromInt(amount)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during period iteration: %w", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
