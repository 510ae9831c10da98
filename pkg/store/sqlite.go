package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hqnguyen/loanbook/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// maxBatchOps mirrors the per-batch operation limit of the hosted document
// stores this schema is modeled after.
const maxBatchOps = 500

// SQLiteStore implements Storage on SQLite. Each Apply runs inside one SQL
// transaction, which is the atomic batch primitive the ledger relies on.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dataSourceName.
// Decimal fields are stored as TEXT so no precision is lost.
func NewSQLiteStore(dataSourceName string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info("database connection established and schema initialized",
		zap.String("dsn", dataSourceName))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0'
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		from_account_id TEXT NOT NULL,
		from_account_name TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		remaining_balance TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payment_schedule (
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payment_date DATETIME NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		total_payment TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		interest_rate_snapshot TEXT,
		remaining_balance TEXT,
		PRIMARY KEY (loan_id, seq),
		FOREIGN KEY (loan_id) REFERENCES loans(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// MaxBatchOps reports the operation limit per atomic batch.
func (s *SQLiteStore) MaxBatchOps() int { return maxBatchOps }

// Apply executes every op inside one transaction. On any failure the whole
// batch rolls back and the error reports the offending op.
func (s *SQLiteStore) Apply(ops []Op) error {
	if len(ops) > maxBatchOps {
		return fmt.Errorf("batch of %d ops exceeds limit of %d", len(ops), maxBatchOps)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if err := s.applyOp(tx, op); err != nil {
			return fmt.Errorf("batch op %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) applyOp(tx *sql.Tx, op Op) error {
	switch op.Kind {
	case OpPutLoan:
		// ON CONFLICT rather than REPLACE: replacing deletes the row first,
		// which would trip the schedule rows' foreign key.
		l := op.Loan
		_, err := tx.Exec(
			`INSERT INTO loans (id, name, from_account_id, from_account_name, total_amount, interest_rate, term_months, start_date, remaining_balance, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				from_account_id = excluded.from_account_id,
				from_account_name = excluded.from_account_name,
				total_amount = excluded.total_amount,
				interest_rate = excluded.interest_rate,
				term_months = excluded.term_months,
				start_date = excluded.start_date,
				remaining_balance = excluded.remaining_balance,
				updated_at = excluded.updated_at`,
			l.ID.String(), l.Name, l.FromAccountID.String(), l.FromAccountName, l.TotalAmount, l.InterestRate,
			l.TermMonths, l.StartDate, l.RemainingBalance, l.CreatedAt, l.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert loan: %w", err)
		}
		return nil

	case OpDeleteLoan:
		result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, op.LoanID.String())
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return requireRows(result, "loan")

	case OpPutEntry:
		e := op.Entry
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO payment_schedule (loan_id, seq, payment_date, principal, interest, total_payment, is_paid, interest_rate_snapshot, remaining_balance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.LoanID.String(), e.Seq, e.PaymentDate, e.Principal, e.Interest, e.TotalPayment,
			e.IsPaid, e.InterestRateSnapshot, e.RemainingBalance,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert schedule entry: %w", err)
		}
		return nil

	case OpDeleteEntry:
		result, err := tx.Exec(`DELETE FROM payment_schedule WHERE loan_id = ? AND seq = ?`,
			op.LoanID.String(), op.Seq)
		if err != nil {
			return fmt.Errorf("failed to delete schedule entry: %w", err)
		}
		return requireRows(result, "schedule entry")

	case OpPutAccount:
		a := op.Account
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO accounts (id, name, type, balance) VALUES (?, ?, ?, ?)`,
			a.ID.String(), a.Name, a.Type, a.Balance,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert account: %w", err)
		}
		return nil

	case OpAddToBalance:
		// Decimals live in TEXT columns, so the increment is a
		// read-modify-write inside the transaction.
		var balance decimal.Decimal
		row := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, op.AccountID.String())
		if err := row.Scan(&balance); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("account: %w", ErrNotFound)
			}
			return fmt.Errorf("failed to read account balance: %w", err)
		}
		_, err := tx.Exec(`UPDATE accounts SET balance = ? WHERE id = ?`,
			balance.Add(op.Delta), op.AccountID.String())
		if err != nil {
			return fmt.Errorf("failed to update account balance: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}

func requireRows(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

const loanColumns = `id, name, from_account_id, from_account_name, total_amount, interest_rate, term_months, start_date, remaining_balance, created_at, updated_at`

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("loan: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// GetAllLoans retrieves every loan, most recent start date first.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY start_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, accountIDStr string
	if err := row.Scan(&idStr, &loan.Name, &accountIDStr, &loan.FromAccountName,
		&loan.TotalAmount, &loan.InterestRate, &loan.TermMonths, &loan.StartDate,
		&loan.RemainingBalance, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.FromAccountID = uuid.MustParse(accountIDStr)
	return &loan, nil
}

const entryColumns = `loan_id, seq, payment_date, principal, interest, total_payment, is_paid, interest_rate_snapshot, remaining_balance`

// GetEntries retrieves all schedule entries for a loan. Persisted order is
// not meaningful; callers sort by payment date.
func (s *SQLiteStore) GetEntries(loanID uuid.UUID) ([]models.ScheduleEntry, error) {
	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM payment_schedule WHERE loan_id = ?`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var entries []models.ScheduleEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return entries, nil
}

// GetEntry retrieves one schedule entry by loan and sequence number.
func (s *SQLiteStore) GetEntry(loanID uuid.UUID, seq int) (*models.ScheduleEntry, error) {
	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM payment_schedule WHERE loan_id = ? AND seq = ?`,
		loanID.String(), seq)
	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("schedule entry: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule entry: %w", err)
	}
	return entry, nil
}

func scanEntry(row rowScanner) (*models.ScheduleEntry, error) {
	var e models.ScheduleEntry
	var loanIDStr string
	var paymentDate time.Time
	if err := row.Scan(&loanIDStr, &e.Seq, &paymentDate, &e.Principal, &e.Interest,
		&e.TotalPayment, &e.IsPaid, &e.InterestRateSnapshot, &e.RemainingBalance); err != nil {
		return nil, err
	}
	e.LoanID = uuid.MustParse(loanIDStr)
	e.PaymentDate = paymentDate
	return &e, nil
}

// GetAccount retrieves an account by its ID.
func (s *SQLiteStore) GetAccount(id uuid.UUID) (*models.Account, error) {
	var a models.Account
	var idStr string
	row := s.db.QueryRow(`SELECT id, name, type, balance FROM accounts WHERE id = ?`, id.String())
	if err := row.Scan(&idStr, &a.Name, &a.Type, &a.Balance); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.ID = uuid.MustParse(idStr)
	return &a, nil
}

// GetAllAccounts retrieves every account.
func (s *SQLiteStore) GetAllAccounts() ([]*models.Account, error) {
	rows, err := s.db.Query(`SELECT id, name, type, balance FROM accounts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		var idStr string
		if err := rows.Scan(&idStr, &a.Name, &a.Type, &a.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		a.ID = uuid.MustParse(idStr)
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return accounts, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
