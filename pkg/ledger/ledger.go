// Package ledger owns the loan bookkeeping operations: origination with a
// generated schedule, cascading schedule edits, mark-as-paid balance
// decrements, full re-edits and deletion. Every multi-record mutation goes to
// the store as an atomic batch.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hqnguyen/loanbook/pkg/models"
	"github.com/hqnguyen/loanbook/pkg/schedule"
	"github.com/hqnguyen/loanbook/pkg/store"
)

var (
	// ErrValidation marks failures rejected before any persistence call.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyPaid guards the one-way unpaid-to-paid transition: re-marking
	// a paid entry must not decrement the loan balance a second time.
	ErrAlreadyPaid = errors.New("entry already marked as paid")
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Ledger handles the business logic for loans and their payment schedules.
type Ledger struct {
	storage store.Storage
	log     *zap.Logger
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{storage: s, log: log}
}

// CreateParams are the loan-form inputs for origination and full edit.
type CreateParams struct {
	Name              string
	FromAccountID     uuid.UUID
	TotalAmount       decimal.Decimal
	MonthlyPrincipal  decimal.Decimal // optional; non-positive means floor(total/term)
	AnnualRatePercent decimal.Decimal
	TermMonths        int
	StartDate         time.Time
	FirstPaymentDate  time.Time
}

func (p CreateParams) validate() error {
	switch {
	case p.Name == "":
		return validationErr("name is required")
	case p.FromAccountID == uuid.Nil:
		return validationErr("source account is required")
	case !p.TotalAmount.IsPositive():
		return validationErr("total amount must be positive")
	case p.MonthlyPrincipal.IsNegative():
		return validationErr("monthly principal must not be negative")
	case p.AnnualRatePercent.IsNegative():
		return validationErr("interest rate must not be negative")
	case p.TermMonths <= 0:
		return validationErr("term must be a positive number of months")
	case p.StartDate.IsZero():
		return validationErr("start date is required")
	case p.FirstPaymentDate.IsZero():
		return validationErr("first payment date is required")
	}
	return nil
}

func (p CreateParams) scheduleParams() schedule.Params {
	return schedule.Params{
		TotalAmount:       p.TotalAmount,
		AnnualRatePercent: p.AnnualRatePercent,
		TermMonths:        p.TermMonths,
		StartDate:         p.StartDate,
		FirstPaymentDate:  p.FirstPaymentDate,
		MonthlyPrincipal:  p.MonthlyPrincipal,
	}
}

// applyChunked submits ops in batches no larger than the store's limit.
// Realistic schedules fit one batch; only deletion of very long schedules
// spans several, and those run sequentially best-effort.
func (l *Ledger) applyChunked(ops []store.Op) error {
	for _, chunk := range store.Chunk(ops, l.storage.MaxBatchOps()) {
		if err := l.storage.Apply(chunk); err != nil {
			return err
		}
	}
	return nil
}

// CreateLoan originates a loan: validates the form, generates the full
// Actual/365 schedule and writes loan, every entry and the source-account
// balance credit in a single batch.
func (l *Ledger) CreateLoan(p CreateParams) (*models.LoanWithSchedule, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	account, err := l.storage.GetAccount(p.FromAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErr("source account not found")
		}
		return nil, err
	}

	now := time.Now()
	loan := &models.Loan{
		ID:               uuid.New(),
		Name:             p.Name,
		FromAccountID:    account.ID,
		FromAccountName:  account.Name,
		TotalAmount:      p.TotalAmount,
		InterestRate:     p.AnnualRatePercent,
		TermMonths:       p.TermMonths,
		StartDate:        p.StartDate,
		RemainingBalance: p.TotalAmount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	entries := schedule.Generate(p.scheduleParams())
	ops := make([]store.Op, 0, len(entries)+2)
	ops = append(ops, store.PutLoan(loan))
	for i := range entries {
		entries[i].LoanID = loan.ID
		ops = append(ops, store.PutEntry(&entries[i]))
	}
	// Disbursed funds land on the source account, in the same batch.
	ops = append(ops, store.AddToBalance(account.ID, p.TotalAmount))

	if err := l.applyChunked(ops); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Info("loan created",
		zap.String("loan_id", loan.ID.String()),
		zap.Int("entries", len(entries)))
	return &models.LoanWithSchedule{Loan: *loan, Schedule: entries}, nil
}

// EditLoan is the full loan edit: the existing schedule is deleted and
// regenerated from the new parameters, and the loan's aggregate balance is
// reset from the edit form's explicit remaining-balance field. The source
// account is not touched.
func (l *Ledger) EditLoan(id uuid.UUID, p CreateParams, remainingBalance decimal.Decimal) (*models.LoanWithSchedule, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if remainingBalance.IsNegative() {
		return nil, validationErr("remaining balance must not be negative")
	}

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	old, err := l.storage.GetEntries(id)
	if err != nil {
		return nil, err
	}
	account, err := l.storage.GetAccount(p.FromAccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, validationErr("source account not found")
		}
		return nil, err
	}

	loan.Name = p.Name
	loan.FromAccountID = account.ID
	loan.FromAccountName = account.Name
	loan.TotalAmount = p.TotalAmount
	loan.InterestRate = p.AnnualRatePercent
	loan.TermMonths = p.TermMonths
	loan.StartDate = p.StartDate
	loan.RemainingBalance = remainingBalance
	loan.UpdatedAt = time.Now()

	entries := schedule.Generate(p.scheduleParams())
	ops := make([]store.Op, 0, len(old)+len(entries)+1)
	ops = append(ops, store.PutLoan(loan))
	for _, e := range old {
		ops = append(ops, store.DeleteEntry(id, e.Seq))
	}
	for i := range entries {
		entries[i].LoanID = id
		ops = append(ops, store.PutEntry(&entries[i]))
	}

	if err := l.applyChunked(ops); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	l.log.Info("loan fully edited",
		zap.String("loan_id", id.String()),
		zap.Int("entries", len(entries)))
	return &models.LoanWithSchedule{Loan: *loan, Schedule: entries}, nil
}

// MarkPaid flips one entry to paid and decrements the loan's aggregate
// remaining balance by exactly that entry's principal, debiting the source
// account by the total payment in the same batch. Marking an already-paid
// entry fails with ErrAlreadyPaid and changes nothing.
func (l *Ledger) MarkPaid(loanID uuid.UUID, seq int) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	entry, err := l.storage.GetEntry(loanID, seq)
	if err != nil {
		return nil, err
	}
	if entry.IsPaid {
		return nil, fmt.Errorf("%w: loan %s entry %d", ErrAlreadyPaid, loanID, seq)
	}

	entry.IsPaid = true
	loan.RemainingBalance = loan.RemainingBalance.Sub(entry.Principal)
	loan.UpdatedAt = time.Now()

	ops := []store.Op{
		store.PutEntry(entry),
		store.PutLoan(loan),
		store.AddToBalance(loan.FromAccountID, entry.TotalPayment.Neg()),
	}
	if err := l.storage.Apply(ops); err != nil {
		return nil, fmt.Errorf("failed to mark entry paid: %w", err)
	}

	l.log.Info("schedule entry paid",
		zap.String("loan_id", loanID.String()),
		zap.Int("seq", seq),
		zap.String("principal", entry.Principal.String()),
		zap.String("remaining_balance", loan.RemainingBalance.String()))
	return loan, nil
}

// EditEntry applies a caller-supplied edit to one schedule entry and cascades
// the recalculation across every chronologically later entry. Earlier entries
// and the loan's aggregate balance are untouched; future entries keep their
// payment dates and principal amounts.
func (l *Ledger) EditEntry(loanID uuid.UUID, seq int, edit schedule.EntryEdit, applyRateToFuture bool) ([]models.ScheduleEntry, error) {
	if edit.Principal.IsNegative() || edit.Interest.IsNegative() {
		return nil, validationErr("principal and interest must not be negative")
	}
	if edit.PaymentDate.IsZero() {
		return nil, validationErr("payment date is required")
	}

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	entries, err := l.storage.GetEntries(loanID)
	if err != nil {
		return nil, err
	}
	schedule.SortByDate(entries)

	index := -1
	for i, e := range entries {
		if e.Seq == seq {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("schedule entry: %w", store.ErrNotFound)
	}

	updated := schedule.Recalculate(loan, entries, index, edit, applyRateToFuture)
	ops := make([]store.Op, 0, len(updated))
	for i := range updated {
		ops = append(ops, store.PutEntry(&updated[i]))
	}
	if err := l.applyChunked(ops); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	copy(entries[index:], updated)
	l.log.Info("schedule entry edited",
		zap.String("loan_id", loanID.String()),
		zap.Int("seq", seq),
		zap.Bool("apply_rate_to_future", applyRateToFuture),
		zap.Int("recalculated", len(updated)))
	return entries, nil
}

// DeleteLoan removes the loan and its entire schedule. The batch is split at
// the store's limit, so removal of a very long schedule is sequential chunks
// rather than one atomic unit.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	if _, err := l.storage.GetLoan(id); err != nil {
		return err
	}
	entries, err := l.storage.GetEntries(id)
	if err != nil {
		return err
	}

	ops := make([]store.Op, 0, len(entries)+1)
	for _, e := range entries {
		ops = append(ops, store.DeleteEntry(id, e.Seq))
	}
	ops = append(ops, store.DeleteLoan(id))

	if err := l.applyChunked(ops); err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	l.log.Info("loan deleted",
		zap.String("loan_id", id.String()),
		zap.Int("entries", len(entries)))
	return nil
}

// Loan retrieves a loan with its schedule sorted by payment date.
func (l *Ledger) Loan(id uuid.UUID) (*models.LoanWithSchedule, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	entries, err := l.storage.GetEntries(id)
	if err != nil {
		return nil, err
	}
	schedule.SortByDate(entries)
	return &models.LoanWithSchedule{Loan: *loan, Schedule: entries}, nil
}

// Loans retrieves every loan with its sorted schedule.
func (l *Ledger) Loans() ([]*models.LoanWithSchedule, error) {
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return nil, err
	}
	out := make([]*models.LoanWithSchedule, 0, len(loans))
	for _, loan := range loans {
		entries, err := l.storage.GetEntries(loan.ID)
		if err != nil {
			return nil, err
		}
		schedule.SortByDate(entries)
		out = append(out, &models.LoanWithSchedule{Loan: *loan, Schedule: entries})
	}
	return out, nil
}

// CreateAccount registers a source account for loans.
func (l *Ledger) CreateAccount(name string, accountType models.AccountType, balance decimal.Decimal) (*models.Account, error) {
	if name == "" {
		return nil, validationErr("account name is required")
	}
	switch accountType {
	case models.AccountTypeBank, models.AccountTypeCredit:
	default:
		return nil, validationErr("unknown account type %q", accountType)
	}

	account := &models.Account{
		ID:      uuid.New(),
		Name:    name,
		Type:    accountType,
		Balance: balance,
	}
	if err := l.storage.Apply([]store.Op{store.PutAccount(account)}); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}
	return account, nil
}

// Accounts retrieves every account.
func (l *Ledger) Accounts() ([]*models.Account, error) {
	return l.storage.GetAllAccounts()
}
