package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeBank   AccountType = "bank"
	AccountTypeCredit AccountType = "credit"
)

// Account is the source of loan funds. Its balance is mutated only as a
// sibling side effect of loan operations, in the same write batch.
type Account struct {
	ID      uuid.UUID       `json:"id"`
	Name    string          `json:"name"`
	Type    AccountType     `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

// Loan is a borrowing agreement. TotalAmount is fixed at origination;
// RemainingBalance is decremented as principal is paid.
type Loan struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	FromAccountID    uuid.UUID       `json:"from_account_id"`
	FromAccountName  string          `json:"from_account_name"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	InterestRate     decimal.Decimal `json:"interest_rate"` // annual rate, percent
	TermMonths       int             `json:"term_months"`
	StartDate        time.Time       `json:"start_date"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// MaturityDate is the start date advanced by the full term.
func (l *Loan) MaturityDate() time.Time {
	return l.StartDate.AddDate(0, l.TermMonths, 0)
}

// PaidAmount is the principal repaid so far.
func (l *Loan) PaidAmount() decimal.Decimal {
	return l.TotalAmount.Sub(l.RemainingBalance)
}

// ScheduleEntry is one scheduled installment, keyed by its 1-based sequence
// number within the parent loan. Entries have no identity outside the loan.
//
// InterestRateSnapshot and RemainingBalance are nullable: rows imported from
// older books carry neither, and readers fall back to the loan's own rate or
// to a balance derived from earlier principal.
type ScheduleEntry struct {
	LoanID               uuid.UUID           `json:"loan_id"`
	Seq                  int                 `json:"seq"`
	PaymentDate          time.Time           `json:"payment_date"`
	Principal            decimal.Decimal     `json:"principal"`
	Interest             decimal.Decimal     `json:"interest"`
	TotalPayment         decimal.Decimal     `json:"total_payment"`
	IsPaid               bool                `json:"is_paid"`
	InterestRateSnapshot decimal.NullDecimal `json:"interest_rate_snapshot"`
	RemainingBalance     decimal.NullDecimal `json:"remaining_balance"`
}

// LoanWithSchedule is the read model: a loan plus its schedule sorted by
// payment date ascending.
type LoanWithSchedule struct {
	Loan
	Schedule []ScheduleEntry `json:"schedule"`
}

// MarshalJSON adds the derived maturity date and paid amount so the list
// endpoint can show them without each client recomputing.
func (l LoanWithSchedule) MarshalJSON() ([]byte, error) {
	type plain LoanWithSchedule
	return json.Marshal(struct {
		plain
		MaturityDate time.Time       `json:"maturity_date"`
		PaidAmount   decimal.Decimal `json:"paid_amount"`
	}{
		plain:        plain(l),
		MaturityDate: l.MaturityDate(),
		PaidAmount:   l.PaidAmount(),
	})
}
