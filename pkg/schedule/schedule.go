// Package schedule implements the amortization engine: generation of a
// payment schedule using an Actual/365 day-count convention, and cascading
// recalculation when one entry is edited. All functions are pure; persistence
// is the ledger's concern.
package schedule

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hqnguyen/loanbook/pkg/models"
)

const millisPerDay = 86_400_000

var (
	daysInYear = decimal.NewFromInt(365)
	hundred    = decimal.NewFromInt(100)
)

// Params are the inputs for generating a fresh schedule.
type Params struct {
	TotalAmount       decimal.Decimal
	AnnualRatePercent decimal.Decimal
	TermMonths        int
	StartDate         time.Time // disbursement date, anchors the first accrual period
	FirstPaymentDate  time.Time
	MonthlyPrincipal  decimal.Decimal // optional override; non-positive means floor(total/term)
}

// Days is the day count between two dates: the ceiling of the absolute
// millisecond difference over a day, so a partial day counts as a full day.
func Days(from, to time.Time) int64 {
	ms := to.Sub(from).Milliseconds()
	if ms < 0 {
		ms = -ms
	}
	return (ms + millisPerDay - 1) / millisPerDay
}

// interestFor accrues simple interest on balance at ratePercent per year over
// days actual days, rounded half-away-from-zero to a whole currency unit.
func interestFor(balance, ratePercent decimal.Decimal, days int64) decimal.Decimal {
	return balance.
		Mul(ratePercent).
		Mul(decimal.NewFromInt(days)).
		Div(hundred.Mul(daysInYear)).
		Round(0)
}

// ProjectedInterest is the Actual/365 interest a caller would owe on balance
// between two dates. The edit flow uses it to suggest a recomputed interest
// when the rate or date of an entry changes.
func ProjectedInterest(balance, ratePercent decimal.Decimal, from, to time.Time) decimal.Decimal {
	return interestFor(balance, ratePercent, Days(from, to))
}

// addMonthsClamped advances t by the given number of calendar months keeping
// the day of month, clamped to the length of the target month (Jan 31 plus
// one month is Feb 29 in a leap year, not Mar 2).
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := firstOfTarget.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// Generate builds the full schedule for a new loan: exactly TermMonths
// entries, dated monthly from FirstPaymentDate, each accruing Actual/365
// interest on the balance outstanding since the previous payment (or the
// disbursement date for the first entry). The last entry's principal is
// exactly the remaining balance, so the principal column always sums to
// TotalAmount and the final balance snapshot is zero.
//
// A non-positive term yields an empty schedule. Input validation beyond that
// is the caller's job.
func Generate(p Params) []models.ScheduleEntry {
	if p.TermMonths <= 0 {
		return nil
	}

	base := p.MonthlyPrincipal
	if !base.IsPositive() {
		base = p.TotalAmount.Div(decimal.NewFromInt(int64(p.TermMonths))).Floor()
	}

	remaining := p.TotalAmount
	prevDate := p.StartDate
	entries := make([]models.ScheduleEntry, 0, p.TermMonths)

	for k := 1; k <= p.TermMonths; k++ {
		payDate := p.FirstPaymentDate
		if k > 1 {
			payDate = addMonthsClamped(p.FirstPaymentDate, k-1)
		}

		interest := interestFor(remaining, p.AnnualRatePercent, Days(prevDate, payDate))

		principal := base
		if k == p.TermMonths || remaining.LessThan(principal) {
			principal = remaining
		}

		remaining = remaining.Sub(principal)
		entries = append(entries, models.ScheduleEntry{
			Seq:                  k,
			PaymentDate:          payDate,
			Principal:            principal,
			Interest:             interest,
			TotalPayment:         principal.Add(interest),
			IsPaid:               false,
			InterestRateSnapshot: decimal.NewNullDecimal(p.AnnualRatePercent),
			RemainingBalance:     decimal.NewNullDecimal(remaining),
		})
		prevDate = payDate
	}

	return entries
}

// SortByDate orders entries chronologically, sequence number breaking ties.
// The store returns entries in arbitrary persisted order; every calculation
// here operates on chronological order.
func SortByDate(entries []models.ScheduleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].PaymentDate.Equal(entries[j].PaymentDate) {
			return entries[i].Seq < entries[j].Seq
		}
		return entries[i].PaymentDate.Before(entries[j].PaymentDate)
	})
}

// EditBasis returns the balance outstanding and the accrual anchor date
// immediately before the entry at index in the chronologically sorted
// schedule. For the first entry these are the loan's total amount and start
// date. When the prior entry predates balance snapshots, the balance is
// derived as the total amount minus all earlier principal.
func EditBasis(loan *models.Loan, entries []models.ScheduleEntry, index int) (decimal.Decimal, time.Time) {
	if index <= 0 {
		return loan.TotalAmount, loan.StartDate
	}
	prev := entries[index-1]
	if prev.RemainingBalance.Valid {
		return prev.RemainingBalance.Decimal, prev.PaymentDate
	}
	paid := decimal.Zero
	for _, e := range entries[:index] {
		paid = paid.Add(e.Principal)
	}
	return loan.TotalAmount.Sub(paid), prev.PaymentDate
}

// EntryEdit is the caller-supplied replacement for one entry. Principal and
// interest are taken as given; the editor never second-guesses them.
type EntryEdit struct {
	PaymentDate  time.Time
	Principal    decimal.Decimal
	Interest     decimal.Decimal
	RateSnapshot decimal.NullDecimal
}

// Recalculate applies edit to the entry at index of the chronologically
// sorted schedule and cascades the effect forward, returning new copies of
// the target and every later entry. Entries before index are untouched.
//
// The cascade threads a running balance (starting at the target's new
// post-payment balance) and a date cursor (starting at the target's new
// payment date) through the tail. Later entries keep their own payment dates
// and principal amounts; only interest, total and balance snapshots are
// recomputed, plus the rate snapshot when applyRateToFuture is set.
func Recalculate(loan *models.Loan, entries []models.ScheduleEntry, index int, edit EntryEdit, applyRateToFuture bool) []models.ScheduleEntry {
	prevBalance, _ := EditBasis(loan, entries, index)

	target := entries[index]
	target.PaymentDate = edit.PaymentDate
	target.Principal = edit.Principal
	target.Interest = edit.Interest
	target.TotalPayment = edit.Principal.Add(edit.Interest)
	target.InterestRateSnapshot = edit.RateSnapshot
	target.RemainingBalance = decimal.NewNullDecimal(prevBalance.Sub(edit.Principal))

	updated := make([]models.ScheduleEntry, 0, len(entries)-index)
	updated = append(updated, target)

	running := target.RemainingBalance.Decimal
	cursor := target.PaymentDate

	for i := index + 1; i < len(entries); i++ {
		e := entries[i]
		if applyRateToFuture && edit.RateSnapshot.Valid {
			e.InterestRateSnapshot = edit.RateSnapshot
		}
		rate := loan.InterestRate
		if e.InterestRateSnapshot.Valid {
			rate = e.InterestRateSnapshot.Decimal
		}
		e.Interest = interestFor(running, rate, Days(cursor, e.PaymentDate))
		e.TotalPayment = e.Principal.Add(e.Interest)
		running = running.Sub(e.Principal)
		e.RemainingBalance = decimal.NewNullDecimal(running)
		cursor = e.PaymentDate
		updated = append(updated, e)
	}

	return updated
}
