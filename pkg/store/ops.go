package store

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hqnguyen/loanbook/pkg/models"
)

// OpKind discriminates the mutations a write batch may carry.
type OpKind int

const (
	OpPutLoan OpKind = iota
	OpDeleteLoan
	OpPutEntry
	OpDeleteEntry
	OpPutAccount
	OpAddToBalance
)

// Op is one mutation inside an atomic write batch: an upsert or delete of a
// loan, schedule entry or account, or an increment of an account balance.
type Op struct {
	Kind      OpKind
	Loan      *models.Loan
	Entry     *models.ScheduleEntry
	Account   *models.Account
	LoanID    uuid.UUID
	Seq       int
	AccountID uuid.UUID
	Delta     decimal.Decimal
}

func PutLoan(l *models.Loan) Op { return Op{Kind: OpPutLoan, Loan: l} }

func DeleteLoan(id uuid.UUID) Op { return Op{Kind: OpDeleteLoan, LoanID: id} }

func PutEntry(e *models.ScheduleEntry) Op { return Op{Kind: OpPutEntry, Entry: e} }

func DeleteEntry(loanID uuid.UUID, seq int) Op {
	return Op{Kind: OpDeleteEntry, LoanID: loanID, Seq: seq}
}

func PutAccount(a *models.Account) Op { return Op{Kind: OpPutAccount, Account: a} }

// AddToBalance increments an account balance by delta (negative to debit)
// inside the same batch as the loan mutation it accompanies.
func AddToBalance(accountID uuid.UUID, delta decimal.Decimal) Op {
	return Op{Kind: OpAddToBalance, AccountID: accountID, Delta: delta}
}

// Chunk splits ops into batches of at most limit operations, for stores that
// bound the size of an atomic write. Atomicity holds per chunk, not across
// chunks; callers only rely on that for deletes of very long schedules.
func Chunk(ops []Op, limit int) [][]Op {
	if limit <= 0 || len(ops) == 0 {
		if len(ops) == 0 {
			return nil
		}
		return [][]Op{ops}
	}
	chunks := make([][]Op, 0, (len(ops)+limit-1)/limit)
	for len(ops) > limit {
		chunks = append(chunks, ops[:limit])
		ops = ops[limit:]
	}
	return append(chunks, ops)
}
