package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hqnguyen/loanbook/pkg/models"
)

func newTestStore(t *testing.T, dbFile string) *SQLiteStore {
	t.Helper()
	os.Remove(dbFile)
	t.Cleanup(func() { os.Remove(dbFile) })

	s, err := NewSQLiteStore(dbFile, nil)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLoan(accountID uuid.UUID) *models.Loan {
	return &models.Loan{
		ID:               uuid.New(),
		Name:             "car loan",
		FromAccountID:    accountID,
		FromAccountName:  "Checking",
		TotalAmount:      decimal.NewFromInt(120_000_000),
		InterestRate:     decimal.NewFromFloat(11.5),
		TermMonths:       12,
		StartDate:        time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		RemainingBalance: decimal.NewFromInt(120_000_000),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func TestSQLiteStore_ApplyAndGetLoan(t *testing.T) {
	s := newTestStore(t, "test_store_loan.db")

	loan := testLoan(uuid.New())
	entry := &models.ScheduleEntry{
		LoanID:               loan.ID,
		Seq:                  1,
		PaymentDate:          time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		Principal:            decimal.NewFromInt(10_000_000),
		Interest:             decimal.NewFromInt(1_171_233),
		TotalPayment:         decimal.NewFromInt(11_171_233),
		InterestRateSnapshot: decimal.NewNullDecimal(decimal.NewFromFloat(11.5)),
		RemainingBalance:     decimal.NewNullDecimal(decimal.NewFromInt(110_000_000)),
	}

	if err := s.Apply([]Op{PutLoan(loan), PutEntry(entry)}); err != nil {
		t.Fatalf("Failed to apply batch: %v", err)
	}

	fetched, err := s.GetLoan(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if fetched.Name != loan.Name {
		t.Errorf("Expected name %q, got %q", loan.Name, fetched.Name)
	}
	if !fetched.TotalAmount.Equal(loan.TotalAmount) {
		t.Errorf("Expected total %s, got %s", loan.TotalAmount, fetched.TotalAmount)
	}
	if !fetched.InterestRate.Equal(loan.InterestRate) {
		t.Errorf("Expected rate %s, got %s", loan.InterestRate, fetched.InterestRate)
	}

	entries, err := s.GetEntries(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if !got.Principal.Equal(entry.Principal) {
		t.Errorf("Expected principal %s, got %s", entry.Principal, got.Principal)
	}
	if !got.RemainingBalance.Valid || !got.RemainingBalance.Decimal.Equal(entry.RemainingBalance.Decimal) {
		t.Errorf("Expected balance snapshot %s, got %v", entry.RemainingBalance.Decimal, got.RemainingBalance)
	}
	if got.IsPaid {
		t.Error("Expected entry to start unpaid")
	}
}

func TestSQLiteStore_NullSnapshots(t *testing.T) {
	s := newTestStore(t, "test_store_null.db")

	loan := testLoan(uuid.New())
	// A legacy-shaped entry without rate or balance snapshots.
	entry := &models.ScheduleEntry{
		LoanID:       loan.ID,
		Seq:          1,
		PaymentDate:  time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		Principal:    decimal.NewFromInt(10_000_000),
		Interest:     decimal.NewFromInt(1_000_000),
		TotalPayment: decimal.NewFromInt(11_000_000),
	}
	if err := s.Apply([]Op{PutLoan(loan), PutEntry(entry)}); err != nil {
		t.Fatalf("Failed to apply batch: %v", err)
	}

	got, err := s.GetEntry(loan.ID, 1)
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.InterestRateSnapshot.Valid {
		t.Errorf("Expected null rate snapshot, got %s", got.InterestRateSnapshot.Decimal)
	}
	if got.RemainingBalance.Valid {
		t.Errorf("Expected null balance snapshot, got %s", got.RemainingBalance.Decimal)
	}
}

func TestSQLiteStore_ApplyRollsBackOnFailure(t *testing.T) {
	s := newTestStore(t, "test_store_rollback.db")

	loan := testLoan(uuid.New())
	// The delete of a loan that was never written fails, so the put in the
	// same batch must not survive.
	err := s.Apply([]Op{PutLoan(loan), DeleteLoan(uuid.New())})
	if err == nil {
		t.Fatal("Expected batch to fail")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound in %v", err)
	}

	if _, err := s.GetLoan(loan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected rolled-back loan to be absent, got err %v", err)
	}
}

func TestSQLiteStore_AtomicDelete(t *testing.T) {
	s := newTestStore(t, "test_store_delete.db")

	loan := testLoan(uuid.New())
	ops := []Op{PutLoan(loan)}
	for seq := 1; seq <= 12; seq++ {
		ops = append(ops, PutEntry(&models.ScheduleEntry{
			LoanID:       loan.ID,
			Seq:          seq,
			PaymentDate:  time.Date(2024, time.Month(seq+1), 1, 0, 0, 0, 0, time.UTC),
			Principal:    decimal.NewFromInt(10_000_000),
			Interest:     decimal.Zero,
			TotalPayment: decimal.NewFromInt(10_000_000),
		}))
	}
	if err := s.Apply(ops); err != nil {
		t.Fatalf("Failed to seed loan: %v", err)
	}

	deletes := make([]Op, 0, 13)
	for seq := 1; seq <= 12; seq++ {
		deletes = append(deletes, DeleteEntry(loan.ID, seq))
	}
	deletes = append(deletes, DeleteLoan(loan.ID))
	if err := s.Apply(deletes); err != nil {
		t.Fatalf("Failed to delete loan: %v", err)
	}

	if _, err := s.GetLoan(loan.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected loan gone, got err %v", err)
	}
	entries, err := s.GetEntries(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get entries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected 0 residual entries, got %d", len(entries))
	}
}

func TestSQLiteStore_AddToBalance(t *testing.T) {
	s := newTestStore(t, "test_store_balance.db")

	account := &models.Account{
		ID:      uuid.New(),
		Name:    "Checking",
		Type:    models.AccountTypeBank,
		Balance: decimal.NewFromInt(1_000_000),
	}
	if err := s.Apply([]Op{PutAccount(account)}); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	if err := s.Apply([]Op{AddToBalance(account.ID, decimal.NewFromInt(-250_000))}); err != nil {
		t.Fatalf("Failed to adjust balance: %v", err)
	}

	got, err := s.GetAccount(account.ID)
	if err != nil {
		t.Fatalf("Failed to get account: %v", err)
	}
	want := decimal.NewFromInt(750_000)
	if !got.Balance.Equal(want) {
		t.Errorf("Expected balance %s, got %s", want, got.Balance)
	}
}

func TestSQLiteStore_BatchLimit(t *testing.T) {
	s := newTestStore(t, "test_store_limit.db")

	ops := make([]Op, s.MaxBatchOps()+1)
	loanID := uuid.New()
	for i := range ops {
		ops[i] = DeleteEntry(loanID, i+1)
	}
	if err := s.Apply(ops); err == nil {
		t.Error("Expected oversized batch to be rejected")
	}
}
