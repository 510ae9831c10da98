package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/hqnguyen/loanbook/pkg/models"
)

// ErrNotFound is returned when a loan, entry or account does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the persistence collaborator: document-style reads plus an
// atomic batch write. A failed Apply leaves the store exactly as it was.
type Storage interface {
	// Apply runs every op in one atomic unit. len(ops) must not exceed
	// MaxBatchOps; callers split larger groups with Chunk.
	Apply(ops []Op) error
	// MaxBatchOps is the store's limit on operations per atomic batch.
	MaxBatchOps() int

	GetLoan(id uuid.UUID) (*models.Loan, error)
	GetAllLoans() ([]*models.Loan, error)
	// GetEntries returns a loan's schedule entries in arbitrary order;
	// callers sort by payment date before calculating.
	GetEntries(loanID uuid.UUID) ([]models.ScheduleEntry, error)
	GetEntry(loanID uuid.UUID, seq int) (*models.ScheduleEntry, error)

	GetAccount(id uuid.UUID) (*models.Account, error)
	GetAllAccounts() ([]*models.Account, error)

	Close() error
}
