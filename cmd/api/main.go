package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hqnguyen/loanbook/pkg/config"
	"github.com/hqnguyen/loanbook/pkg/ledger"
	"github.com/hqnguyen/loanbook/pkg/models"
	"github.com/hqnguyen/loanbook/pkg/schedule"
	"github.com/hqnguyen/loanbook/pkg/store"
)

const dateLayout = "2006-01-02"

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // kept so the caller can close it
	log     *zap.Logger
}

func NewServer(s store.Storage, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		ledger:  ledger.NewLedger(s, log),
		storage: s,
		log:     log,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/accounts", s.listAccountsHandler).Methods("GET")
	router.HandleFunc("/accounts", s.createAccountHandler).Methods("POST")
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.editLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/schedule/{seq}/pay", s.markPaidHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/schedule/{seq}", s.editEntryHandler).Methods("PUT")
	return router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto status codes: validation to 400,
// re-marking a paid entry to 409, missing records to 404, everything else
// (persistence failures included) to 500 so the client re-fetches and retries.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAlreadyPaid):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type loanRequest struct {
	Name             string          `json:"name"`
	FromAccountID    uuid.UUID       `json:"from_account_id"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	MonthlyPrincipal decimal.Decimal `json:"monthly_principal"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	TermMonths       int             `json:"term_months"`
	StartDate        string          `json:"start_date"`         // YYYY-MM-DD
	FirstPaymentDate string          `json:"first_payment_date"` // YYYY-MM-DD
	RemainingBalance decimal.Decimal `json:"remaining_balance"`  // full-edit only
}

func (r loanRequest) params() (ledger.CreateParams, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return ledger.CreateParams{}, err
	}
	first, err := parseDate(r.FirstPaymentDate)
	if err != nil {
		return ledger.CreateParams{}, err
	}
	return ledger.CreateParams{
		Name:              r.Name,
		FromAccountID:     r.FromAccountID,
		TotalAmount:       r.TotalAmount,
		MonthlyPrincipal:  r.MonthlyPrincipal,
		AnnualRatePercent: r.InterestRate,
		TermMonths:        r.TermMonths,
		StartDate:         start,
		FirstPaymentDate:  first,
	}, nil
}

// parseDate reads a YYYY-MM-DD form date as local midnight.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, time.Local)
}

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string             `json:"name"`
		Type    models.AccountType `json:"type"`
		Balance decimal.Decimal    `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	account, err := s.ledger.CreateAccount(req.Name, req.Type, req.Balance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, account)
}

func (s *Server) listAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.Accounts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, err := req.params()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.CreateLoan(params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.Loan(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.Loans()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) editLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, err := req.params()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.EditLoan(id, params, req.RemainingBalance)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loanAndSeq(w http.ResponseWriter, r *http.Request) (uuid.UUID, int, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, 0, false
	}
	seq, err := strconv.Atoi(vars["seq"])
	if err != nil || seq < 1 {
		http.Error(w, "invalid entry sequence number", http.StatusBadRequest)
		return uuid.Nil, 0, false
	}
	return id, seq, true
}

func (s *Server) markPaidHandler(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.loanAndSeq(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.MarkPaid(id, seq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) editEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, seq, ok := s.loanAndSeq(w, r)
	if !ok {
		return
	}

	var req struct {
		PaymentDate       string              `json:"payment_date"` // YYYY-MM-DD
		Principal         decimal.Decimal     `json:"principal"`
		Interest          decimal.Decimal     `json:"interest"`
		InterestRate      decimal.NullDecimal `json:"interest_rate"`
		ApplyRateToFuture bool                `json:"apply_rate_to_future"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.PaymentDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	edit := schedule.EntryEdit{
		PaymentDate:  date,
		Principal:    req.Principal,
		Interest:     req.Interest,
		RateSnapshot: req.InterestRate,
	}
	entries, err := s.ledger.EditEntry(id, seq, edit, req.ApplyRateToFuture)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func main() {
	log := zap.Must(zap.NewProduction())
	defer log.Sync()

	cfg, err := config.Load("configs")
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DB.Path, log)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, log)

	log.Info("server starting", zap.String("listen", cfg.Listen))
	if err := http.ListenAndServe(cfg.Listen, server.routes()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
