/*
Package ledger owns account balances and the transaction log.

PURPOSE:
  Every money movement goes through one of four operations, each a single
  all-or-nothing store transaction spanning exactly the documents it
  touches. A caller observes either the full effect (transaction record +
  balance update + booking update) or none of it.

INVARIANT:
  An account's balance equals the signed sum of all transactions
  referencing it. The invariant holds by construction: a balance is never
  written without its transaction record in the same atomic block, and
  vice versa.

FUNDS CHECKS:
  InsufficientFunds is decided INSIDE the atomic block, against the
  freshly-read balance. A caller pre-checking balance from its in-memory
  view and then issuing the mutation has a race window; the in-transaction
  check is what closes it.

SIDE EFFECTS:
  Transaction bodies stay free of non-idempotent external side effects.
  The store may re-run a body under contention; logging and metrics fire
  after commit, never inside.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/studio-engine/docstore"
	"github.com/warp/studio-engine/metrics"
	"github.com/warp/studio-engine/studio"
)

// Meta carries the descriptive fields of a transaction record.
type Meta struct {
	Description string
	Category    string
	OwnerID     string
}

// Service exposes the atomic ledger operations.
type Service struct {
	store docstore.Store
	log   zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a ledger service over the given store.
func New(store docstore.Store, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// RecordExpense decrements an account's balance and writes an EXPENSE
// transaction in the same atomic block.
func (s *Service) RecordExpense(ctx context.Context, accountID string, amount studio.Money, meta Meta) (*studio.Transaction, error) {
	if err := studio.ValidateAmount(amount); err != nil {
		return nil, err
	}

	tx := s.newTx(studio.TxExpense, accountID, amount, meta)
	err := s.store.RunTransaction(ctx, func(t docstore.Tx) error {
		account, err := readAccount(ctx, t, accountID)
		if err != nil {
			return err
		}
		account.Balance -= amount
		return writeMovement(ctx, t, account, tx)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncLedgerTx(string(studio.TxExpense))
	s.log.Info().Str("account", accountID).Int64("amount", int64(amount)).Msg("expense recorded")
	return tx, nil
}

// RecordIncomeForBooking increments an account's balance and writes an
// INCOME transaction tagged with the booking id. Used both for the initial
// deposit at booking creation and for later settlements.
func (s *Service) RecordIncomeForBooking(ctx context.Context, accountID string, amount studio.Money, bookingID string, meta Meta) (*studio.Transaction, error) {
	if err := studio.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var tx *studio.Transaction
	err := s.store.RunTransaction(ctx, func(t docstore.Tx) error {
		var err error
		tx, err = s.IncomeWithin(ctx, t, accountID, amount, bookingID, meta)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.IncLedgerTx(string(studio.TxIncome))
	s.log.Info().Str("account", accountID).Str("booking", bookingID).
		Int64("amount", int64(amount)).Msg("income recorded")
	return tx, nil
}

// IncomeWithin performs the income movement inside an already-open
// transaction. The booking service uses it to make booking-create plus
// deposit a single atomic unit.
func (s *Service) IncomeWithin(ctx context.Context, t docstore.Tx, accountID string, amount studio.Money, bookingID string, meta Meta) (*studio.Transaction, error) {
	if err := studio.ValidateAmount(amount); err != nil {
		return nil, err
	}
	account, err := readAccount(ctx, t, accountID)
	if err != nil {
		return nil, err
	}
	tx := s.newTx(studio.TxIncome, accountID, amount, meta)
	tx.BookingID = bookingID
	account.Balance += amount
	if err := writeMovement(ctx, t, account, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Transfer moves amount between two accounts. Both accounts are read inside
// the atomic block; the funds check runs against the freshly-read source
// balance. One TRANSFER transaction records both sides.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount studio.Money) (*studio.Transaction, error) {
	if err := studio.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, &studio.ValidationError{Field: "to_account", Reason: "must differ from source account"}
	}

	tx := s.newTx(studio.TxTransfer, fromID, amount, Meta{
		Description: fmt.Sprintf("transfer to %s", toID),
	})
	tx.CounterAccountID = toID

	err := s.store.RunTransaction(ctx, func(t docstore.Tx) error {
		from, err := readAccount(ctx, t, fromID)
		if err != nil {
			return err
		}
		to, err := readAccount(ctx, t, toID)
		if err != nil {
			return err
		}
		if from.Balance < amount {
			return &studio.InsufficientFundsError{
				AccountID: fromID,
				Available: from.Balance,
				Requested: amount,
			}
		}
		from.Balance -= amount
		to.Balance += amount
		tx.OwnerID = from.OwnerID
		if err := t.Set(ctx, studio.CollectionAccounts, from.ID, from); err != nil {
			return err
		}
		if err := t.Set(ctx, studio.CollectionAccounts, to.ID, to); err != nil {
			return err
		}
		return t.Set(ctx, studio.CollectionTransactions, tx.ID, tx)
	})
	if err != nil {
		if errors.Is(err, studio.ErrInsufficientFunds) {
			metrics.IncInsufficientFunds()
		}
		return nil, err
	}

	metrics.IncLedgerTx(string(studio.TxTransfer))
	s.log.Info().Str("from", fromID).Str("to", toID).
		Int64("amount", int64(amount)).Msg("transfer recorded")
	return tx, nil
}

// SettleBooking records a payment (positive signed amount) or refund
// (negative) against a booking. The booking's paid amount, the account
// balance, and the transaction record commit together or not at all.
//
// A refund is rejected with InsufficientFunds when the account can't cover
// it, and with a validation error when it would drive the booking's paid
// amount negative.
func (s *Service) SettleBooking(ctx context.Context, bookingID string, signed studio.Money, accountID string) (*studio.Transaction, error) {
	if signed == 0 {
		return nil, &studio.ValidationError{Field: "amount", Reason: "must not be zero"}
	}

	kind := studio.TxIncome
	magnitude := signed
	if signed < 0 {
		kind = studio.TxExpense
		magnitude = -signed
	}

	var tx *studio.Transaction
	err := s.store.RunTransaction(ctx, func(t docstore.Tx) error {
		var booking studio.Booking
		if err := t.Get(ctx, studio.CollectionBookings, bookingID, &booking); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return studio.ErrBookingNotFound
			}
			return err
		}
		account, err := readAccount(ctx, t, accountID)
		if err != nil {
			return err
		}

		if signed < 0 {
			if account.Balance < magnitude {
				return &studio.InsufficientFundsError{
					AccountID: accountID,
					Available: account.Balance,
					Requested: magnitude,
				}
			}
			if booking.PaidAmount+signed < 0 {
				return &studio.ValidationError{
					Field:  "amount",
					Reason: "refund exceeds amount paid",
				}
			}
		}

		desc := "payment"
		if signed < 0 {
			desc = "refund"
		}
		tx = s.newTx(kind, accountID, magnitude, Meta{
			Description: fmt.Sprintf("%s for booking %s", desc, bookingID),
			Category:    "booking",
			OwnerID:     booking.OwnerID,
		})
		tx.BookingID = bookingID

		booking.PaidAmount += signed
		booking.UpdatedAt = s.now().UTC()
		account.Balance += signed

		if err := t.Set(ctx, studio.CollectionBookings, booking.ID, booking); err != nil {
			return err
		}
		return writeMovement(ctx, t, account, tx)
	})
	if err != nil {
		if errors.Is(err, studio.ErrInsufficientFunds) {
			metrics.IncInsufficientFunds()
		}
		return nil, err
	}

	metrics.IncLedgerTx(string(kind))
	s.log.Info().Str("booking", bookingID).Str("account", accountID).
		Int64("signed_amount", int64(signed)).Msg("booking settled")
	return tx, nil
}

// TransactionsForAccount returns the history behind an account's balance.
// Transfers received are matched through counter_account_id, so the recipient
// side of a TRANSFER shows up too and the signed sum explains the balance.
func (s *Service) TransactionsForAccount(ctx context.Context, accountID string) ([]studio.Transaction, error) {
	var txs []studio.Transaction
	q := docstore.NewQuery(studio.CollectionTransactions).Where("account_id", accountID)
	if err := s.store.Query(ctx, q, &txs); err != nil {
		return nil, err
	}

	var received []studio.Transaction
	q = docstore.NewQuery(studio.CollectionTransactions).Where("counter_account_id", accountID)
	if err := s.store.Query(ctx, q, &received); err != nil {
		return nil, err
	}
	txs = append(txs, received...)

	sort.Slice(txs, func(i, j int) bool {
		if txs[i].At.Equal(txs[j].At) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].At.Before(txs[j].At)
	})
	return txs, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Service) newTx(kind studio.TxKind, accountID string, amount studio.Money, meta Meta) *studio.Transaction {
	return &studio.Transaction{
		ID:          s.newID(),
		OwnerID:     meta.OwnerID,
		At:          s.now().UTC(),
		Description: meta.Description,
		Amount:      amount,
		Kind:        kind,
		AccountID:   accountID,
		Category:    meta.Category,
	}
}

func readAccount(ctx context.Context, t docstore.Tx, id string) (*studio.Account, error) {
	var account studio.Account
	if err := t.Get(ctx, studio.CollectionAccounts, id, &account); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", studio.ErrAccountNotFound, id)
		}
		return nil, err
	}
	return &account, nil
}

func writeMovement(ctx context.Context, t docstore.Tx, account *studio.Account, tx *studio.Transaction) error {
	if tx.OwnerID == "" {
		tx.OwnerID = account.OwnerID
	}
	if err := t.Set(ctx, studio.CollectionAccounts, account.ID, account); err != nil {
		return err
	}
	return t.Set(ctx, studio.CollectionTransactions, tx.ID, tx)
}
