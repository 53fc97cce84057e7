package ledger_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/docstore"
	"github.com/warp/studio-engine/docstore/memory"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/store/sqlite"
	"github.com/warp/studio-engine/studio"
)

// The ledger contract must hold on every store implementation; the suite
// runs against both.
func eachStore(t *testing.T, fn func(t *testing.T, store docstore.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, memory.New())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func seedAccount(t *testing.T, store docstore.Store, id string, balance studio.Money) {
	t.Helper()
	err := store.Set(context.Background(), studio.CollectionAccounts, id, studio.Account{
		ID: id, OwnerID: "owner-1", Name: id, Balance: balance,
	})
	require.NoError(t, err)
}

func getAccount(t *testing.T, store docstore.Store, id string) studio.Account {
	t.Helper()
	var account studio.Account
	require.NoError(t, store.Get(context.Background(), studio.CollectionAccounts, id, &account))
	return account
}

func accountTxs(t *testing.T, store docstore.Store, accountID string) []studio.Transaction {
	t.Helper()
	var txs []studio.Transaction
	q := docstore.NewQuery(studio.CollectionTransactions).Where("account_id", accountID)
	require.NoError(t, store.Query(context.Background(), q, &txs))
	return txs
}

// =============================================================================
// EXPENSE & INCOME
// =============================================================================

func TestRecordExpense(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		// GIVEN: an account holding 100,000
		// WHEN: recording a 30,000 expense
		// THEN: balance drops and exactly one EXPENSE transaction explains it
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 100_000)

		tx, err := svc.RecordExpense(context.Background(), "acc-1", 30_000, ledger.Meta{
			Description: "studio rent", Category: "rent",
		})
		require.NoError(t, err)

		assert.Equal(t, studio.TxExpense, tx.Kind)
		assert.Equal(t, studio.Money(30_000), tx.Amount)
		assert.Equal(t, studio.Money(70_000), getAccount(t, store, "acc-1").Balance)

		txs := accountTxs(t, store, "acc-1")
		require.Len(t, txs, 1)
		assert.Equal(t, "studio rent", txs[0].Description)
	})
}

func TestRecordExpense_MissingAccount(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())

		_, err := svc.RecordExpense(context.Background(), "ghost", 10_000, ledger.Meta{})
		assert.ErrorIs(t, err, studio.ErrAccountNotFound)
		assert.Empty(t, accountTxs(t, store, "ghost"), "no partial effect")
	})
}

func TestRecordExpense_RejectsNonPositiveAmount(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 100_000)

		for _, amount := range []studio.Money{0, -5_000} {
			_, err := svc.RecordExpense(context.Background(), "acc-1", amount, ledger.Meta{})
			assert.ErrorIs(t, err, studio.ErrInvalidInput)
		}
		assert.Equal(t, studio.Money(100_000), getAccount(t, store, "acc-1").Balance)
	})
}

func TestRecordIncomeForBooking(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 0)

		tx, err := svc.RecordIncomeForBooking(context.Background(), "acc-1", 250_000, "bk-1", ledger.Meta{
			Description: "session deposit",
		})
		require.NoError(t, err)

		assert.Equal(t, studio.TxIncome, tx.Kind)
		assert.Equal(t, "bk-1", tx.BookingID)
		assert.Equal(t, studio.Money(250_000), getAccount(t, store, "acc-1").Balance)
	})
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransfer_ConservesTotal(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		// GIVEN: A holds 80,000 and B holds 20,000
		// WHEN: transferring 50,000 from A to B
		// THEN: A drops by exactly 50,000, B rises by exactly 50,000,
		//       and the combined total is unchanged
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "A", 80_000)
		seedAccount(t, store, "B", 20_000)

		tx, err := svc.Transfer(context.Background(), "A", "B", 50_000)
		require.NoError(t, err)

		a, b := getAccount(t, store, "A"), getAccount(t, store, "B")
		assert.Equal(t, studio.Money(30_000), a.Balance)
		assert.Equal(t, studio.Money(70_000), b.Balance)
		assert.Equal(t, studio.Money(100_000), a.Balance+b.Balance)

		assert.Equal(t, studio.TxTransfer, tx.Kind)
		assert.Equal(t, "A", tx.AccountID)
		assert.Equal(t, "B", tx.CounterAccountID)
		require.Len(t, accountTxs(t, store, "A"), 1, "one TRANSFER record, not two")

		// The single record explains both sides: negative for the sender,
		// positive for the recipient, and it shows in both histories.
		assert.Equal(t, studio.Money(-50_000), tx.SignedFor("A"))
		assert.Equal(t, studio.Money(50_000), tx.SignedFor("B"))

		forB, err := svc.TransactionsForAccount(context.Background(), "B")
		require.NoError(t, err)
		require.Len(t, forB, 1, "recipient sees the transfer in its history")
		assert.Equal(t, tx.ID, forB[0].ID)
	})
}

func TestTransfer_InsufficientFundsLeavesBalancesUntouched(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "A", 10_000)
		seedAccount(t, store, "B", 0)

		_, err := svc.Transfer(context.Background(), "A", "B", 50_000)

		require.ErrorIs(t, err, studio.ErrInsufficientFunds)
		var ife *studio.InsufficientFundsError
		require.ErrorAs(t, err, &ife)
		assert.Equal(t, studio.Money(10_000), ife.Available)
		assert.Equal(t, studio.Money(50_000), ife.Requested)

		assert.Equal(t, studio.Money(10_000), getAccount(t, store, "A").Balance)
		assert.Equal(t, studio.Money(0), getAccount(t, store, "B").Balance)
		assert.Empty(t, accountTxs(t, store, "A"), "no transaction recorded")
	})
}

func TestTransfer_SameAccountRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "A", 10_000)

		_, err := svc.Transfer(context.Background(), "A", "A", 1_000)
		assert.ErrorIs(t, err, studio.ErrInvalidInput)
	})
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestSettleBooking_Payment(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 0)
		seedBooking(t, store, "bk-1", 0)

		tx, err := svc.SettleBooking(context.Background(), "bk-1", 400_000, "acc-1")
		require.NoError(t, err)

		assert.Equal(t, studio.TxIncome, tx.Kind)
		assert.Equal(t, studio.Money(400_000), tx.Amount)
		assert.Equal(t, studio.Money(400_000), getAccount(t, store, "acc-1").Balance)
		assert.Equal(t, studio.Money(400_000), getBooking(t, store, "bk-1").PaidAmount)
	})
}

func TestSettleBooking_Refund(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 500_000)
		seedBooking(t, store, "bk-1", 400_000)

		tx, err := svc.SettleBooking(context.Background(), "bk-1", -150_000, "acc-1")
		require.NoError(t, err)

		assert.Equal(t, studio.TxExpense, tx.Kind)
		assert.Equal(t, studio.Money(150_000), tx.Amount, "magnitude stays positive")
		assert.Equal(t, studio.Money(350_000), getAccount(t, store, "acc-1").Balance)
		assert.Equal(t, studio.Money(250_000), getBooking(t, store, "bk-1").PaidAmount)
	})
}

func TestSettleBooking_RefundInsufficientFunds(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		// GIVEN: the booking was paid 400,000 but the account only holds 100,000
		// WHEN: refunding the full paid amount
		// THEN: InsufficientFunds, and the booking's paidAmount is unchanged
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 100_000)
		seedBooking(t, store, "bk-1", 400_000)

		_, err := svc.SettleBooking(context.Background(), "bk-1", -400_000, "acc-1")

		require.ErrorIs(t, err, studio.ErrInsufficientFunds)
		assert.Equal(t, studio.Money(400_000), getBooking(t, store, "bk-1").PaidAmount)
		assert.Equal(t, studio.Money(100_000), getAccount(t, store, "acc-1").Balance)
		assert.Empty(t, accountTxs(t, store, "acc-1"))
	})
}

func TestSettleBooking_RefundBeyondPaidRejected(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		// paidAmount must never be persisted negative.
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 1_000_000)
		seedBooking(t, store, "bk-1", 50_000)

		_, err := svc.SettleBooking(context.Background(), "bk-1", -60_000, "acc-1")

		require.ErrorIs(t, err, studio.ErrInvalidInput)
		assert.Equal(t, studio.Money(50_000), getBooking(t, store, "bk-1").PaidAmount)
	})
}

func TestSettleBooking_MissingBooking(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 0)

		_, err := svc.SettleBooking(context.Background(), "ghost", 10_000, "acc-1")
		assert.ErrorIs(t, err, studio.ErrBookingNotFound)
	})
}

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestBalanceEqualsSignedSumOfTransactions(t *testing.T) {
	eachStore(t, func(t *testing.T, store docstore.Store) {
		// After income, expense, refund, and a transfer, every account's
		// balance equals the signed sum of its history, received transfers
		// included.
		svc := ledger.New(store, zerolog.Nop())
		seedAccount(t, store, "acc-1", 0)
		seedAccount(t, store, "acc-2", 0)
		seedBooking(t, store, "bk-1", 0)

		ctx := context.Background()
		_, err := svc.RecordIncomeForBooking(ctx, "acc-1", 300_000, "bk-1", ledger.Meta{})
		require.NoError(t, err)
		_, err = svc.RecordExpense(ctx, "acc-1", 120_000, ledger.Meta{})
		require.NoError(t, err)
		_, err = svc.SettleBooking(ctx, "bk-1", -50_000, "acc-1")
		require.NoError(t, err)
		_, err = svc.Transfer(ctx, "acc-1", "acc-2", 40_000)
		require.NoError(t, err)

		for _, accountID := range []string{"acc-1", "acc-2"} {
			txs, err := svc.TransactionsForAccount(ctx, accountID)
			require.NoError(t, err)

			var sum studio.Money
			for _, tx := range txs {
				sum += tx.SignedFor(accountID)
			}
			assert.Equal(t, getAccount(t, store, accountID).Balance, sum, accountID)
		}
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func seedBooking(t *testing.T, store docstore.Store, id string, paid studio.Money) {
	t.Helper()
	err := store.Set(context.Background(), studio.CollectionBookings, id, studio.Booking{
		ID: id, OwnerID: "owner-1", Resource: "STUDIO_1",
		Date: "2024-01-10", TimeStart: "09:00", DurationHours: 2,
		Status: studio.StatusBooked, PaidAmount: paid,
	})
	require.NoError(t, err)
}

func getBooking(t *testing.T, store docstore.Store, id string) studio.Booking {
	t.Helper()
	var b studio.Booking
	require.NoError(t, store.Get(context.Background(), studio.CollectionBookings, id, &b))
	return b
}
