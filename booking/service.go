/*
Package booking orchestrates the scheduling pipeline.

PURPOSE:
  BookingService ties the pure pieces together: it consults the conflict
  detector before anything is written, runs the initial deposit through the
  ledger inside the same atomic unit as the booking create, asks the
  automation engine for tasks on status changes, and cascades a booking's
  transactions on delete.

EVENTS:
  Side effects the core must not perform itself (refund prompts, toasts)
  are modeled as emitted Event values: Update returns what happened and the
  caller decides how to act. The core never calls UI code.

CASCADE DELETE:
  Delete is a BATCH, not a transaction. Booking-gone-but-transactions-left
  (or the reverse) is possible on failure and is surfaced as a
  studio.CascadeError, never ignored.
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/docstore"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/metrics"
	"github.com/warp/studio-engine/studio"
)

// =============================================================================
// EVENTS - Emitted by Update for the caller to act on
// =============================================================================

type EventKind string

const (
	// EventCancellationWithOutstandingPayment fires when a booking moves to
	// CANCELLED while money has been paid against it. The caller decides
	// whether to offer a refund; the core only reports the fact.
	EventCancellationWithOutstandingPayment EventKind = "cancellation_with_outstanding_payment"

	// EventTasksInjected fires when a status change appended automation tasks.
	EventTasksInjected EventKind = "tasks_injected"
)

type Event struct {
	Kind      EventKind
	BookingID string

	// PaidAmount accompanies the cancellation event.
	PaidAmount studio.Money

	// Tasks accompanies the injection event.
	Tasks []studio.BookingTask
}

// =============================================================================
// SERVICE
// =============================================================================

// InitialPayment is an optional deposit taken at booking creation, performed
// through the ledger in the same atomic unit as the create.
type InitialPayment struct {
	AccountID   string
	Amount      studio.Money
	Description string
}

// Config carries the studio-wide defaults the service applies.
type Config struct {
	// BufferMinutes is appended to the end of every booking window before
	// the resource is considered free again.
	BufferMinutes int

	// TaxRatePercent is snapshotted onto bookings created without one.
	TaxRatePercent decimal.Decimal

	// SettledTolerance is the balance-due slack under which a booking counts
	// as fully paid.
	SettledTolerance studio.Money
}

// Service orchestrates bookings over the document store.
type Service struct {
	store  docstore.Store
	ledger *ledger.Service
	cfg    Config
	log    zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a booking service.
func New(store docstore.Store, led *ledger.Service, cfg Config, log zerolog.Logger) *Service {
	if cfg.SettledTolerance == 0 {
		cfg.SettledTolerance = studio.DefaultSettledTolerance
	}
	return &Service{
		store:  store,
		ledger: led,
		cfg:    cfg,
		log:    log.With().Str("component", "booking").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates and persists a new booking. On a slot conflict it aborts
// with a ConflictError before any write. When an initial payment is
// attached, the booking create and the ledger income commit as one atomic
// transaction; otherwise it is a plain create.
func (s *Service) Create(ctx context.Context, b *studio.Booking, pay *InitialPayment) error {
	if b.ID == "" {
		b.ID = s.newID()
	}
	if b.Status == "" {
		b.Status = studio.StatusInquiry
	}
	now := s.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	if b.TaxRateSnapshot == nil {
		rate := s.cfg.TaxRatePercent
		b.TaxRateSnapshot = &rate
	}
	if err := s.seedFromPackage(ctx, b); err != nil {
		return err
	}
	if err := studio.ValidateBooking(*b); err != nil {
		return err
	}
	if pay != nil && pay.Amount <= 0 {
		return &studio.ValidationError{Field: "initial_payment", Reason: "amount must be positive"}
	}

	b.Activity = append(b.Activity, studio.ActivityEntry{At: now, Message: "booking created"})

	// The conflict check runs inside the transaction: two concurrent creates
	// of the same slot both re-run their check against the committed state,
	// so one of them aborts instead of both landing.
	err := s.store.RunTransaction(ctx, func(t docstore.Tx) error {
		if err := s.checkSlot(ctx, t, *b); err != nil {
			return err
		}
		if pay != nil {
			b.PaidAmount = pay.Amount
		}
		if err := t.Set(ctx, studio.CollectionBookings, b.ID, b); err != nil {
			return err
		}
		if pay == nil {
			return nil
		}
		desc := pay.Description
		if desc == "" {
			desc = fmt.Sprintf("deposit for booking %s", b.ID)
		}
		_, err := s.ledger.IncomeWithin(ctx, t, pay.AccountID, pay.Amount, b.ID, ledger.Meta{
			Description: desc,
			Category:    "booking",
			OwnerID:     b.OwnerID,
		})
		return err
	})
	if err != nil {
		if pay != nil {
			b.PaidAmount = 0
		}
		if errors.Is(err, studio.ErrBookingConflict) {
			metrics.IncConflictRejected()
		}
		return err
	}

	metrics.IncBookingCreated()
	ev := s.log.Info().Str("booking", b.ID).Str("resource", b.Resource).Str("date", b.Date)
	if pay != nil {
		ev = ev.Int64("deposit", int64(pay.Amount))
	}
	ev.Msg("booking created")
	return nil
}

// seedFromPackage fills items and tasks from the booking's package when the
// booking doesn't bring its own.
func (s *Service) seedFromPackage(ctx context.Context, b *studio.Booking) error {
	if b.PackageID == "" {
		return nil
	}
	var pkg studio.Package
	if err := s.store.Get(ctx, studio.CollectionPackages, b.PackageID, &pkg); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", studio.ErrPackageNotFound, b.PackageID)
		}
		return err
	}
	if len(b.Items) == 0 {
		b.Items = []studio.LineItem{{
			Description: pkg.Name,
			Quantity:    1,
			UnitPrice:   pkg.Price,
			Total:       pkg.Price,
		}}
		b.PackagePrice = pkg.Price
	}
	if len(b.Tasks) == 0 {
		b.Tasks = studio.TasksFromPackage(pkg)
	}
	if b.DurationHours == 0 {
		b.DurationHours = pkg.DurationHours
	}
	return nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update persists booking edits. When the status changed, automation tasks
// are appended before persisting and the returned events tell the caller
// what side decisions are now theirs (e.g. a refund prompt). When the
// window moved, the conflict check re-runs, excluding the booking itself.
func (s *Service) Update(ctx context.Context, b *studio.Booking) ([]Event, error) {
	if err := studio.ValidateBooking(*b); err != nil {
		return nil, err
	}

	// The whole read-merge-write runs in one transaction: a settlement that
	// commits between the read and the write bumps the booking's version and
	// this body re-runs against the fresh paid amount instead of restoring a
	// stale one.
	var events []Event
	var saved studio.Booking
	err := s.store.RunTransaction(ctx, func(t docstore.Tx) error {
		var prev studio.Booking
		if err := t.Get(ctx, studio.CollectionBookings, b.ID, &prev); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", studio.ErrBookingNotFound, b.ID)
			}
			return err
		}

		// Each attempt rebuilds from the caller's edit, so a retried body
		// never appends tasks or activity twice.
		next := *b
		next.Tasks = append([]studio.BookingTask(nil), b.Tasks...)
		next.Activity = append([]studio.ActivityEntry(nil), b.Activity...)
		events = nil

		// PaidAmount is ledger-owned; edits through Update are ignored.
		next.PaidAmount = prev.PaidAmount
		next.CreatedAt = prev.CreatedAt

		if moved(prev, next) {
			if err := s.checkSlot(ctx, t, next); err != nil {
				return err
			}
		}

		now := s.now().UTC()

		if prev.Status != next.Status && !prev.Status.Terminal() {
			rules, err := s.rulesFor(ctx, t, next.OwnerID)
			if err != nil {
				return err
			}
			if tasks := studio.TasksFor(next.Status, rules); len(tasks) > 0 {
				next.Tasks = append(next.Tasks, tasks...)
				events = append(events, Event{
					Kind:      EventTasksInjected,
					BookingID: next.ID,
					Tasks:     tasks,
				})
			}
		}
		if prev.Status != next.Status {
			next.Activity = append(next.Activity, studio.ActivityEntry{
				At:      now,
				Message: fmt.Sprintf("status changed %s -> %s", prev.Status, next.Status),
			})
			if next.Status == studio.StatusCancelled && next.PaidAmount > 0 {
				events = append(events, Event{
					Kind:       EventCancellationWithOutstandingPayment,
					BookingID:  next.ID,
					PaidAmount: next.PaidAmount,
				})
			}
		}

		next.UpdatedAt = now
		if err := t.Set(ctx, studio.CollectionBookings, next.ID, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		if errors.Is(err, studio.ErrBookingConflict) {
			metrics.IncConflictRejected()
		}
		return nil, err
	}

	*b = saved
	s.log.Info().Str("booking", b.ID).Str("status", string(b.Status)).Msg("booking updated")
	return events, nil
}

func moved(prev, next studio.Booking) bool {
	return prev.Resource != next.Resource ||
		prev.Date != next.Date ||
		prev.TimeStart != next.TimeStart ||
		prev.DurationHours != next.DurationHours
}

// =============================================================================
// DELETE - Cascade over the booking's transactions
// =============================================================================

// Delete removes a booking and every transaction referencing it in one
// batch. The batch is not atomic: on failure the returned CascadeError
// names what was deleted and what remains, so the caller can retry.
func (s *Service) Delete(ctx context.Context, id string) error {
	var b studio.Booking
	if err := s.store.Get(ctx, studio.CollectionBookings, id, &b); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", studio.ErrBookingNotFound, id)
		}
		return err
	}

	var txs []studio.Transaction
	q := docstore.NewQuery(studio.CollectionTransactions).Where("booking_id", id)
	if err := s.store.Query(ctx, q, &txs); err != nil {
		return err
	}

	batch := s.store.Batch()
	for _, tx := range txs {
		batch.Delete(studio.CollectionTransactions, tx.ID)
	}
	batch.Delete(studio.CollectionBookings, id)

	if err := batch.Apply(ctx); err != nil {
		metrics.IncCascadeIncomplete()
		var deleted, remaining []string
		var be *docstore.BatchError
		if errors.As(err, &be) {
			for i, tx := range txs {
				if i < be.Applied {
					deleted = append(deleted, tx.ID)
				} else {
					remaining = append(remaining, tx.ID)
				}
			}
		}
		cascade := &studio.CascadeError{
			BookingID:    id,
			DeletedTxIDs: deleted,
			RemainingIDs: remaining,
			Err:          err,
		}
		s.log.Warn().Str("booking", id).Int("remaining", len(remaining)).
			Msg("cascade delete incomplete")
		return cascade
	}

	s.log.Info().Str("booking", id).Int("transactions", len(txs)).Msg("booking deleted")
	return nil
}

// =============================================================================
// READS & CHECKS
// =============================================================================

// Get returns a booking by id.
func (s *Service) Get(ctx context.Context, id string) (*studio.Booking, error) {
	var b studio.Booking
	if err := s.store.Get(ctx, studio.CollectionBookings, id, &b); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", studio.ErrBookingNotFound, id)
		}
		return nil, err
	}
	return &b, nil
}

// List returns an owner's bookings.
func (s *Service) List(ctx context.Context, ownerID string) ([]studio.Booking, error) {
	var bookings []studio.Booking
	q := docstore.NewQuery(studio.CollectionBookings).Where("owner_id", ownerID)
	if err := s.store.Query(ctx, q, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// CheckConflict reports the booking the candidate would collide with, or
// nil when the slot is free. Exposed for pre-flight UI checks; Create and
// Update run the same logic themselves.
func (s *Service) CheckConflict(ctx context.Context, candidate studio.Booking) (*studio.Booking, error) {
	existing, err := s.sameSlot(ctx, s.store, candidate)
	if err != nil {
		return nil, err
	}
	return studio.FindConflict(candidate, existing, s.cfg.BufferMinutes)
}

// Totals computes the invoice amounts for a booking using the studio-wide
// fallback rate. Every money surface goes through here.
func (s *Service) Totals(ctx context.Context, id string) (studio.Totals, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return studio.Totals{}, err
	}
	return studio.ComputeTotals(*b, s.cfg.TaxRatePercent), nil
}

// checkSlot queries the same-day bookings for the candidate's resource and
// aborts with a ConflictError when the window is taken.
func (s *Service) checkSlot(ctx context.Context, r docstore.Reader, candidate studio.Booking) error {
	existing, err := s.sameSlot(ctx, r, candidate)
	if err != nil {
		return err
	}
	hit, err := studio.FindConflict(candidate, existing, s.cfg.BufferMinutes)
	if err != nil {
		return err
	}
	if hit == nil {
		return nil
	}

	_, end, _ := studio.Window(*hit, s.cfg.BufferMinutes)
	return &studio.ConflictError{
		Resource:      candidate.Resource,
		Date:          candidate.Date,
		WithID:        hit.ID,
		WithClient:    hit.ClientName,
		WithStart:     hit.TimeStart,
		WithEndMinute: end,
	}
}

func (s *Service) sameSlot(ctx context.Context, r docstore.Reader, candidate studio.Booking) ([]studio.Booking, error) {
	var existing []studio.Booking
	q := docstore.NewQuery(studio.CollectionBookings).
		Where("resource", candidate.Resource).
		Where("date", candidate.Date)
	if err := r.Query(ctx, q, &existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// rulesFor loads an owner's automation rules through the given reader, so a
// transactional caller sees a consistent view.
func (s *Service) rulesFor(ctx context.Context, r docstore.Reader, ownerID string) ([]studio.AutomationRule, error) {
	var rules []studio.AutomationRule
	q := docstore.NewQuery(studio.CollectionRules).Where("owner_id", ownerID)
	if err := r.Query(ctx, q, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}
