/*
handlers.go - HTTP API handlers for the studio engine

PURPOSE:
  Exposes the scheduling and ledger engine via REST. Handles HTTP
  request/response and JSON serialization, and delegates to the core
  services. The core packages never import net/http.

ENDPOINTS:
  Bookings:
    GET    /api/bookings?owner_id=     List an owner's bookings
    POST   /api/bookings               Create (optional initial deposit)
    GET    /api/bookings/{id}          Get booking + derived totals
    PUT    /api/bookings/{id}          Update; returns emitted events
    DELETE /api/bookings/{id}          Cascade delete
    POST   /api/bookings/check         Pre-flight conflict check
    GET    /api/bookings/{id}/invoice  Invoice amounts
    POST   /api/bookings/{id}/settle   Payment (+) or refund (-)

  Ledger:
    POST   /api/accounts                     Create account
    GET    /api/accounts/{id}                Get account
    GET    /api/accounts/{id}/transactions   Transaction history
    POST   /api/transfers                    Move funds between accounts
    POST   /api/expenses                     Record an expense

  Catalog:
    GET/POST /api/packages             Booking packages
    GET/POST /api/rules                Workflow automation rules

ERROR HANDLING:
  Core errors map to status codes by class, never by string matching:
  - 400: studio.ErrInvalidInput
  - 404: studio.IsNotFound
  - 409: studio.ErrBookingConflict
  - 422: studio.ErrInsufficientFunds
  - 500: everything else (including cascade inconsistencies, which carry
         their detail in the body so the caller can retry)
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/config"
	"github.com/warp/studio-engine/docstore"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/studio"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    docstore.Store
	Bookings *booking.Service
	Ledger   *ledger.Service
	Studio   config.StudioConfig
	Log      zerolog.Logger
}

// NewHandler wires the handler with its services.
func NewHandler(store docstore.Store, bookings *booking.Service, led *ledger.Service, studioCfg config.StudioConfig, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Bookings: bookings,
		Ledger:   led,
		Studio:   studioCfg,
		Log:      log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}

	var pay *booking.InitialPayment
	if req.Payment != nil {
		pay = &booking.InitialPayment{
			AccountID:   req.Payment.AccountID,
			Amount:      req.Payment.Amount,
			Description: req.Payment.Description,
		}
	}

	if err := h.Bookings.Create(r.Context(), &req.Booking, pay); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.bookingResponse(req.Booking))
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		h.badRequest(w, "owner_id query parameter is required")
		return
	}
	bookings, err := h.Bookings.List(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, h.bookingResponse(b))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.bookingResponse(*b))
}

func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	var b studio.Booking
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	b.ID = chi.URLParam(r, "id")

	events, err := h.Bookings.Update(r.Context(), &b)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := UpdateBookingResponse{Booking: b}
	for _, e := range events {
		resp.Events = append(resp.Events, EventDTO{
			Kind:       e.Kind,
			BookingID:  e.BookingID,
			PaidAmount: e.PaidAmount,
			Tasks:      e.Tasks,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Bookings.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CheckConflict(w http.ResponseWriter, r *http.Request) {
	var candidate studio.Booking
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	hit, err := h.Bookings.CheckConflict(r.Context(), candidate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ConflictCheckResponse{Conflict: hit != nil, With: hit})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.Bookings.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	totals := studio.ComputeTotals(*b, h.taxRate())
	h.writeJSON(w, http.StatusOK, InvoiceResponse{
		BookingID:  id,
		Totals:     totals,
		TaxRate:    h.effectiveRate(*b),
		PaidAmount: b.PaidAmount,
		Settled:    totals.SettledWithin(studio.Money(h.Studio.SettledToleranceMinorUnits)),
	})
}

func (h *Handler) SettleBooking(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	tx, err := h.Ledger.SettleBooking(r.Context(), chi.URLParam(r, "id"), req.Amount, req.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// =============================================================================
// LEDGER
// =============================================================================

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	if req.Name == "" {
		h.badRequest(w, "name is required")
		return
	}
	account := studio.Account{
		ID:      uuid.NewString(),
		OwnerID: req.OwnerID,
		Name:    req.Name,
	}
	if err := h.Store.Set(r.Context(), studio.CollectionAccounts, account.ID, account); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	var account studio.Account
	err := h.Store.Get(r.Context(), studio.CollectionAccounts, chi.URLParam(r, "id"), &account)
	if errors.Is(err, docstore.ErrNotFound) {
		h.writeError(w, studio.ErrAccountNotFound)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.TransactionsForAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	tx, err := h.Ledger.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	tx, err := h.Ledger.RecordExpense(r.Context(), req.AccountID, req.Amount, ledger.Meta{
		Description: req.Description,
		Category:    req.Category,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// =============================================================================
// CATALOG - Packages and automation rules (plain last-writer-wins writes)
// =============================================================================

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var pkg studio.Package
	if err := json.NewDecoder(r.Body).Decode(&pkg); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	if pkg.Name == "" || pkg.Price < 0 {
		h.badRequest(w, "package needs a name and a non-negative price")
		return
	}
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	if err := h.Store.Set(r.Context(), studio.CollectionPackages, pkg.ID, pkg); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, pkg)
}

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	h.listByOwner(w, r, studio.CollectionPackages, &[]studio.Package{})
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule studio.AutomationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.badRequest(w, "malformed JSON body")
		return
	}
	if !rule.Trigger.Valid() {
		h.badRequest(w, "unknown trigger status")
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := h.Store.Set(r.Context(), studio.CollectionRules, rule.ID, rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	h.listByOwner(w, r, studio.CollectionRules, &[]studio.AutomationRule{})
}

func (h *Handler) listByOwner(w http.ResponseWriter, r *http.Request, collection string, out any) {
	q := docstore.NewQuery(collection)
	if ownerID := r.URL.Query().Get("owner_id"); ownerID != "" {
		q = q.Where("owner_id", ownerID)
	}
	if err := h.Store.Query(r.Context(), q, out); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) taxRate() decimal.Decimal {
	return decimal.NewFromFloat(h.Studio.TaxRatePercent)
}

func (h *Handler) effectiveRate(b studio.Booking) decimal.Decimal {
	if b.TaxRateSnapshot != nil {
		return *b.TaxRateSnapshot
	}
	return h.taxRate()
}

func (h *Handler) bookingResponse(b studio.Booking) BookingResponse {
	totals := studio.ComputeTotals(b, h.taxRate())
	return BookingResponse{
		Booking: b,
		Totals:  totals,
		Settled: totals.SettledWithin(studio.Money(h.Studio.SettledToleranceMinorUnits)),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warn().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) badRequest(w http.ResponseWriter, details string) {
	h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Details: details})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, studio.ErrInvalidInput):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Details: err.Error()})
	case studio.IsNotFound(err):
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Details: err.Error()})
	case errors.Is(err, studio.ErrBookingConflict):
		h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: "booking_conflict", Details: err.Error()})
	case errors.Is(err, studio.ErrInsufficientFunds):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "insufficient_funds", Details: err.Error()})
	default:
		h.Log.Error().Err(err).Msg("internal error")
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Details: err.Error()})
	}
}
