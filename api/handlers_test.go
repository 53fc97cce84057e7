package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/api"
	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/config"
	"github.com/warp/studio-engine/docstore/memory"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/studio"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := zerolog.Nop()
	led := ledger.New(store, log)
	svc := booking.New(store, led, booking.Config{
		BufferMinutes:  15,
		TaxRatePercent: decimal.NewFromInt(11),
	}, log)

	studioCfg := config.Default().Studio
	h := api.NewHandler(store, svc, led, studioCfg, log)
	ts := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func bookingPayload(id, start string) map[string]any {
	return map[string]any{
		"booking": map[string]any{
			"id":             id,
			"owner_id":       "owner-1",
			"resource":       "STUDIO_1",
			"date":           "2024-01-10",
			"time_start":     start,
			"duration_hours": 2,
			"status":         "BOOKED",
			"client_name":    "Ayu",
			"items": []map[string]any{
				{"description": "Session", "quantity": 1, "unit_price": 1000000, "total": 1000000},
			},
		},
	}
}

// =============================================================================
// BOOKING LIFECYCLE
// =============================================================================

func TestBookingLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	// Create returns the booking with derived totals.
	var created api.BookingResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b1", "09:00"), &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, studio.Money(1_110_000), created.Totals.Total, "11% tax on 1,000,000")
	assert.False(t, created.Settled)

	// Get echoes it back.
	var fetched api.BookingResponse
	code = doJSON(t, http.MethodGet, ts.URL+"/api/bookings/b1", nil, &fetched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "b1", fetched.Booking.ID)

	// List by owner.
	var listed []api.BookingResponse
	code = doJSON(t, http.MethodGet, ts.URL+"/api/bookings?owner_id=owner-1", nil, &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, listed, 1)

	// Delete, then 404.
	code = doJSON(t, http.MethodDelete, ts.URL+"/api/bookings/b1", nil, nil)
	require.Equal(t, http.StatusNoContent, code)
	code = doJSON(t, http.MethodGet, ts.URL+"/api/bookings/b1", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateBooking_ConflictMapsTo409(t *testing.T) {
	ts, _ := newTestServer(t)

	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b1", "09:00"), nil)
	require.Equal(t, http.StatusCreated, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b2", "10:30"), nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateBooking_ValidationMapsTo400(t *testing.T) {
	ts, _ := newTestServer(t)

	bad := bookingPayload("b1", "25:99")
	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bad, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConflictCheck_Endpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b1", "09:00"), nil)
	require.Equal(t, http.StatusCreated, code)

	candidate := bookingPayload("b2", "10:30")["booking"]
	var check api.ConflictCheckResponse
	code = doJSON(t, http.MethodPost, ts.URL+"/api/bookings/check", candidate, &check)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, check.Conflict)
	require.NotNil(t, check.With)
	assert.Equal(t, "b1", check.With.ID)

	free := bookingPayload("b3", "11:15")["booking"]
	code = doJSON(t, http.MethodPost, ts.URL+"/api/bookings/check", free, &check)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, check.Conflict)
}

func TestUpdateBooking_ReturnsEvents(t *testing.T) {
	ts, store := newTestServer(t)

	require.NoError(t, store.Set(context.Background(), studio.CollectionRules, "r1", studio.AutomationRule{
		ID: "r1", OwnerID: "owner-1", Trigger: studio.StatusShooting, TaskTitles: []string{"Format cards"},
	}))

	var created api.BookingResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b1", "09:00"), &created)
	require.Equal(t, http.StatusCreated, code)

	updated := created.Booking
	updated.Status = studio.StatusShooting

	var resp api.UpdateBookingResponse
	code = doJSON(t, http.MethodPut, ts.URL+"/api/bookings/b1", updated, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, booking.EventTasksInjected, resp.Events[0].Kind)
	assert.Len(t, resp.Booking.Tasks, 1)
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

func TestSettleAndInvoice(t *testing.T) {
	ts, store := newTestServer(t)

	require.NoError(t, store.Set(context.Background(), studio.CollectionAccounts, "acc-1", studio.Account{
		ID: "acc-1", OwnerID: "owner-1", Name: "Cash",
	}))

	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b1", "09:00"), nil)
	require.Equal(t, http.StatusCreated, code)

	// Pay within tolerance of the 1,110,000 total.
	var tx studio.Transaction
	code = doJSON(t, http.MethodPost, ts.URL+"/api/bookings/b1/settle",
		api.SettleRequest{AccountID: "acc-1", Amount: 1_109_950}, &tx)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, studio.TxIncome, tx.Kind)

	var inv api.InvoiceResponse
	code = doJSON(t, http.MethodGet, ts.URL+"/api/bookings/b1/invoice", nil, &inv)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, studio.Money(1_110_000), inv.Totals.Total)
	assert.Equal(t, studio.Money(50), inv.Totals.BalanceDue)
	assert.True(t, inv.Settled)
}

func TestSettle_RefundBeyondBalanceMapsTo422(t *testing.T) {
	ts, store := newTestServer(t)

	require.NoError(t, store.Set(context.Background(), studio.CollectionAccounts, "acc-1", studio.Account{
		ID: "acc-1", Name: "Cash",
	}))
	code := doJSON(t, http.MethodPost, ts.URL+"/api/bookings", bookingPayload("b1", "09:00"), nil)
	require.Equal(t, http.StatusCreated, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/bookings/b1/settle",
		api.SettleRequest{AccountID: "acc-1", Amount: -500}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestAccountsAndTransfers(t *testing.T) {
	ts, _ := newTestServer(t)

	var cash, bank studio.Account
	code := doJSON(t, http.MethodPost, ts.URL+"/api/accounts",
		api.CreateAccountRequest{OwnerID: "owner-1", Name: "Cash"}, &cash)
	require.Equal(t, http.StatusCreated, code)
	code = doJSON(t, http.MethodPost, ts.URL+"/api/accounts",
		api.CreateAccountRequest{OwnerID: "owner-1", Name: "Bank"}, &bank)
	require.Equal(t, http.StatusCreated, code)

	// Empty accounts can't fund a transfer.
	code = doJSON(t, http.MethodPost, ts.URL+"/api/transfers",
		api.TransferRequest{FromAccountID: cash.ID, ToAccountID: bank.ID, Amount: 100}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// Unknown account is a 404.
	code = doJSON(t, http.MethodPost, ts.URL+"/api/transfers",
		api.TransferRequest{FromAccountID: "ghost", ToAccountID: bank.ID, Amount: 100}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	var fetched studio.Account
	code = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/accounts/%s", ts.URL, cash.ID), nil, &fetched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Cash", fetched.Name)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestPackagesAndRules(t *testing.T) {
	ts, _ := newTestServer(t)

	var pkg studio.Package
	code := doJSON(t, http.MethodPost, ts.URL+"/api/packages", studio.Package{
		OwnerID: "owner-1", Name: "Family Session", Price: 750_000, DurationHours: 2,
	}, &pkg)
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, pkg.ID)

	var pkgs []studio.Package
	code = doJSON(t, http.MethodGet, ts.URL+"/api/packages?owner_id=owner-1", nil, &pkgs)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, pkgs, 1)

	// A rule with an unknown trigger is rejected.
	code = doJSON(t, http.MethodPost, ts.URL+"/api/rules", map[string]any{
		"owner_id": "owner-1", "trigger": "DANCING", "task_titles": []string{"x"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = doJSON(t, http.MethodPost, ts.URL+"/api/rules", studio.AutomationRule{
		OwnerID: "owner-1", Trigger: studio.StatusEditing, TaskTitles: []string{"Cull selects"},
	}, nil)
	assert.Equal(t, http.StatusCreated, code)
}
