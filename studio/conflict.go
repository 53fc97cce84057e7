/*
conflict.go - Resource double-booking detection

PURPOSE:
  Decides whether a proposed booking's time window overlaps an existing
  booking on the same resource and date. Consulted by the booking service
  before any write; on conflict the operation aborts with nothing persisted.

WINDOW MODEL:
  Times are minutes from midnight. A booking's window is
  [start, start + duration*60 + buffer). The buffer is appended to the END
  of each window only - not before the start. The asymmetry is a defined
  policy (cleanup/reset time after a session), not a bug to fix.

EXCLUSIONS:
  - Cancelled bookings hold no resource and never conflict.
  - On update, the candidate's own id is excluded from comparison.

LIMITS:
  Cross-midnight windows are outside this arithmetic. Validation rejects
  them before they reach the detector (see validate.go).
*/
package studio

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const minutesPerDay = 24 * 60

// ParseClock converts an "HH:MM" 24-hour time to minutes from midnight.
func ParseClock(hhmm string) (int, error) {
	h, m, ok := splitClock(hhmm)
	if !ok {
		return 0, fmt.Errorf("malformed time %q: want HH:MM", hhmm)
	}
	return h*60 + m, nil
}

func splitClock(hhmm string) (h, m int, ok bool) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

// DurationMinutes converts a booking's fractional hour duration to minutes.
func DurationMinutes(hours float64) int {
	return int(math.Round(hours * 60))
}

// Window returns [start, end) in minutes from midnight, buffer appended to
// the end. Errors only on a malformed start time.
func Window(b Booking, bufferMinutes int) (start, end int, err error) {
	start, err = ParseClock(b.TimeStart)
	if err != nil {
		return 0, 0, err
	}
	end = start + DurationMinutes(b.DurationHours) + bufferMinutes
	return start, end, nil
}

// FindConflict returns the first existing booking whose window overlaps the
// candidate's, or nil when the slot is free. existing should hold the
// bookings already scheduled on the candidate's resource and date; cancelled
// entries and the candidate itself are skipped here regardless.
//
// Overlap rule: candStart < exEnd && candEnd > exStart. Exactly adjacent
// windows (candidate starting the minute an existing one ends, buffer
// included) do not conflict.
func FindConflict(candidate Booking, existing []Booking, bufferMinutes int) (*Booking, error) {
	candStart, candEnd, err := Window(candidate, bufferMinutes)
	if err != nil {
		return nil, &ValidationError{Field: "time_start", Reason: err.Error()}
	}

	for i := range existing {
		other := &existing[i]
		if other.ID == candidate.ID || other.Status == StatusCancelled {
			continue
		}
		if other.Resource != candidate.Resource || other.Date != candidate.Date {
			continue
		}
		otherStart, otherEnd, err := Window(*other, bufferMinutes)
		if err != nil {
			// A stored booking with an unparsable time can't be placed on the
			// timeline; skip it rather than block every new booking.
			continue
		}
		if candStart < otherEnd && candEnd > otherStart {
			return other, nil
		}
	}
	return nil, nil
}

// HasConflict is the boolean convenience over FindConflict.
func HasConflict(candidate Booking, existing []Booking, bufferMinutes int) (bool, error) {
	hit, err := FindConflict(candidate, existing, bufferMinutes)
	return hit != nil, err
}
