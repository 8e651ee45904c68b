// Package reservation holds the reservation status lifecycle.
package reservation

import (
	"errors"
	"fmt"

	"github.com/example/limpio/internal/models"
)

// ErrInvalidTransition is returned for status changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[models.ReservationStatus][]models.ReservationStatus{
	models.StatusPending:    {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled},
}

// ParseStatus validates a client-supplied status string.
func ParseStatus(s string) (models.ReservationStatus, bool) {
	switch st := models.ReservationStatus(s); st {
	case models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled:
		return st, true
	}
	return "", false
}

// CanTransition reports whether from -> to is allowed. Completed and
// cancelled reservations are terminal.
func CanTransition(from, to models.ReservationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition checks the move and returns a wrapped ErrInvalidTransition.
func Transition(from, to models.ReservationStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether no further transitions exist from s.
func IsTerminal(s models.ReservationStatus) bool {
	return len(transitions[s]) == 0
}
