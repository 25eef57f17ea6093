package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
)

type Ledger interface {
	ListByRoomAndRange(ctx context.Context, roomID string, start, end time.Time, exclude []domain.BookingStatus) ([]domain.Booking, error)
}

// Checker answers whether a slot is free. The answer is advisory: the ledger write still
// has to reject a conflicting insert on its own.
type Checker struct {
	ledger Ledger
}

func NewChecker(ledger Ledger) *Checker {
	return &Checker{ledger: ledger}
}

func (c *Checker) IsAvailable(ctx context.Context, roomID string, start, end time.Time) (bool, error) {
	existing, err := c.Conflicts(ctx, roomID, start, end)
	if err != nil {
		return false, err
	}
	return len(existing) == 0, nil
}

// Conflicts lists the active bookings that overlap [start, end).
func (c *Checker) Conflicts(ctx context.Context, roomID string, start, end time.Time) ([]domain.Booking, error) {
	bookings, err := c.ledger.ListByRoomAndRange(ctx, roomID, start, end, []domain.BookingStatus{domain.BookingStatusCancelled})
	if err != nil {
		return nil, fmt.Errorf("%w: list bookings for room %s: %v", domain.ErrTransientDependency, roomID, err)
	}

	out := bookings[:0]
	for _, b := range bookings {
		if b.Status.Active() && b.Overlaps(start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}
