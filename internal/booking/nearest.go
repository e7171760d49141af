// internal/booking/nearest.go
package booking

import (
	"bytes"
	"time"
)

// ResolveNearest picks, from an unordered item history, the booking that
// started most recently before now and the one starting soonest after now.
// A booking that starts exactly at now is neither. Rejected and canceled
// bookings never count. On equal starts the lowest id wins.
func ResolveNearest(bookings []Booking, now time.Time) Nearest {
	var last, next *Booking

	for i := range bookings {
		b := &bookings[i]
		if b.Status == StatusRejected || b.Status == StatusCanceled {
			continue
		}

		switch {
		case b.Start.Before(now):
			if last == nil || b.Start.After(last.Start) || (b.Start.Equal(last.Start) && lowerID(b, last)) {
				last = b
			}
		case b.Start.After(now):
			if next == nil || b.Start.Before(next.Start) || (b.Start.Equal(next.Start) && lowerID(b, next)) {
				next = b
			}
		}
	}

	return Nearest{Last: clone(last), Next: clone(next)}
}

func lowerID(a, b *Booking) bool {
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func clone(b *Booking) *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
