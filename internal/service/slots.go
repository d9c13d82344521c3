package service

import (
	"context"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/quote"
	"booking-service/internal/util"
)

const minutesPerDay = 24 * 60

// GetAvailableSlots returns the provider's bookable slots for a date: the
// open intervals minus every non-cancelled booking, tiled into fixed-duration
// slots. Partial remainders shorter than the duration are dropped.
func (s *BookingService) GetAvailableSlots(ctx context.Context, providerID, date string, slotDurationMinutes int) ([]models.TimeSlot, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.GetAvailableSlots")
	defer span.End()

	if slotDurationMinutes <= 0 {
		return nil, apperr.BadRequest("slot duration must be positive")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, apperr.BadRequest("invalid date %q, expected YYYY-MM-DD", date)
	}

	open, err := s.quotes.GetOpenIntervals(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open intervals: %w", err)
	}

	dayEnd := day.Add(minutesPerDay * time.Minute)
	bookings, err := s.store.ListActiveBookingsInRange(ctx, providerID, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	busy := make([]quote.MinuteInterval, 0, len(bookings))
	for _, b := range bookings {
		iv, ok := clipToDay(b.SlotStart, b.SlotEnd, day)
		if ok {
			busy = append(busy, iv)
		}
	}

	free := subtractIntervals(open, busy)

	var slots []models.TimeSlot
	for _, iv := range free {
		for start := iv.StartMinutes; start+slotDurationMinutes <= iv.EndMinutes; start += slotDurationMinutes {
			slots = append(slots, models.TimeSlot{
				Start: day.Add(time.Duration(start) * time.Minute),
				End:   day.Add(time.Duration(start+slotDurationMinutes) * time.Minute),
			})
		}
	}
	return slots, nil
}

// clipToDay converts a booking's [start, end) to minutes from the day's
// midnight, clipped to [0, 1440). Bookings entirely outside the day vanish.
func clipToDay(start, end time.Time, day time.Time) (quote.MinuteInterval, bool) {
	startMin := int(start.Sub(day) / time.Minute)
	endMin := int(end.Sub(day) / time.Minute)

	if startMin < 0 {
		startMin = 0
	}
	if endMin > minutesPerDay {
		endMin = minutesPerDay
	}
	if endMin <= startMin {
		return quote.MinuteInterval{}, false
	}
	return quote.MinuteInterval{StartMinutes: startMin, EndMinutes: endMin}, true
}

// subtractIntervals removes every busy interval from the open ones. All
// intervals are half-open, so adjacency ([a,b) next to [b,c)) does not
// exclude anything.
func subtractIntervals(open, busy []quote.MinuteInterval) []quote.MinuteInterval {
	result := make([]quote.MinuteInterval, 0, len(open))
	for _, iv := range open {
		if iv.EndMinutes <= iv.StartMinutes {
			continue
		}
		pieces := []quote.MinuteInterval{iv}
		for _, b := range busy {
			pieces = subtractOne(pieces, b)
		}
		result = append(result, pieces...)
	}
	return result
}

func subtractOne(pieces []quote.MinuteInterval, b quote.MinuteInterval) []quote.MinuteInterval {
	var out []quote.MinuteInterval
	for _, p := range pieces {
		// No overlap: touching endpoints are fine under half-open semantics.
		if b.EndMinutes <= p.StartMinutes || b.StartMinutes >= p.EndMinutes {
			out = append(out, p)
			continue
		}
		if b.StartMinutes > p.StartMinutes {
			out = append(out, quote.MinuteInterval{StartMinutes: p.StartMinutes, EndMinutes: b.StartMinutes})
		}
		if b.EndMinutes < p.EndMinutes {
			out = append(out, quote.MinuteInterval{StartMinutes: b.EndMinutes, EndMinutes: p.EndMinutes})
		}
	}
	return out
}
