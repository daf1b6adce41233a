package queue_publisher

import (
	"context"
	"log"
	"time"

	"github.com/techdoodle/match-slot-booking/internal/model"
	q "github.com/techdoodle/match-slot-booking/internal/queue"
	"github.com/techdoodle/match-slot-booking/internal/repository"
)

// Notifier adapts the queue publisher to the reconciliation engine's
// notification hooks. Publishing is best effort; a broker outage never
// fails the transaction that triggered the notification.
type Notifier struct {
	Matches *repository.MatchRepo
}

func NewNotifier(matches *repository.MatchRepo) *Notifier {
	return &Notifier{Matches: matches}
}

func (n *Notifier) BookingConfirmed(ctx context.Context, b model.Booking) {
	startsAt := ""
	if n.Matches != nil {
		if m, err := n.Matches.GetCatalog(ctx, b.MatchID); err == nil {
			startsAt = m.StartsAt.UTC().Format(time.RFC3339)
		}
	}
	ev := q.BookingConfirmedEvent{
		BookingID:     b.ID,
		Reference:     b.Reference,
		MatchID:       b.MatchID,
		UserID:        b.UserID,
		SlotCount:     b.SlotCount,
		Amount:        b.Amount,
		MatchStartsAt: startsAt,
		ConfirmedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := PublishBookingConfirmed(ctx, ev); err != nil {
		log.Printf("notify: booking confirmed %s: %v", b.Reference, err)
	}
}

func (n *Notifier) RefundCompleted(ctx context.Context, b model.Booking, rf model.Refund) {
	gid := ""
	if rf.GatewayRefundID != nil {
		gid = *rf.GatewayRefundID
	}
	ev := q.RefundCompletedEvent{
		BookingID:    b.ID,
		Reference:    b.Reference,
		RefundID:     rf.ID,
		GatewayID:    gid,
		Amount:       rf.Amount,
		RefundStatus: b.RefundStatus,
		UserID:       b.UserID,
		CompletedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := PublishRefundCompleted(ctx, ev); err != nil {
		log.Printf("notify: refund completed %s: %v", b.Reference, err)
	}
}
