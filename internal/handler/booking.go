package handler

import (
	"errors"   // for errors.Is comparisons
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters
	"time"     // response timestamps

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/techdoodle/match-slot-booking/internal/booking"
	"github.com/techdoodle/match-slot-booking/internal/ledger"
	"github.com/techdoodle/match-slot-booking/internal/middleware"
	"github.com/techdoodle/match-slot-booking/internal/model"
	"github.com/techdoodle/match-slot-booking/internal/repository"
)

// BookingHandler exposes the booking lifecycle over HTTP: slot
// reservation, retrieval and cancellation. Business rules live in the
// booking manager; the handler binds requests, resolves the caller's
// identity and maps domain errors to status codes.
type BookingHandler struct {
	Manager  *booking.Manager
	Bookings *repository.BookingRepo
	Matches  *repository.MatchRepo
	Payments *repository.PaymentRepo
}

// NewBookingHandler constructs a BookingHandler. All dependencies must
// be non-nil.
func NewBookingHandler(manager *booking.Manager, bookings *repository.BookingRepo,
	matches *repository.MatchRepo, payments *repository.PaymentRepo) *BookingHandler {
	if manager == nil || bookings == nil || matches == nil || payments == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Manager: manager, Bookings: bookings, Matches: matches, Payments: payments}
}

type slotRequestBody struct {
	SlotNumber  uint32  `json:"slot_number"`
	PlayerName  *string `json:"player_name,omitempty"`
	PlayerPhone *string `json:"player_phone,omitempty"`
}

type createBookingBody struct {
	Slots     []slotRequestBody `json:"slots"`
	PromoCode *string           `json:"promo_code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CreateBooking handles POST /v1/matches/:id/bookings. It reserves the
// requested slots against the match's capacity ledger and opens a
// payment order. Guests may book; an Authorization header attributes
// the booking to the authenticated user.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	matchID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || matchID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	var body createBookingBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Slots) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slots is required"})
	}

	draft := booking.Draft{
		MatchID:   matchID,
		UserID:    middleware.UserID(c),
		PromoCode: body.PromoCode,
		Metadata:  body.Metadata,
	}
	for _, s := range body.Slots {
		draft.Slots = append(draft.Slots, booking.SlotRequest{
			SlotNumber:  s.SlotNumber,
			PlayerName:  s.PlayerName,
			PlayerPhone: s.PlayerPhone,
		})
	}

	ctx := c.Request().Context()
	b, err := h.Manager.ReserveSlots(ctx, draft)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMatchNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
		case errors.Is(err, booking.ErrInvalidSlots):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, booking.ErrMatchStarted):
			return c.JSON(http.StatusConflict, echo.Map{"error": "match already started"})
		case errors.Is(err, ledger.ErrCapacityExceeded):
			return c.JSON(http.StatusConflict, echo.Map{"error": "not enough slots available"})
		case errors.Is(err, booking.ErrConcurrentUpdateExhausted):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "match is busy, retry shortly"})
		default:
			c.Logger().Errorf("create booking: %v", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create booking"})
		}
	}
	return c.JSON(http.StatusCreated, h.bookingResponse(c, b))
}

// GetBooking handles GET /v1/bookings/:reference.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	b, ok := h.loadOwnedBooking(c)
	if !ok {
		return nil // response already written
	}
	return c.JSON(http.StatusOK, h.bookingResponse(c, b))
}

// ListBookings handles GET /v1/bookings for the authenticated user.
func (h *BookingHandler) ListBookings(c echo.Context) error {
	uid := middleware.UserID(c)
	if uid == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookings, err := h.Bookings.ListByUser(c.Request().Context(), *uid)
	if err != nil {
		c.Logger().Errorf("list bookings: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]echo.Map, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, summaryResponse(b))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": out})
}

type cancelBody struct {
	SlotNumbers []uint32 `json:"slot_numbers"`
}

// CancelSlots handles POST /v1/bookings/:reference/cancel. An empty
// slot_numbers list cancels every active slot. The response carries
// the refund breakdown so the caller sees the tier applied.
func (h *BookingHandler) CancelSlots(c echo.Context) error {
	b, ok := h.loadOwnedBooking(c)
	if !ok {
		return nil
	}
	var body cancelBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	slotNumbers := body.SlotNumbers
	if len(slotNumbers) == 0 {
		slots, err := h.Bookings.SlotsByBooking(ctx, b.ID)
		if err != nil {
			c.Logger().Errorf("cancel booking %s: load slots: %v", b.Reference, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		for _, s := range slots {
			if s.Status == booking.SlotActive {
				slotNumbers = append(slotNumbers, s.SlotNumber)
			}
		}
	}

	res, err := h.Manager.CancelSlots(ctx, b.ID, slotNumbers, middleware.UserID(c))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrForbidden):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		case errors.Is(err, booking.ErrInvalidSlots), errors.Is(err, booking.ErrNotCancellable):
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		case errors.Is(err, booking.ErrConcurrentUpdateExhausted):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "match is busy, retry shortly"})
		default:
			c.Logger().Errorf("cancel booking %s: %v", b.Reference, err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cancel"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"booking": summaryResponse(res.Booking),
		"refund": echo.Map{
			"refund_id":         res.RefundID,
			"eligible":          res.Breakdown.EligibleForRefund,
			"time_window":       res.Breakdown.TimeWindow,
			"refund_percent":    res.Breakdown.RefundPercent.String(),
			"hours_until_match": res.Breakdown.HoursUntilMatch,
			"per_slot_amount":   res.Breakdown.PerSlotAmount,
			"slots_cancelled":   res.Breakdown.TotalSlotsToCancel,
			"base_amount":       res.Breakdown.BaseRefundAmount,
			"refund_amount":     res.Breakdown.RefundAmount,
		},
	})
}

// GetMatch handles GET /v1/matches/:id: the catalog view plus current
// availability. The availability figure is advisory; the reserve path
// re-checks inside its transaction.
func (h *BookingHandler) GetMatch(c echo.Context) error {
	matchID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || matchID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid match id"})
	}
	ctx := c.Request().Context()
	m, err := h.Matches.GetCatalog(ctx, matchID)
	if err != nil {
		if errors.Is(err, repository.ErrMatchNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "match not found"})
		}
		c.Logger().Errorf("get match %d: %v", matchID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	locked, err := h.Matches.ActiveLockedSlots(ctx, matchID, time.Now().UTC())
	if err != nil {
		c.Logger().Errorf("get match %d: locks: %v", matchID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	total := m.PlayerCapacity + m.BufferCapacity
	used := m.BookedSlots + locked
	available := uint32(0)
	if total > used {
		available = total - used
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":              m.ID,
		"player_capacity": m.PlayerCapacity,
		"buffer_capacity": m.BufferCapacity,
		"booked_slots":    m.BookedSlots,
		"available_slots": available,
		"starts_at":       m.StartsAt.UTC().Format(time.RFC3339),
		"per_slot_price":  m.PerSlotPrice,
	})
}

// loadOwnedBooking resolves :reference and enforces ownership: a
// booking owned by a user is only visible to that user, while guest
// bookings are addressable by their reference alone.
func (h *BookingHandler) loadOwnedBooking(c echo.Context) (model.Booking, bool) {
	ref := c.Param("reference")
	if ref == "" {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "missing booking reference"})
		return model.Booking{}, false
	}
	b, err := h.Bookings.GetByReference(c.Request().Context(), ref)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			_ = c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
			return model.Booking{}, false
		}
		c.Logger().Errorf("load booking %s: %v", ref, err)
		_ = c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		return model.Booking{}, false
	}
	if b.UserID != nil {
		uid := middleware.UserID(c)
		if uid == nil || *uid != *b.UserID {
			_ = c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			return model.Booking{}, false
		}
	}
	return b, true
}

// bookingResponse builds the full booking document, including slots
// and the open payment order when one exists.
func (h *BookingHandler) bookingResponse(c echo.Context, b model.Booking) echo.Map {
	ctx := c.Request().Context()
	resp := summaryResponse(b)

	slots, err := h.Bookings.SlotsByBooking(ctx, b.ID)
	if err != nil {
		c.Logger().Errorf("booking %s: load slots: %v", b.Reference, err)
	}
	slotDocs := make([]echo.Map, 0, len(slots))
	for _, s := range slots {
		doc := echo.Map{
			"slot_number":   s.SlotNumber,
			"status":        s.Status,
			"refund_status": s.RefundStatus,
		}
		if s.PlayerName != nil {
			doc["player_name"] = *s.PlayerName
		}
		if s.RefundAmount > 0 {
			doc["refund_amount"] = s.RefundAmount
		}
		if s.CancelledAt != nil {
			doc["cancelled_at"] = s.CancelledAt.UTC().Format(time.RFC3339)
		}
		slotDocs = append(slotDocs, doc)
	}
	resp["slots"] = slotDocs

	if ord, err := h.Payments.LatestOrderByBooking(ctx, b.ID); err == nil {
		resp["payment_order"] = echo.Map{
			"gateway_order_id": ord.GatewayOrderID,
			"amount":           ord.Amount,
			"currency":         ord.Currency,
			"status":           ord.Status,
		}
	} else if !errors.Is(err, repository.ErrOrderNotFound) {
		c.Logger().Errorf("booking %s: load order: %v", b.Reference, err)
	}
	return resp
}

func summaryResponse(b model.Booking) echo.Map {
	resp := echo.Map{
		"reference":       b.Reference,
		"match_id":        b.MatchID,
		"slot_count":      b.SlotCount,
		"amount":          b.Amount,
		"original_amount": b.OriginalAmount,
		"status":          b.Status,
		"payment_status":  b.PaymentStatus,
		"refund_status":   b.RefundStatus,
		"created_at":      b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.PromoCode != nil {
		resp["promo_code"] = *b.PromoCode
		resp["discount_amount"] = b.DiscountAmount
	}
	return resp
}
