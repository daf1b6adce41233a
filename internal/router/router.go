package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/techdoodle/match-slot-booking/internal/handler"    // import the handlers that implement business logic
	"github.com/techdoodle/match-slot-booking/internal/middleware" // import middleware for JWT authentication
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance: liveness and readiness probes.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	// Load balancers and monitoring systems use these to verify the
	// service is up and able to reach its database.
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterBooking registers the booking lifecycle endpoints.  Bookings
// may be created and consulted by guests, so these routes use the
// optional JWT middleware: an Authorization header attributes the
// request to a user, its absence means a guest.  Listing one's own
// bookings is the exception and requires authentication.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.OptionalJWTAuth(jwtSecret))

	// Match catalog with live availability.  Advisory only; the
	// reserve path re-checks capacity inside its transaction.
	g.GET("/matches/:id", h.GetMatch)

	// Reserve slots and open a payment order.
	g.POST("/matches/:id/bookings", h.CreateBooking)

	// Booking detail and cancellation, addressed by reference.
	g.GET("/bookings/:reference", h.GetBooking)
	g.POST("/bookings/:reference/cancel", h.CancelSlots)

	// Listing requires a known caller.
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/my-bookings", h.ListBookings)
}

// RegisterPayment registers the inbound payment surfaces.  The webhook
// authenticates itself with an HMAC over the raw body, so neither
// route uses JWT middleware.
func RegisterPayment(e *echo.Echo, h *handler.PaymentHandler) {
	e.POST("/v1/payments/verify", h.VerifyPayment)
	e.POST("/v1/payments/webhook", h.Webhook)
}
