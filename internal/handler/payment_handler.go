package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/techdoodle/match-slot-booking/internal/payment"
)

// GatewaySignatureHeader carries the webhook HMAC computed by the
// payment gateway over the raw request body.
const GatewaySignatureHeader = "X-Gateway-Signature"

// maxWebhookBody bounds how much of a webhook request is read.
const maxWebhookBody = 1 << 20

// PaymentHandler exposes the two inbound payment surfaces: the
// client-side verification callback and the gateway webhook.
type PaymentHandler struct {
	Engine *payment.Engine
}

func NewPaymentHandler(engine *payment.Engine) *PaymentHandler {
	if engine == nil {
		panic("nil engine passed to NewPaymentHandler")
	}
	return &PaymentHandler{Engine: engine}
}

// VerifyPayment handles POST /v1/payments/verify. The client submits
// the gateway's checkout result; a bad signature moves the booking to
// a failed state and returns 400 so the client shows a retry path.
func (h *PaymentHandler) VerifyPayment(c echo.Context) error {
	var body payment.VerificationPayload
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.GatewayOrderID == "" || body.GatewayPaymentID == "" || body.Signature == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "gateway_order_id, gateway_payment_id and signature are required"})
	}

	b, err := h.Engine.HandleVerification(c.Request().Context(), body)
	if errors.Is(err, payment.ErrVerificationFailed) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":   "payment verification failed",
			"booking": summaryResponse(b),
		})
	}
	if err != nil {
		c.Logger().Errorf("verify payment order %s: %v", body.GatewayOrderID, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verification could not be processed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": summaryResponse(b)})
}

// Webhook handles POST /v1/payments/webhook. The HMAC is computed
// over the exact raw body, so the body is read before any decoding.
// Unknown event types are acknowledged with 200 and ignored; returning
// an error would make the gateway retry an event we will never handle.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}

	err = h.Engine.HandleWebhook(c.Request().Context(), raw, c.Request().Header.Get(GatewaySignatureHeader))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	case errors.Is(err, payment.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	case errors.Is(err, payment.ErrUnknownEvent):
		c.Logger().Warnf("webhook: %v", err)
		return c.JSON(http.StatusOK, echo.Map{"status": "ignored"})
	default:
		c.Logger().Errorf("webhook: %v", err)
		// Non-2xx makes the gateway redeliver; processing is
		// idempotent so the retry is safe.
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "event could not be processed"})
	}
}
