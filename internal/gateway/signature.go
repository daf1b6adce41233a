package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// WebhookSignature computes the hex HMAC-SHA256 the gateway attaches
// to webhook deliveries. The MAC is always taken over the exact raw
// request bytes; verifying against a re-serialized body is not
// allowed because re-serialization is not guaranteed byte-identical
// to what was signed.
func WebhookSignature(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a webhook signature in constant time.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	expected := WebhookSignature(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerificationSignature computes the signature the gateway hands the
// client after checkout: HMAC-SHA256 over "orderID|paymentID".
func VerificationSignature(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature checks a client-submitted verification
// payload in constant time.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	expected := VerificationSignature(orderID, paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
