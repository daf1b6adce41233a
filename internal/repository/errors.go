// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// reservation manager and the reconciliation engine to distinguish
// between different failure scenarios without string matching.
package repository

import "errors"

// ErrMatchNotFound is returned when a match row does not exist.
var ErrMatchNotFound = errors.New("match not found")

// ErrBookingNotFound is returned when a booking cannot be located by
// id, reference or gateway order id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrOrderNotFound is returned when no payment order exists for a
// gateway order id. Reconciliation treats events for unknown orders
// as protocol violations.
var ErrOrderNotFound = errors.New("payment order not found")

// ErrRefundNotFound is returned when no refund row matches the given
// key.
var ErrRefundNotFound = errors.New("refund not found")

// ErrForbidden is returned when the caller attempts an operation on a
// booking they do not own. Handlers translate this into an HTTP 403
// response.
var ErrForbidden = errors.New("forbidden")
