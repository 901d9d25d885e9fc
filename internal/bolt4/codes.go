// Package bolt4 names the onion forwarding-failure codes the payment
// executor (internal/pay) needs to classify, per BOLT-4's published
// failure-message table.
package bolt4

// Code identifies a forwarding-failure reason reported somewhere along a
// route.
type Code string

const (
	TemporaryChannelFailure  Code = "temporary_channel_failure"
	UnknownNextPeer          Code = "unknown_next_peer"
	FeeInsufficient          Code = "fee_insufficient"
	IncorrectCltvExpiry      Code = "incorrect_cltv_expiry"
	ExpiryTooSoon            Code = "expiry_too_soon"
	AmountBelowMinimum       Code = "amount_below_minimum"
	AmountAboveMaximum       Code = "amount_above_maximum"
	FinalIncorrectCltvExpiry Code = "final_incorrect_cltv_expiry"
	FinalIncorrectHtlcAmount Code = "final_incorrect_htlc_amount"
	PermanentChannelFailure  Code = "permanent_channel_failure"
	PermanentNodeFailure     Code = "permanent_node_failure"
	UnknownPaymentHash       Code = "unknown_payment_hash"
)

// Class buckets a Code into the handling strategy spec.md §4.6 describes.
type Class int

const (
	// ClassCouldNotForward marks the edge unusable for a TTL and lowers
	// its believed upper bound.
	ClassCouldNotForward Class = iota
	// ClassRetryWithHints means retry the same route with updated
	// amounts/expiries from the host, dropping the route if that's not
	// possible.
	ClassRetryWithHints
	// ClassHTLCBounds updates the edge's htlc_min/htlc_max belief.
	ClassHTLCBounds
	// ClassInternal is a failure at our own node; not a liquidity signal.
	ClassInternal
	// ClassPermanent marks the edge unusable for a long TTL.
	ClassPermanent
)

// Classify maps a Code to its handling Class per spec.md §4.6.
func Classify(c Code) Class {
	switch c {
	case TemporaryChannelFailure, UnknownNextPeer:
		return ClassCouldNotForward
	case FeeInsufficient, IncorrectCltvExpiry, ExpiryTooSoon:
		return ClassRetryWithHints
	case AmountBelowMinimum, AmountAboveMaximum:
		return ClassHTLCBounds
	case FinalIncorrectCltvExpiry, FinalIncorrectHtlcAmount:
		return ClassInternal
	case PermanentChannelFailure, PermanentNodeFailure, UnknownPaymentHash:
		return ClassPermanent
	default:
		return ClassCouldNotForward
	}
}
