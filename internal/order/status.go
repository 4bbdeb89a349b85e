package order

// MapGatewayStatus translates a raw gateway payment status into the
// store's (order status, payment status) pair. The match is exact and
// case-sensitive; anything unrecognized, including the empty string,
// maps to pending so an odd gateway value can never flip an order into
// a terminal state.
func MapGatewayStatus(raw string) (Status, Status) {
	switch raw {
	case "approved":
		return StatusApproved, StatusApproved
	case "rejected":
		return StatusRejected, StatusRejected
	case "cancelled":
		return StatusCancelled, StatusCancelled
	case "refunded":
		return StatusRefunded, StatusRefunded
	case "pending", "in_process", "in_mediation":
		return StatusPending, StatusPending
	default:
		return StatusPending, StatusPending
	}
}
