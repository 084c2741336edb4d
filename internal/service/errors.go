package service

// Reason classifies why an order was rejected
type Reason string

// Rejection reasons
const (
	InvalidInput         Reason = "INVALID_INPUT"
	InsufficientFunds    Reason = "INSUFFICIENT_FUNDS"
	InsufficientHoldings Reason = "INSUFFICIENT_HOLDINGS"
)

// Rejection is a terminal refusal of an order. It is never retried by the
// venue, the caller has to resubmit a corrected order
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}
