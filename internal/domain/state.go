package domain

// NegotiationState is the per-remote position in the offer/answer exchange.
type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswered
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateNew:           "new",
	StateOfferSent:     "offer-sent",
	StateOfferReceived: "offer-received",
	StateAnswered:      "answered",
	StateConnected:     "connected",
	StateDisconnected:  "disconnected",
	StateFailed:        "failed",
	StateClosed:        "closed",
}

func (s NegotiationState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// IsTerminal reports whether an entry in this state must leave the registry.
func (s NegotiationState) IsTerminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}
