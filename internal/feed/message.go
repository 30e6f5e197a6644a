// Package feed streams committed vesting events to websocket subscribers.
package feed

import "solana-token-vesting/internal/domain"

// MessageTypeEvent is the only message type the hub sends.
const MessageTypeEvent = "event"

// Message is one websocket text frame.
type Message struct {
	Type  string `json:"type"`
	Event Event  `json:"event"`
}

// Event is the wire form of domain.VestingEvent. Amounts are decimal strings
// so that JSON consumers without 64-bit integers keep full precision.
type Event struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Receiver       string `json:"receiver"`
	Mint           string `json:"mint"`
	Signer         string `json:"signer"`
	Amount         uint64 `json:"amount,string"`
	ReleasedAmount uint64 `json:"released_amount,string"`
	TotalAmount    uint64 `json:"total_amount,string"`
	Shape          string `json:"shape"`
	Timestamp      int64  `json:"timestamp"`
}

// FromDomain converts a domain event to its wire form.
func FromDomain(e *domain.VestingEvent) Event {
	return Event{
		ID:             e.EventID,
		Type:           string(e.Type),
		Receiver:       e.Receiver,
		Mint:           e.Mint,
		Signer:         e.Signer,
		Amount:         e.Amount,
		ReleasedAmount: e.ReleasedAmount,
		TotalAmount:    e.TotalAmount,
		Shape:          string(e.Shape),
		Timestamp:      e.Timestamp,
	}
}

// Filter restricts a subscription to one receiver and/or mint. Empty fields
// match everything.
type Filter struct {
	Receiver string
	Mint     string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e *domain.VestingEvent) bool {
	if f.Receiver != "" && f.Receiver != e.Receiver {
		return false
	}
	if f.Mint != "" && f.Mint != e.Mint {
		return false
	}
	return true
}
