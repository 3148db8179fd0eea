package app

import "github.com/dkeye/LiveClass/internal/domain"

type FloodAction int

const (
	DropMessage FloodAction = iota
	CloseLink
)

// Policy decides what the host does with a link that exceeded its inbound rate.
// strikes counts the excess messages seen on the link so far, starting at 1.
type Policy interface {
	OnFlood(peer domain.PeerID, strikes int) FloodAction
}

// SimplePolicy drops excess messages and closes the link after MaxStrikes of them.
// A zero MaxStrikes never closes.
type SimplePolicy struct {
	MaxStrikes int
}

func (p SimplePolicy) OnFlood(_ domain.PeerID, strikes int) FloodAction {
	if p.MaxStrikes > 0 && strikes >= p.MaxStrikes {
		return CloseLink
	}
	return DropMessage
}
