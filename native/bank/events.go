package bank

import (
	"encoding/hex"
	"math/big"

	"carbonlink/core/types"
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeMint     = "bank.mint"
)

type bankEvent struct {
	evt *types.Event
}

func (e bankEvent) EventType() string { return e.evt.Type }

func (e bankEvent) Event() *types.Event { return e.evt }

func newTransferEvent(from, to [20]byte, amount *big.Int) bankEvent {
	return bankEvent{evt: &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"from":   "0x" + hex.EncodeToString(from[:]),
			"to":     "0x" + hex.EncodeToString(to[:]),
			"amount": amount.String(),
		},
	}}
}

func newMintEvent(holder [20]byte, amount *big.Int) bankEvent {
	return bankEvent{evt: &types.Event{
		Type: EventTypeMint,
		Attributes: map[string]string{
			"to":     "0x" + hex.EncodeToString(holder[:]),
			"amount": amount.String(),
		},
	}}
}
