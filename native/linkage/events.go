package linkage

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"carbonlink/core/types"
)

const (
	EventTypeCreated              = "linkage.created"
	EventTypeVote                 = "linkage.vote"
	EventTypeStatusChanged        = "linkage.status"
	EventTypeReleased             = "linkage.released"
	EventTypeSharePaid            = "linkage.share_paid"
	EventTypeRefunded             = "linkage.refunded"
	EventTypeDisputeOpened        = "linkage.dispute_opened"
	EventTypeDisputeResolved      = "linkage.dispute_resolved"
	EventTypeRevenueShareSet      = "linkage.share_set"
	EventTypeMetadataUpdated      = "linkage.metadata_updated"
	EventTypePaused               = "linkage.paused"
	EventTypeUnpaused             = "linkage.unpaused"
	EventTypeAuthorityTransferred = "linkage.authority_transferred"
)

// Attribute keys shared by every linkage event. Journals index on the flight
// and project attributes.
const (
	AttrFlight  = "flight"
	AttrProject = "project"
)

type linkageEvent struct {
	evt *types.Event
}

func (e linkageEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e linkageEvent) Event() *types.Event { return e.evt }

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newKeyEvent(eventType string, key Key, height uint64) *types.Event {
	return &types.Event{
		Type:   eventType,
		Height: height,
		Attributes: map[string]string{
			AttrFlight:  key.FlightID,
			AttrProject: key.ProjectID,
		},
	}
}

func newCreatedEvent(l *Linkage) *types.Event {
	evt := newKeyEvent(EventTypeCreated, l.Key, l.CreatedAt)
	evt.Attributes["creator"] = hexAddr(l.Creator)
	evt.Attributes["credential"] = l.CredentialID
	evt.Attributes["offset"] = amountString(l.OffsetAmount)
	evt.Attributes["escrow"] = amountString(l.EscrowAmount)
	return evt
}

func newVoteEvent(key Key, vote *Vote, l *Linkage) *types.Event {
	evt := newKeyEvent(EventTypeVote, key, vote.CastAt)
	evt.Attributes["verifier"] = hexAddr(vote.Verifier)
	evt.Attributes["choice"] = vote.Choice.String()
	evt.Attributes["approvals"] = strconv.FormatUint(uint64(l.VerificationCount), 10)
	evt.Attributes["rejections"] = strconv.FormatUint(uint64(l.RejectionCount), 10)
	return evt
}

func newStatusEvent(l *Linkage, from Status) *types.Event {
	evt := newKeyEvent(EventTypeStatusChanged, l.Key, l.LastUpdatedAt)
	evt.Attributes["from"] = from.String()
	evt.Attributes["status"] = l.Status.String()
	return evt
}

func newReleasedEvent(l *Linkage, owner [20]byte, ownerAmount, sharesTotal *big.Int, height uint64) *types.Event {
	evt := newKeyEvent(EventTypeReleased, l.Key, height)
	evt.Attributes["owner"] = hexAddr(owner)
	evt.Attributes["ownerAmount"] = amountString(ownerAmount)
	evt.Attributes["sharesTotal"] = amountString(sharesTotal)
	evt.Attributes["escrow"] = amountString(l.EscrowAmount)
	return evt
}

func newSharePaidEvent(key Key, share *RevenueShare, amount *big.Int, height uint64) *types.Event {
	evt := newKeyEvent(EventTypeSharePaid, key, height)
	evt.Attributes["participant"] = hexAddr(share.Participant)
	evt.Attributes["percentage"] = strconv.FormatUint(uint64(share.Percentage), 10)
	evt.Attributes["amount"] = amountString(amount)
	return evt
}

func newRefundedEvent(l *Linkage, source string, height uint64) *types.Event {
	evt := newKeyEvent(EventTypeRefunded, l.Key, height)
	evt.Attributes["creator"] = hexAddr(l.Creator)
	evt.Attributes["amount"] = amountString(l.EscrowAmount)
	evt.Attributes["source"] = source
	return evt
}

func newDisputeOpenedEvent(key Key, d *Dispute) *types.Event {
	evt := newKeyEvent(EventTypeDisputeOpened, key, d.OpenedAt)
	evt.Attributes["initiator"] = hexAddr(d.Initiator)
	evt.Attributes["reason"] = d.Reason
	return evt
}

func newDisputeResolvedEvent(key Key, d *Dispute) *types.Event {
	evt := newKeyEvent(EventTypeDisputeResolved, key, d.ResolvedAt)
	evt.Attributes["resolver"] = hexAddr(d.Resolver)
	evt.Attributes["outcome"] = d.Outcome.String()
	return evt
}

func newShareSetEvent(key Key, share *RevenueShare, height uint64) *types.Event {
	evt := newKeyEvent(EventTypeRevenueShareSet, key, height)
	evt.Attributes["participant"] = hexAddr(share.Participant)
	evt.Attributes["percentage"] = strconv.FormatUint(uint64(share.Percentage), 10)
	return evt
}

func newMetadataEvent(key Key, meta *Metadata, height uint64) *types.Event {
	evt := newKeyEvent(EventTypeMetadataUpdated, key, height)
	evt.Attributes["tags"] = strconv.Itoa(len(meta.Tags))
	evt.Attributes["visible"] = strconv.FormatBool(meta.Visible)
	return evt
}

func newAdminEvent(eventType string, actor [20]byte, height uint64) *types.Event {
	return &types.Event{
		Type:       eventType,
		Height:     height,
		Attributes: map[string]string{"actor": hexAddr(actor)},
	}
}
