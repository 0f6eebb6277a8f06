package linkage

import (
	"context"
	"fmt"
)

// SetRevenueShare assigns participant a percentage of the released escrow.
// Overwriting an existing share keeps the amount already received. The
// percentages of all participants never sum above 100.
func (e *Engine) SetRevenueShare(ctx context.Context, caller [20]byte, key Key, participant [20]byte, percentage int64) error {
	return e.run(ctx, "set_revenue_share", &key, func(op *operation) error {
		if err := op.guard(); err != nil {
			return err
		}
		l, err := op.load(key)
		if err != nil {
			return err
		}
		if caller != l.Creator {
			return ErrNotOwner
		}
		if percentage <= 0 || percentage > MaxPercentage {
			return ErrInvalidPercentage
		}
		participants, err := op.tx.ShareParticipants(key)
		if err != nil {
			return err
		}
		total := uint64(percentage)
		for _, other := range participants {
			if other == participant {
				continue
			}
			share, ok, err := op.tx.RevenueShare(key, other)
			if err != nil {
				return err
			}
			if ok {
				total += uint64(share.Percentage)
			}
		}
		if total > MaxPercentage {
			return fmt.Errorf("%w: shares would total %d%%", ErrInvalidPercentage, total)
		}

		share, ok, err := op.tx.RevenueShare(key, participant)
		if err != nil {
			return err
		}
		if !ok {
			share = &RevenueShare{Participant: participant, Received: cloneBigInt(nil)}
		}
		share.Percentage = uint32(percentage)
		if err := op.tx.PutRevenueShare(key, share); err != nil {
			return err
		}
		op.record(newShareSetEvent(key, share, op.height))
		return nil
	})
}

// UpdateMetadata replaces the creator-controlled description, tags and
// visibility of a linkage.
func (e *Engine) UpdateMetadata(ctx context.Context, caller [20]byte, key Key, meta *Metadata) error {
	return e.run(ctx, "update_metadata", &key, func(op *operation) error {
		if err := op.guard(); err != nil {
			return err
		}
		l, err := op.load(key)
		if err != nil {
			return err
		}
		if caller != l.Creator {
			return ErrNotOwner
		}
		next := meta.Clone()
		if next == nil {
			next = &Metadata{}
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := op.tx.PutMetadata(key, next); err != nil {
			return err
		}
		op.record(newMetadataEvent(key, next, op.height))
		return nil
	})
}
