package linkage

import (
	"context"
	"fmt"

	"carbonlink/observability/logging"
)

// OpenDispute challenges a verified linkage within the dispute window. Any
// identity may open a dispute; a linkage can be disputed only once.
func (e *Engine) OpenDispute(ctx context.Context, caller [20]byte, key Key, reason string) error {
	return e.run(ctx, "open_dispute", &key, func(op *operation) error {
		if err := op.guard(); err != nil {
			return err
		}
		l, err := op.load(key)
		if err != nil {
			return err
		}
		existing, hasDispute, err := op.tx.Dispute(key)
		if err != nil {
			return err
		}
		if hasDispute && existing.Active {
			return ErrDisputeInProgress
		}
		if l.Status != StatusVerified {
			return ErrInvalidStatus
		}
		if elapsed(op.height, l.LastUpdatedAt) >= DisputeWindow {
			return fmt.Errorf("%w: dispute window closed", ErrInvalidStatus)
		}
		if hasDispute {
			return fmt.Errorf("%w: linkage already disputed", ErrDisputeInProgress)
		}
		if len(reason) > MaxReasonLength {
			return fmt.Errorf("%w: reason exceeds %d bytes", ErrInvalidMetadata, MaxReasonLength)
		}

		dispute := &Dispute{
			Initiator: caller,
			Reason:    reason,
			Active:    true,
			OpenedAt:  op.height,
		}
		if err := op.tx.PutDispute(key, dispute); err != nil {
			return err
		}
		l.Status = StatusDisputed
		l.LastUpdatedAt = op.height
		if err := op.tx.PutLinkage(l); err != nil {
			return err
		}
		op.record(newDisputeOpenedEvent(key, dispute))
		op.transitioned(l, StatusVerified)
		op.logAttrs = append(op.logAttrs, logging.MaskField("reason", reason))
		return nil
	})
}

// ResolveDispute closes the active dispute. Approval restores the verified
// status; rejection marks the linkage rejected and refunds the creator.
func (e *Engine) ResolveDispute(ctx context.Context, caller [20]byte, key Key, approve bool) error {
	if err := e.requireAdapters(); err != nil {
		return err
	}
	return e.run(ctx, "resolve_dispute", &key, func(op *operation) error {
		if err := op.guard(); err != nil {
			return err
		}
		dispute, ok, err := op.tx.Dispute(key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEscrowNotFound
		}
		if !dispute.Active {
			return ErrInvalidStatus
		}
		if err := op.requireAuthority(caller); err != nil {
			return err
		}
		l, err := op.load(key)
		if err != nil {
			return err
		}

		from := l.Status
		dispute.Active = false
		dispute.ResolvedAt = op.height
		dispute.Resolver = caller
		l.LastUpdatedAt = op.height
		if approve {
			dispute.Outcome = OutcomeApproved
			l.Status = StatusVerified
		} else {
			dispute.Outcome = OutcomeRejected
			l.Status = StatusRejected
		}
		op.transitioned(l, from)
		if !approve {
			if err := e.refund(op, l); err != nil {
				return err
			}
		}
		if err := op.tx.PutDispute(key, dispute); err != nil {
			return err
		}
		if err := op.tx.PutLinkage(l); err != nil {
			return err
		}
		op.record(newDisputeResolvedEvent(key, dispute))
		op.logAttrs = append(op.logAttrs, "outcome", dispute.Outcome.String())
		return nil
	})
}

func elapsed(now, since uint64) uint64 {
	if now <= since {
		return 0
	}
	return now - since
}
