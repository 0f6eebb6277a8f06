package linkage

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
)

const (
	refundSourceEscrow  = "escrow"
	refundSourceReserve = "reserve"
)

// transfer is a journal entry for a ledger movement executed during an
// operation.
type transfer struct {
	from, to [20]byte
	amount   *big.Int
}

// transfer executes a ledger movement and journals it for compensation.
func (op *operation) transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	value := new(big.Int).Set(amount)
	if err := op.engine.adapters.Ledger.Transfer(op.ctx, from, to, value); err != nil {
		return err
	}
	op.transfers = append(op.transfers, transfer{from: from, to: to, amount: value})
	return nil
}

// rollback reverses the journaled transfers newest first. It runs on a
// detached context so a cancelled request still unwinds its movements.
func (op *operation) rollback() {
	if len(op.transfers) == 0 {
		return
	}
	ctx := context.WithoutCancel(op.ctx)
	for i := len(op.transfers) - 1; i >= 0; i-- {
		t := op.transfers[i]
		if err := op.engine.adapters.Ledger.Transfer(ctx, t.to, t.from, t.amount); err != nil {
			op.engine.logger.Error("linkage transfer compensation failed",
				slog.String("from", hexAddr(t.to)),
				slog.String("to", hexAddr(t.from)),
				slog.String("amount", t.amount.String()),
				slog.Any("error", err))
		}
	}
	op.transfers = nil
}

// release pays out a verified linkage's escrow. Each participant holding a
// revenue share receives floor(escrow*pct/100); the project owner receives
// the remainder so the payout always sums to the escrow.
func (e *Engine) release(op *operation, l *Linkage) error {
	if !l.EscrowHeld() {
		return fmt.Errorf("%w: escrow already settled", ErrInvalidStatus)
	}
	owner, err := e.adapters.Projects.ProjectOwner(op.ctx, l.Key.ProjectID)
	if err != nil {
		return fmt.Errorf("%w: owner lookup: %v", ErrInvalidProject, err)
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("%w: project has no owner", ErrInvalidProject)
	}
	if owner == e.vault {
		return fmt.Errorf("%w: project owner is the escrow vault", ErrInvalidProject)
	}
	participants, err := e.adapters.Projects.ProjectParticipants(op.ctx, l.Key.ProjectID)
	if err != nil {
		return fmt.Errorf("%w: participant lookup: %v", ErrInvalidProject, err)
	}

	escrow := cloneBigInt(l.EscrowAmount)
	remaining := new(big.Int).Set(escrow)
	sharesTotal := big.NewInt(0)
	seen := make(map[[20]byte]struct{}, len(participants))
	for _, participant := range participants {
		// A vault share would stay in the vault; it falls to the owner instead.
		if _, dup := seen[participant]; dup || participant == e.vault {
			continue
		}
		seen[participant] = struct{}{}
		share, ok, err := op.tx.RevenueShare(l.Key, participant)
		if err != nil {
			return err
		}
		if !ok || share.Percentage == 0 {
			continue
		}
		amount := new(big.Int).Mul(escrow, new(big.Int).SetUint64(uint64(share.Percentage)))
		amount.Quo(amount, big.NewInt(MaxPercentage))
		if amount.Cmp(remaining) > 0 {
			amount.Set(remaining)
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := op.transfer(e.vault, participant, amount); err != nil {
			return err
		}
		share.Received = new(big.Int).Add(cloneBigInt(share.Received), amount)
		if err := op.tx.PutRevenueShare(l.Key, share); err != nil {
			return err
		}
		remaining.Sub(remaining, amount)
		sharesTotal.Add(sharesTotal, amount)
		op.payouts = append(op.payouts, "share")
		op.record(newSharePaidEvent(l.Key, share, amount, op.height))
	}
	if err := op.transfer(e.vault, owner, remaining); err != nil {
		return err
	}
	op.payouts = append(op.payouts, "owner")
	l.Released = true
	op.tx.AdjustEscrowTotal(new(big.Int).Neg(escrow))
	op.record(newReleasedEvent(l, owner, remaining, sharesTotal, op.height))
	return nil
}

// refund returns the escrow to the creator. A still-held escrow is paid from
// the vault; an escrow that was already released is made good from the
// dispute reserve. A creator is refunded at most once.
func (e *Engine) refund(op *operation, l *Linkage) error {
	if l.Refunded {
		return fmt.Errorf("%w: escrow already refunded", ErrInvalidStatus)
	}
	amount := cloneBigInt(l.EscrowAmount)
	source := refundSourceEscrow
	if l.EscrowHeld() {
		if err := op.transfer(e.vault, l.Creator, amount); err != nil {
			return fmt.Errorf("%w: vault refund: %v", ErrInsufficientFunds, err)
		}
		op.tx.AdjustEscrowTotal(new(big.Int).Neg(amount))
	} else {
		source = refundSourceReserve
		if e.reserve == ([20]byte{}) {
			return fmt.Errorf("%w: dispute reserve not configured", ErrInsufficientFunds)
		}
		if err := op.transfer(e.reserve, l.Creator, amount); err != nil {
			return fmt.Errorf("%w: reserve refund: %v", ErrInsufficientFunds, err)
		}
	}
	l.Refunded = true
	op.payouts = append(op.payouts, "refund_"+source)
	op.record(newRefundedEvent(l, source, op.height))
	return nil
}
