package linkage

import (
	"context"
	"fmt"
)

// CastVote records caller's ballot on a pending linkage and applies
// consensus. It returns the linkage status after the vote.
func (e *Engine) CastVote(ctx context.Context, caller [20]byte, key Key, choice string) (Status, error) {
	if err := e.requireAdapters(); err != nil {
		return 0, err
	}
	var (
		status Status
		cast   Choice
	)
	err := e.run(ctx, "vote", &key, func(op *operation) error {
		if err := op.guard(); err != nil {
			return err
		}
		l, err := op.load(key)
		if err != nil {
			return err
		}
		if l.Status != StatusPending {
			return ErrInvalidStatus
		}
		if err := e.checkVerifier(op, caller); err != nil {
			return err
		}
		voters, err := op.tx.Voters(key)
		if err != nil {
			return err
		}
		if len(voters) >= MaxVerifiers {
			return ErrMaxVerifiersReached
		}
		if _, voted, err := op.tx.Vote(key, caller); err != nil {
			return err
		} else if voted {
			return ErrAlreadyVoted
		}
		parsed, err := ParseChoice(choice)
		if err != nil {
			return err
		}

		vote := &Vote{Verifier: caller, Choice: parsed, CastAt: op.height}
		if err := op.tx.PutVote(key, vote); err != nil {
			return err
		}
		switch parsed {
		case ChoiceApprove:
			l.VerificationCount++
		case ChoiceReject:
			l.RejectionCount++
		}
		op.record(newVoteEvent(key, vote, l))

		if err := e.applyConsensus(op, l); err != nil {
			return err
		}
		if err := op.tx.PutLinkage(l); err != nil {
			return err
		}
		status = l.Status
		cast = parsed
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.metrics.ObserveVote(cast.String())
	return status, nil
}

// checkVerifier requires caller to be listed on the roster and currently
// authorised by the oracle.
func (e *Engine) checkVerifier(op *operation, caller [20]byte) error {
	roster, err := e.adapters.Verifiers.VerifierRoster(op.ctx)
	if err != nil {
		return fmt.Errorf("%w: roster lookup: %v", ErrUnauthorized, err)
	}
	listed := false
	for _, member := range roster {
		if member == caller {
			listed = true
			break
		}
	}
	if !listed {
		return ErrUnauthorized
	}
	authorized, err := e.adapters.Verifiers.IsAuthorizedVerifier(op.ctx, caller)
	if err != nil {
		return fmt.Errorf("%w: authorization lookup: %v", ErrUnauthorized, err)
	}
	if !authorized {
		return ErrUnauthorized
	}
	return nil
}

// applyConsensus finalises a pending linkage once either tally reaches the
// threshold. Approvals are evaluated first.
func (e *Engine) applyConsensus(op *operation, l *Linkage) error {
	if l.Status != StatusPending {
		return nil
	}
	switch {
	case l.VerificationCount >= ConsensusThreshold:
		l.Status = StatusVerified
		l.LastUpdatedAt = op.height
		op.transitioned(l, StatusPending)
		return e.release(op, l)
	case l.RejectionCount >= ConsensusThreshold:
		l.Status = StatusRejected
		l.LastUpdatedAt = op.height
		op.transitioned(l, StatusPending)
		return e.refund(op, l)
	}
	return nil
}
