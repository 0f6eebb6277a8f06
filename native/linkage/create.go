package linkage

import (
	"context"
	"fmt"
	"math/big"
)

// CreateLinkage escrows payment from caller into the vault and records a
// pending linkage between the flight and the project. It returns the offset
// credential issued for the caller.
func (e *Engine) CreateLinkage(ctx context.Context, caller [20]byte, key Key, offset, payment *big.Int, meta *Metadata) (string, error) {
	if err := e.requireAdapters(); err != nil {
		return "", err
	}
	if e.vault == ([20]byte{}) {
		return "", errNilVault
	}
	var credential string
	err := e.run(ctx, "create", &key, func(op *operation) error {
		if err := op.guard(); err != nil {
			return err
		}
		if _, exists, err := op.tx.Linkage(key); err != nil {
			return err
		} else if exists {
			return ErrAlreadyLinked
		}
		if offset == nil || offset.Sign() <= 0 || payment == nil || payment.Sign() <= 0 {
			return ErrInvalidAmount
		}
		balance, err := e.adapters.Ledger.BalanceOf(op.ctx, caller)
		if err != nil {
			return fmt.Errorf("%w: balance lookup: %v", ErrInsufficientFunds, err)
		}
		if balance == nil || balance.Cmp(payment) < 0 {
			return ErrInsufficientFunds
		}
		if err := e.checkFlight(op, key.FlightID); err != nil {
			return err
		}
		if err := e.checkProject(op, key.ProjectID); err != nil {
			return err
		}
		stored := &Metadata{Visible: true}
		if meta != nil {
			stored.Description = meta.Description
			stored.Tags = append([]string(nil), meta.Tags...)
		}
		if err := stored.Validate(); err != nil {
			return err
		}
		if e.isSystemAccount(caller) {
			return fmt.Errorf("%w: escrow accounts cannot create linkages", ErrUnauthorized)
		}
		id, err := e.adapters.Credentials.IssueCredential(op.ctx, caller, key.FlightID, key.ProjectID, new(big.Int).Set(offset))
		if err != nil {
			return fmt.Errorf("%w: credential issuance: %v", ErrUnauthorized, err)
		}

		if err := op.transfer(caller, e.vault, payment); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		linkage := &Linkage{
			Key:           key,
			OffsetAmount:  new(big.Int).Set(offset),
			CredentialID:  id,
			Status:        StatusPending,
			EscrowAmount:  new(big.Int).Set(payment),
			Creator:       caller,
			CreatedAt:     op.height,
			LastUpdatedAt: op.height,
		}
		if err := op.tx.PutLinkage(linkage); err != nil {
			return err
		}
		if err := op.tx.PutMetadata(key, stored); err != nil {
			return err
		}
		op.tx.AdjustEscrowTotal(payment)
		op.tx.IncrementLinkages()
		op.record(newCreatedEvent(linkage))
		op.statuses = append(op.statuses, StatusPending)
		credential = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return credential, nil
}

// isSystemAccount reports whether addr is the vault or the dispute reserve.
// Transfers between such an account and itself move no value.
func (e *Engine) isSystemAccount(addr [20]byte) bool {
	if addr == e.vault {
		return true
	}
	return e.reserve != ([20]byte{}) && addr == e.reserve
}

func (e *Engine) checkFlight(op *operation, flightID string) error {
	if !validID(flightID) {
		return ErrInvalidFlight
	}
	ok, err := e.adapters.Flights.ValidateFlight(op.ctx, flightID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFlight, err)
	}
	if !ok {
		return ErrInvalidFlight
	}
	return nil
}

func (e *Engine) checkProject(op *operation, projectID string) error {
	if !validID(projectID) {
		return ErrInvalidProject
	}
	ok, err := e.adapters.Projects.ValidateProject(op.ctx, projectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	if !ok {
		return ErrInvalidProject
	}
	return nil
}
