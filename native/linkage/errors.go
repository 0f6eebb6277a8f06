package linkage

import "errors"

var (
	ErrUnauthorized        = errors.New("linkage: unauthorized")
	ErrAlreadyLinked       = errors.New("linkage: already linked")
	ErrInvalidStatus       = errors.New("linkage: invalid status")
	ErrInsufficientFunds   = errors.New("linkage: insufficient funds")
	ErrInvalidFlight       = errors.New("linkage: invalid flight")
	ErrInvalidProject      = errors.New("linkage: invalid project")
	ErrEscrowNotFound      = errors.New("linkage: escrow not found")
	ErrVerificationFailed  = errors.New("linkage: verification failed")
	ErrDisputeInProgress   = errors.New("linkage: dispute in progress")
	ErrInvalidAmount       = errors.New("linkage: invalid amount")
	ErrMaxVerifiersReached = errors.New("linkage: max verifiers reached")
	ErrAlreadyVoted        = errors.New("linkage: already voted")
	ErrInvalidPercentage   = errors.New("linkage: invalid percentage")
	ErrNotOwner            = errors.New("linkage: not owner")
	ErrContractPaused      = errors.New("linkage: contract paused")
	ErrInvalidMetadata     = errors.New("linkage: invalid metadata")

	errNilState    = errors.New("linkage engine: state not configured")
	errNilAdapters = errors.New("linkage engine: adapters not configured")
)

// domainErrors lists every sentinel in a stable order. The RPC layer maps the
// first match to a wire code.
var domainErrors = []error{
	ErrUnauthorized,
	ErrAlreadyLinked,
	ErrInvalidStatus,
	ErrInsufficientFunds,
	ErrInvalidFlight,
	ErrInvalidProject,
	ErrEscrowNotFound,
	ErrVerificationFailed,
	ErrDisputeInProgress,
	ErrInvalidAmount,
	ErrMaxVerifiersReached,
	ErrAlreadyVoted,
	ErrInvalidPercentage,
	ErrNotOwner,
	ErrContractPaused,
	ErrInvalidMetadata,
}

// DomainError returns the sentinel err wraps, or nil for infrastructure
// failures.
func DomainError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range domainErrors {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

var errNilVault = errors.New("linkage engine: escrow vault not configured")
