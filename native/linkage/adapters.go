package linkage

import (
	"context"
	"math/big"
)

// Ledger moves value between named holders and reports balances. Transfer
// must be atomic and leave both balances untouched when it fails.
type Ledger interface {
	Transfer(ctx context.Context, from, to [20]byte, amount *big.Int) error
	BalanceOf(ctx context.Context, holder [20]byte) (*big.Int, error)
}

// FlightRegistry validates flight identifiers against the flight-data
// authority.
type FlightRegistry interface {
	ValidateFlight(ctx context.Context, flightID string) (bool, error)
}

// ProjectRegistry exposes reforestation project lookups.
type ProjectRegistry interface {
	ValidateProject(ctx context.Context, projectID string) (bool, error)
	ProjectOwner(ctx context.Context, projectID string) ([20]byte, error)
	ProjectParticipants(ctx context.Context, projectID string) ([][20]byte, error)
}

// CredentialIssuer mints the offset credential returned to linkage creators.
type CredentialIssuer interface {
	IssueCredential(ctx context.Context, owner [20]byte, flightID, projectID string, amount *big.Int) (string, error)
}

// VerifierRoster is the oracle holding the identities eligible to vote.
type VerifierRoster interface {
	IsAuthorizedVerifier(ctx context.Context, addr [20]byte) (bool, error)
	VerifierRoster(ctx context.Context) ([][20]byte, error)
}

// Adapters bundles the external collaborators consumed by the engine.
type Adapters struct {
	Ledger      Ledger
	Flights     FlightRegistry
	Projects    ProjectRegistry
	Credentials CredentialIssuer
	Verifiers   VerifierRoster
}

func (a Adapters) complete() bool {
	return a.Ledger != nil && a.Flights != nil && a.Projects != nil && a.Credentials != nil && a.Verifiers != nil
}
