package linkage

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// ConsensusThreshold is the number of like votes that finalises a
	// pending linkage.
	ConsensusThreshold = 3
	// MaxVerifiers caps the number of votes a single linkage accepts.
	MaxVerifiers = 5
	// DisputeWindow is the number of heights after the last status change
	// during which a verified linkage may be disputed.
	DisputeWindow uint64 = 144

	MaxIDLength          = 64
	MaxDescriptionLength = 256
	MaxReasonLength      = 256
	MaxTags              = 10
	MaxTagLength         = 32
	MaxPercentage        = 100
)

// Status enumerates the lifecycle states of a linkage.
type Status uint8

const (
	StatusPending Status = iota
	StatusVerified
	StatusRejected
	StatusDisputed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected, StatusDisputed:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusRejected:
		return "rejected"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Choice is a verifier ballot.
type Choice uint8

const (
	ChoiceApprove Choice = iota + 1
	ChoiceReject
)

func (c Choice) String() string {
	switch c {
	case ChoiceApprove:
		return "approve"
	case ChoiceReject:
		return "reject"
	default:
		return ""
	}
}

// ParseChoice accepts the two vote literals, ignoring case and surrounding
// whitespace.
func ParseChoice(raw string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve":
		return ChoiceApprove, nil
	case "reject":
		return ChoiceReject, nil
	default:
		return 0, fmt.Errorf("%w: unsupported vote %q", ErrVerificationFailed, raw)
	}
}

// Outcome records how a dispute was closed.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "none"
	}
}

// Key identifies a linkage: one flight tied to one reforestation project.
// Key is comparable and is used directly as a map key; storage layers must
// encode both parts structurally.
type Key struct {
	FlightID  string
	ProjectID string
}

func (k Key) String() string {
	return k.FlightID + "/" + k.ProjectID
}

func validID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// Linkage is the escrow record binding a flight to a project.
type Linkage struct {
	Key               Key
	OffsetAmount      *big.Int
	CredentialID      string
	Status            Status
	EscrowAmount      *big.Int
	Creator           [20]byte
	CreatedAt         uint64
	LastUpdatedAt     uint64
	VerificationCount uint32
	RejectionCount    uint32
	// Released and Refunded record the single consumption of the escrow.
	Released bool
	Refunded bool
}

// Clone returns a deep copy so callers can mutate without touching the stored
// instance.
func (l *Linkage) Clone() *Linkage {
	if l == nil {
		return nil
	}
	clone := *l
	clone.OffsetAmount = cloneBigInt(l.OffsetAmount)
	clone.EscrowAmount = cloneBigInt(l.EscrowAmount)
	return &clone
}

// EscrowHeld reports whether the vault still holds this linkage's payment.
func (l *Linkage) EscrowHeld() bool {
	return l != nil && !l.Released && !l.Refunded
}

// Metadata is creator-controlled descriptive data with no lifecycle coupling.
type Metadata struct {
	Description string
	Tags        []string
	Visible     bool
}

func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Tags = append([]string(nil), m.Tags...)
	return &clone
}

// Validate enforces the description and tag bounds.
func (m *Metadata) Validate() error {
	if m == nil {
		return nil
	}
	if len(m.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d bytes", ErrInvalidMetadata, MaxDescriptionLength)
	}
	if len(m.Tags) > MaxTags {
		return fmt.Errorf("%w: at most %d tags", ErrInvalidMetadata, MaxTags)
	}
	for _, tag := range m.Tags {
		if strings.TrimSpace(tag) == "" || len(tag) > MaxTagLength {
			return fmt.Errorf("%w: tag %q out of bounds", ErrInvalidMetadata, tag)
		}
	}
	return nil
}

// Vote is a single verifier ballot. Votes are immutable once cast.
type Vote struct {
	Verifier [20]byte
	Choice   Choice
	CastAt   uint64
}

func (v *Vote) Clone() *Vote {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// Dispute is the challenge record for a verified linkage. Resolved disputes
// are retained.
type Dispute struct {
	Initiator  [20]byte
	Reason     string
	Active     bool
	OpenedAt   uint64
	ResolvedAt uint64
	Outcome    Outcome
	Resolver   [20]byte
}

func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// RevenueShare is a participant's percentage of a released escrow and the
// cumulative amount already paid to them.
type RevenueShare struct {
	Participant [20]byte
	Percentage  uint32
	Received    *big.Int
}

func (r *RevenueShare) Clone() *RevenueShare {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Received = cloneBigInt(r.Received)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
