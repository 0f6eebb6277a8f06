package linkage

import "math/big"

// State opens write sets against the linkage store. The engine is the only
// writer; every operation runs inside exactly one transaction.
type State interface {
	Begin() (StateTx, error)
}

// StateTx is a staged view over the store. Reads observe the transaction's own
// writes. Scalar adjustments are applied as deltas at commit so transactions
// on different keys never clobber each other's totals.
type StateTx interface {
	Paused() (bool, error)
	SetPaused(paused bool)
	Authority() ([20]byte, error)
	SetAuthority(addr [20]byte)
	EscrowTotal() (*big.Int, error)
	AdjustEscrowTotal(delta *big.Int)
	TotalLinkages() (uint64, error)
	IncrementLinkages()

	Linkage(key Key) (*Linkage, bool, error)
	PutLinkage(l *Linkage) error
	Metadata(key Key) (*Metadata, bool, error)
	PutMetadata(key Key, meta *Metadata) error
	Vote(key Key, verifier [20]byte) (*Vote, bool, error)
	PutVote(key Key, vote *Vote) error
	Voters(key Key) ([][20]byte, error)
	Dispute(key Key) (*Dispute, bool, error)
	PutDispute(key Key, dispute *Dispute) error
	RevenueShare(key Key, participant [20]byte) (*RevenueShare, bool, error)
	PutRevenueShare(key Key, share *RevenueShare) error
	ShareParticipants(key Key) ([][20]byte, error)

	Commit() error
	Discard()
}
