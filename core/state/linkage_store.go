package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"carbonlink/native/linkage"
	"carbonlink/storage"
)

var (
	linkagePrefix      = []byte("linkage/record/")
	linkageMetaPrefix  = []byte("linkage/meta/")
	linkageVotePrefix  = []byte("linkage/vote/")
	linkageVoterIndex  = []byte("linkage/vote-index/")
	linkageDispute     = []byte("linkage/dispute/")
	linkageSharePrefix = []byte("linkage/share/")
	linkageShareIndex  = []byte("linkage/share-index/")

	linkagePausedKey      = []byte("linkage/scalar/paused")
	linkageAuthorityKey   = []byte("linkage/scalar/authority")
	linkageEscrowTotalKey = []byte("linkage/scalar/escrow-total")
	linkageCountKey       = []byte("linkage/scalar/total-linkages")
)

type storedLinkage struct {
	FlightID          string
	ProjectID         string
	OffsetAmount      *big.Int
	CredentialID      string
	Status            uint8
	EscrowAmount      *big.Int
	Creator           [20]byte
	CreatedAt         uint64
	LastUpdatedAt     uint64
	VerificationCount uint32
	RejectionCount    uint32
	Released          bool
	Refunded          bool
}

type storedMetadata struct {
	Description string
	Tags        []string
	Visible     bool
}

type storedVote struct {
	Verifier [20]byte
	Choice   uint8
	CastAt   uint64
}

type storedDispute struct {
	Initiator  [20]byte
	Reason     string
	Active     bool
	OpenedAt   uint64
	ResolvedAt uint64
	Outcome    uint8
	Resolver   [20]byte
}

type storedShare struct {
	Participant [20]byte
	Percentage  uint32
	Received    *big.Int
}

func linkageKey(key linkage.Key) []byte {
	return HashedKey(linkagePrefix, key.FlightID, key.ProjectID)
}

func linkageMetaKey(key linkage.Key) []byte {
	return HashedKey(linkageMetaPrefix, key.FlightID, key.ProjectID)
}

func linkageVoteKey(key linkage.Key, verifier [20]byte) []byte {
	return HashedKey(linkageVotePrefix, key.FlightID, key.ProjectID, verifier)
}

func linkageVoterIndexKey(key linkage.Key) []byte {
	return HashedKey(linkageVoterIndex, key.FlightID, key.ProjectID)
}

func linkageDisputeKey(key linkage.Key) []byte {
	return HashedKey(linkageDispute, key.FlightID, key.ProjectID)
}

func linkageShareKey(key linkage.Key, participant [20]byte) []byte {
	return HashedKey(linkageSharePrefix, key.FlightID, key.ProjectID, participant)
}

func linkageShareIndexKey(key linkage.Key) []byte {
	return HashedKey(linkageShareIndex, key.FlightID, key.ProjectID)
}

// LinkageStore persists linkage records, ballots, disputes, revenue shares
// and the module scalars.
type LinkageStore struct {
	manager *Manager
}

// NewLinkageStore returns a store backed by the manager's database.
func NewLinkageStore(manager *Manager) *LinkageStore {
	return &LinkageStore{manager: manager}
}

// LinkageStore returns a linkage store bound to the manager.
func (m *Manager) LinkageStore() *LinkageStore {
	if m == nil {
		return nil
	}
	return NewLinkageStore(m)
}

// Begin opens a write set. It satisfies linkage.State.
func (s *LinkageStore) Begin() (linkage.StateTx, error) {
	if s == nil || s.manager == nil || s.manager.db == nil {
		return nil, fmt.Errorf("linkage store: database unavailable")
	}
	return &LinkageTx{
		store:       s,
		writes:      make(map[string][]byte),
		escrowDelta: new(big.Int),
	}, nil
}

// InitAuthority records addr as the authority when none is set yet. It
// returns the authority in effect afterwards.
func (s *LinkageStore) InitAuthority(addr [20]byte) ([20]byte, error) {
	m := s.manager
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	var current [20]byte
	ok, err := m.KVGet(linkageAuthorityKey, &current)
	if err != nil {
		return [20]byte{}, err
	}
	if ok && current != ([20]byte{}) {
		return current, nil
	}
	if err := m.KVPut(linkageAuthorityKey, addr); err != nil {
		return [20]byte{}, err
	}
	return addr, nil
}

// LinkageTx stages writes in memory. Reads consult the staged writes before
// the database. Committed scalars are applied as deltas against the values
// current at commit time.
type LinkageTx struct {
	store  *LinkageStore
	writes map[string][]byte
	order  []string

	escrowDelta  *big.Int
	linkageDelta uint64
	paused       *bool
	authority    *[20]byte
	done         bool
}

func (tx *LinkageTx) get(key []byte, out interface{}) (bool, error) {
	if data, ok := tx.writes[string(key)]; ok {
		if err := rlp.DecodeBytes(data, out); err != nil {
			return false, fmt.Errorf("linkage store: decode staged %x: %w", key, err)
		}
		return true, nil
	}
	return tx.store.manager.KVGet(key, out)
}

func (tx *LinkageTx) put(key []byte, value interface{}) error {
	if tx.done {
		return fmt.Errorf("linkage store: transaction closed")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(key)
	if _, seen := tx.writes[k]; !seen {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = encoded
	return nil
}

func (tx *LinkageTx) Paused() (bool, error) {
	if tx.paused != nil {
		return *tx.paused, nil
	}
	var paused bool
	if _, err := tx.store.manager.KVGet(linkagePausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (tx *LinkageTx) SetPaused(paused bool) {
	tx.paused = &paused
}

func (tx *LinkageTx) Authority() ([20]byte, error) {
	if tx.authority != nil {
		return *tx.authority, nil
	}
	var authority [20]byte
	if _, err := tx.store.manager.KVGet(linkageAuthorityKey, &authority); err != nil {
		return [20]byte{}, err
	}
	return authority, nil
}

func (tx *LinkageTx) SetAuthority(addr [20]byte) {
	tx.authority = &addr
}

func (tx *LinkageTx) committedEscrowTotal() (*big.Int, error) {
	total := new(big.Int)
	if _, err := tx.store.manager.KVGet(linkageEscrowTotalKey, total); err != nil {
		return nil, err
	}
	return total, nil
}

func (tx *LinkageTx) EscrowTotal() (*big.Int, error) {
	total, err := tx.committedEscrowTotal()
	if err != nil {
		return nil, err
	}
	return total.Add(total, tx.escrowDelta), nil
}

func (tx *LinkageTx) AdjustEscrowTotal(delta *big.Int) {
	if delta == nil {
		return
	}
	tx.escrowDelta.Add(tx.escrowDelta, delta)
}

func (tx *LinkageTx) committedLinkages() (uint64, error) {
	var count uint64
	if _, err := tx.store.manager.KVGet(linkageCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (tx *LinkageTx) TotalLinkages() (uint64, error) {
	count, err := tx.committedLinkages()
	if err != nil {
		return 0, err
	}
	return count + tx.linkageDelta, nil
}

func (tx *LinkageTx) IncrementLinkages() {
	tx.linkageDelta++
}

func (tx *LinkageTx) Linkage(key linkage.Key) (*linkage.Linkage, bool, error) {
	var stored storedLinkage
	ok, err := tx.get(linkageKey(key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &linkage.Linkage{
		Key:               linkage.Key{FlightID: stored.FlightID, ProjectID: stored.ProjectID},
		OffsetAmount:      nonNil(stored.OffsetAmount),
		CredentialID:      stored.CredentialID,
		Status:            linkage.Status(stored.Status),
		EscrowAmount:      nonNil(stored.EscrowAmount),
		Creator:           stored.Creator,
		CreatedAt:         stored.CreatedAt,
		LastUpdatedAt:     stored.LastUpdatedAt,
		VerificationCount: stored.VerificationCount,
		RejectionCount:    stored.RejectionCount,
		Released:          stored.Released,
		Refunded:          stored.Refunded,
	}, true, nil
}

func (tx *LinkageTx) PutLinkage(l *linkage.Linkage) error {
	if l == nil {
		return fmt.Errorf("linkage store: nil linkage")
	}
	if !l.Status.Valid() {
		return fmt.Errorf("linkage store: invalid status %d", l.Status)
	}
	return tx.put(linkageKey(l.Key), &storedLinkage{
		FlightID:          l.Key.FlightID,
		ProjectID:         l.Key.ProjectID,
		OffsetAmount:      nonNil(l.OffsetAmount),
		CredentialID:      l.CredentialID,
		Status:            uint8(l.Status),
		EscrowAmount:      nonNil(l.EscrowAmount),
		Creator:           l.Creator,
		CreatedAt:         l.CreatedAt,
		LastUpdatedAt:     l.LastUpdatedAt,
		VerificationCount: l.VerificationCount,
		RejectionCount:    l.RejectionCount,
		Released:          l.Released,
		Refunded:          l.Refunded,
	})
}

func (tx *LinkageTx) Metadata(key linkage.Key) (*linkage.Metadata, bool, error) {
	var stored storedMetadata
	ok, err := tx.get(linkageMetaKey(key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &linkage.Metadata{
		Description: stored.Description,
		Tags:        append([]string(nil), stored.Tags...),
		Visible:     stored.Visible,
	}, true, nil
}

func (tx *LinkageTx) PutMetadata(key linkage.Key, meta *linkage.Metadata) error {
	if meta == nil {
		return fmt.Errorf("linkage store: nil metadata")
	}
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	return tx.put(linkageMetaKey(key), &storedMetadata{
		Description: meta.Description,
		Tags:        tags,
		Visible:     meta.Visible,
	})
}

func (tx *LinkageTx) Vote(key linkage.Key, verifier [20]byte) (*linkage.Vote, bool, error) {
	var stored storedVote
	ok, err := tx.get(linkageVoteKey(key, verifier), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &linkage.Vote{
		Verifier: stored.Verifier,
		Choice:   linkage.Choice(stored.Choice),
		CastAt:   stored.CastAt,
	}, true, nil
}

// PutVote stores the ballot and appends the verifier to the per-linkage
// index the first time they vote.
func (tx *LinkageTx) PutVote(key linkage.Key, vote *linkage.Vote) error {
	if vote == nil {
		return fmt.Errorf("linkage store: nil vote")
	}
	voters, err := tx.Voters(key)
	if err != nil {
		return err
	}
	if !containsAddr(voters, vote.Verifier) {
		if err := tx.put(linkageVoterIndexKey(key), append(voters, vote.Verifier)); err != nil {
			return err
		}
	}
	return tx.put(linkageVoteKey(key, vote.Verifier), &storedVote{
		Verifier: vote.Verifier,
		Choice:   uint8(vote.Choice),
		CastAt:   vote.CastAt,
	})
}

func (tx *LinkageTx) Voters(key linkage.Key) ([][20]byte, error) {
	var voters [][20]byte
	if _, err := tx.get(linkageVoterIndexKey(key), &voters); err != nil {
		return nil, err
	}
	return voters, nil
}

func (tx *LinkageTx) Dispute(key linkage.Key) (*linkage.Dispute, bool, error) {
	var stored storedDispute
	ok, err := tx.get(linkageDisputeKey(key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &linkage.Dispute{
		Initiator:  stored.Initiator,
		Reason:     stored.Reason,
		Active:     stored.Active,
		OpenedAt:   stored.OpenedAt,
		ResolvedAt: stored.ResolvedAt,
		Outcome:    linkage.Outcome(stored.Outcome),
		Resolver:   stored.Resolver,
	}, true, nil
}

func (tx *LinkageTx) PutDispute(key linkage.Key, d *linkage.Dispute) error {
	if d == nil {
		return fmt.Errorf("linkage store: nil dispute")
	}
	return tx.put(linkageDisputeKey(key), &storedDispute{
		Initiator:  d.Initiator,
		Reason:     d.Reason,
		Active:     d.Active,
		OpenedAt:   d.OpenedAt,
		ResolvedAt: d.ResolvedAt,
		Outcome:    uint8(d.Outcome),
		Resolver:   d.Resolver,
	})
}

func (tx *LinkageTx) RevenueShare(key linkage.Key, participant [20]byte) (*linkage.RevenueShare, bool, error) {
	var stored storedShare
	ok, err := tx.get(linkageShareKey(key, participant), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &linkage.RevenueShare{
		Participant: stored.Participant,
		Percentage:  stored.Percentage,
		Received:    nonNil(stored.Received),
	}, true, nil
}

// PutRevenueShare stores the share and indexes the participant on first
// assignment.
func (tx *LinkageTx) PutRevenueShare(key linkage.Key, share *linkage.RevenueShare) error {
	if share == nil {
		return fmt.Errorf("linkage store: nil revenue share")
	}
	participants, err := tx.ShareParticipants(key)
	if err != nil {
		return err
	}
	if !containsAddr(participants, share.Participant) {
		if err := tx.put(linkageShareIndexKey(key), append(participants, share.Participant)); err != nil {
			return err
		}
	}
	return tx.put(linkageShareKey(key, share.Participant), &storedShare{
		Participant: share.Participant,
		Percentage:  share.Percentage,
		Received:    nonNil(share.Received),
	})
}

func (tx *LinkageTx) ShareParticipants(key linkage.Key) ([][20]byte, error) {
	var participants [][20]byte
	if _, err := tx.get(linkageShareIndexKey(key), &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

// Commit writes the staged records and scalar deltas in one batch.
func (tx *LinkageTx) Commit() error {
	if tx.done {
		return fmt.Errorf("linkage store: transaction closed")
	}
	tx.done = true
	m := tx.store.manager
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	batch := storage.NewBatch()
	for _, k := range tx.order {
		batch.Put([]byte(k), tx.writes[k])
	}
	if tx.escrowDelta.Sign() != 0 {
		total, err := tx.committedEscrowTotal()
		if err != nil {
			return err
		}
		total.Add(total, tx.escrowDelta)
		if total.Sign() < 0 {
			return errors.New("linkage store: escrow total would become negative")
		}
		if err := putEncoded(batch, linkageEscrowTotalKey, total); err != nil {
			return err
		}
	}
	if tx.linkageDelta != 0 {
		count, err := tx.committedLinkages()
		if err != nil {
			return err
		}
		if err := putEncoded(batch, linkageCountKey, count+tx.linkageDelta); err != nil {
			return err
		}
	}
	if tx.paused != nil {
		if err := putEncoded(batch, linkagePausedKey, *tx.paused); err != nil {
			return err
		}
	}
	if tx.authority != nil {
		if err := putEncoded(batch, linkageAuthorityKey, *tx.authority); err != nil {
			return err
		}
	}
	if batch.Len() == 0 {
		return nil
	}
	return m.db.Write(batch)
}

// Discard drops the staged writes.
func (tx *LinkageTx) Discard() {
	tx.done = true
	tx.writes = nil
	tx.order = nil
}

func putEncoded(batch *storage.Batch, key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	batch.Put(key, encoded)
	return nil
}

func containsAddr(list [][20]byte, addr [20]byte) bool {
	for _, candidate := range list {
		if candidate == addr {
			return true
		}
	}
	return false
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
