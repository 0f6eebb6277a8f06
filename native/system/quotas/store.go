package quotas

import (
	"fmt"

	nativecommon "carbonlink/native/common"
)

type counterRecord struct {
	EpochID    uint64
	ReqCount   uint32
	EscrowUsed uint64
}

type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store persists quota counters in the node's key/value state so limits hold
// across restarts. It satisfies nativecommon.CounterStore.
type Store struct {
	module string
	state  StoreState
}

func NewStore(module string, state StoreState) *Store {
	return &Store{module: normaliseModule(module), state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("quota store not initialised")
	}
	return s.state, nil
}

// Load returns the counters recorded for addr. Missing records load as zero.
func (s *Store) Load(addr [20]byte) (nativecommon.QuotaNow, error) {
	state, err := s.withState()
	if err != nil {
		return nativecommon.QuotaNow{}, err
	}
	var stored counterRecord
	ok, err := state.KVGet(counterKey(s.module, addr), &stored)
	if err != nil {
		return nativecommon.QuotaNow{}, fmt.Errorf("quota: load counters: %w", err)
	}
	if !ok {
		return nativecommon.QuotaNow{}, nil
	}
	return nativecommon.QuotaNow{EpochID: stored.EpochID, ReqCount: stored.ReqCount, EscrowUsed: stored.EscrowUsed}, nil
}

// Save overwrites the counters recorded for addr.
func (s *Store) Save(addr [20]byte, counters nativecommon.QuotaNow) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	record := counterRecord{EpochID: counters.EpochID, ReqCount: counters.ReqCount, EscrowUsed: counters.EscrowUsed}
	if err := state.KVPut(counterKey(s.module, addr), record); err != nil {
		return fmt.Errorf("quota: persist counters: %w", err)
	}
	return nil
}
