package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"carbonlink/storage"
)

// Manager is the typed key/value view over the node database. Keys are
// namespaced by a readable prefix followed by the keccak256 of the RLP
// encoded key parts; values are RLP encoded.
type Manager struct {
	db storage.Database
	// commitMu serialises batch commits that read-modify-write shared
	// scalars.
	commitMu sync.Mutex
}

// NewManager binds a manager to the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the underlying store.
func (m *Manager) Database() storage.Database {
	if m == nil {
		return nil
	}
	return m.db
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %x: %w", key, err)
	}
	return true, nil
}

// KVEntry is one RLP value destined for a batch write.
type KVEntry struct {
	Key   []byte
	Value interface{}
}

// KVPutBatch encodes every entry and writes them as one atomic batch.
func (m *Manager) KVPutBatch(entries ...KVEntry) error {
	batch := storage.NewBatch()
	for _, entry := range entries {
		if len(entry.Key) == 0 {
			return fmt.Errorf("kv: key must not be empty")
		}
		encoded, err := rlp.EncodeToBytes(entry.Value)
		if err != nil {
			return err
		}
		batch.Put(entry.Key, encoded)
	}
	return m.db.Write(batch)
}

// HashedKey returns prefix || keccak256(rlp(parts)). Parts must be RLP
// encodable scalars (strings, byte arrays, unsigned integers).
func HashedKey(prefix []byte, parts ...interface{}) []byte {
	encoded, err := rlp.EncodeToBytes(parts)
	if err != nil {
		// Only strings and fixed byte arrays are passed in; their encoding
		// cannot fail.
		panic(fmt.Sprintf("state: encode key parts: %v", err))
	}
	digest := ethcrypto.Keccak256(encoded)
	out := make([]byte, 0, len(prefix)+len(digest))
	out = append(out, prefix...)
	return append(out, digest...)
}
