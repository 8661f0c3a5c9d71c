package state

import (
	"bytes"
	"errors"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"lendledger/storage"
)

var errEmptyKey = errors.New("state: key must not be empty")

// KVStore is the minimal key-value contract the manager persists through. Both
// storage.Database and Overlay satisfy it.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Manager reads and writes RLP-encoded ledger records. Every logical key is
// hashed with keccak256 before it reaches the store.
type Manager struct {
	store KVStore
}

// NewManager creates a state manager operating on the provided store.
func NewManager(store KVStore) *Manager {
	return &Manager{store: store}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) load(hashed []byte) ([]byte, error) {
	data, err := m.store.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVPut RLP-encodes value and stores it under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.store.Put(kvKey(key), encoded)
}

// KVGet decodes the record under key into out and reports whether it exists.
// A nil out only checks presence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKey
	}
	data, err := m.load(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	return m.store.Delete(kvKey(key))
}

// KVAppend adds value to the byte-slice set stored under key. Re-adding an
// existing member is a no-op, so index order is insertion order.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	hashed := kvKey(key)
	data, err := m.load(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.store.Put(hashed, encoded)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return errEmptyKey
	}
	data, err := m.load(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return errors.New("state: list destination must be a non-nil slice pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return errors.New("state: list destination must be a non-nil slice pointer")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
