package state

import (
	"encoding/binary"
	"errors"
	"sort"

	"lukechampine.com/blake3"

	"lendledger/storage"
)

// Overlay buffers the writes of a single ledger call on top of a database.
// Reads observe buffered writes first. Nothing reaches the database until
// Commit, which applies the whole write set as one batch.
type Overlay struct {
	base    storage.Database
	writes  map[string][]byte
	deletes map[string]struct{}
}

// NewOverlay opens an empty write buffer over base.
func NewOverlay(base storage.Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Get returns the buffered value for key, falling back to the database.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, deleted := o.deletes[k]; deleted {
		return nil, storage.ErrNotFound
	}
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

// Put buffers a write.
func (o *Overlay) Put(key []byte, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

// Delete buffers a deletion.
func (o *Overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// Len reports the number of buffered mutations.
func (o *Overlay) Len() int {
	return len(o.writes) + len(o.deletes)
}

func (o *Overlay) sortedKeys() []string {
	keys := make([]string, 0, o.Len())
	for k := range o.writes {
		keys = append(keys, k)
	}
	for k := range o.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Digest returns the blake3 hash of the buffered write set. Identical write
// sets produce identical digests regardless of the order they were buffered.
func (o *Overlay) Digest() [32]byte {
	hasher := blake3.New(32, nil)
	var lenBuf [8]byte
	for _, k := range o.sortedKeys() {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(k)))
		hasher.Write(lenBuf[:])
		hasher.Write([]byte(k))
		if value, ok := o.writes[k]; ok {
			hasher.Write([]byte{1})
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(value)))
			hasher.Write(lenBuf[:])
			hasher.Write(value)
			continue
		}
		hasher.Write([]byte{0})
	}
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Commit writes the buffered mutations to the database atomically and
// returns the digest of the committed write set. The overlay is empty
// afterwards.
func (o *Overlay) Commit() ([32]byte, error) {
	if o.base == nil {
		return [32]byte{}, errors.New("state: overlay has no backing database")
	}
	digest := o.Digest()
	if o.Len() == 0 {
		return digest, nil
	}
	batch := o.base.NewBatch()
	for _, k := range o.sortedKeys() {
		if value, ok := o.writes[k]; ok {
			batch.Put([]byte(k), value)
			continue
		}
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return [32]byte{}, err
	}
	o.Discard()
	return digest, nil
}

// Discard drops every buffered mutation.
func (o *Overlay) Discard() {
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]struct{})
}
