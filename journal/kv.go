package journal

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"tappay/storage"
)

var kvEntryPrefix = []byte("journal/entry/")

// kvRecord is the RLP layout of an entry on disk.
type kvRecord struct {
	Seq       uint64
	Type      string
	Account   string
	Payload   []byte
	Timestamp uint64
}

// KV stores entries in a storage.Database under big-endian sequence keys so
// iteration order matches append order.
type KV struct {
	mu     sync.Mutex
	db     storage.Database
	head   uint64
	closed bool
}

// NewKV opens a journal on db and recovers the head sequence.
func NewKV(db storage.Database) (*KV, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	j := &KV{db: db}
	err := db.Iterate(kvEntryPrefix, func(key, _ []byte) bool {
		if seq, ok := seqFromKey(key); ok && seq > j.head {
			j.head = seq
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("journal: recover head: %w", err)
	}
	return j, nil
}

// Head returns the last assigned sequence number.
func (j *KV) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.head
}

// Append encodes and stores entry under the next sequence number.
func (j *KV) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return Entry{}, ErrClosed
	}
	entry.Seq = j.head + 1
	encoded, err := rlp.EncodeToBytes(kvRecord(entry))
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode entry: %w", err)
	}
	if err := j.db.Put(seqKey(entry.Seq), encoded); err != nil {
		return Entry{}, fmt.Errorf("journal: put entry %d: %w", entry.Seq, err)
	}
	j.head = entry.Seq
	return entry, nil
}

// Iterate decodes entries after fromSeq in order.
func (j *KV) Iterate(ctx context.Context, fromSeq uint64, fn func(Entry) bool) error {
	var decodeErr error
	err := j.db.Iterate(kvEntryPrefix, func(key, value []byte) bool {
		seq, ok := seqFromKey(key)
		if !ok || seq <= fromSeq {
			return true
		}
		if err := ctx.Err(); err != nil {
			decodeErr = err
			return false
		}
		var rec kvRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			decodeErr = fmt.Errorf("journal: decode entry %d: %w", seq, err)
			return false
		}
		return fn(Entry(rec))
	})
	if decodeErr != nil {
		return decodeErr
	}
	return err
}

// Close closes the underlying database.
func (j *KV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	j.db.Close()
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(kvEntryPrefix)+8)
	copy(key, kvEntryPrefix)
	binary.BigEndian.PutUint64(key[len(kvEntryPrefix):], seq)
	return key
}

func seqFromKey(key []byte) (uint64, bool) {
	if len(key) != len(kvEntryPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(kvEntryPrefix):]), true
}
