// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ldb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
)

// Store is a LevelDB-backed backend.Storer and backend.Loader. References
// are a monotone sequence; the sequence number in big-endian serves as the
// database key. Record bytes are snappy-compressed.
type Store struct {
	db   *leveldb.DB
	next uint64
}

// OpenStore opens or creates a LevelDB database at the given path. The
// caller owns the returned store and must Close it.
func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb database: %w", err)
	}
	store := &Store{db: db}
	// recover the next sequence number from the highest key present
	iter := db.NewIterator(nil, nil)
	if iter.Last() {
		store.next = binary.BigEndian.Uint64(iter.Key()) + 1
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to scan leveldb database: %w", err), db.Close())
	}
	return store, nil
}

// StoreRaw persists the record under the next sequence number.
func (s *Store) StoreRaw(data []byte) (backend.Reference, error) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], s.next)
	if err := s.db.Put(key[:], snappy.Encode(nil, data), nil); err != nil {
		return 0, fmt.Errorf("failed to write record %d: %w", s.next, err)
	}
	ref := backend.Reference(s.next)
	s.next++
	return ref, nil
}

// LoadRaw returns the record stored under the given sequence number.
func (s *Store) LoadRaw(ref backend.Reference) ([]byte, error) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(ref))
	compressed, err := s.db.Get(key[:], nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, backend.ErrOutOfBounds
		}
		return nil, fmt.Errorf("failed to read record %d: %w", ref, err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record %d: %w", ref, err)
	}
	return data, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
