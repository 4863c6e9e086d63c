// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package memory

import (
	"encoding/binary"

	"github.com/0xsoniclabs/statetrie/backend"
)

// lengthPrefixSize is the size of the record length prefix in bytes.
const lengthPrefixSize = 8

// Store is an in-memory backend.Storer and backend.Loader implementation.
// Records are appended to a single byte buffer, each prefixed by its length
// as an 8-byte big-endian integer. A reference is the buffer offset of the
// record's length prefix.
type Store struct {
	data []byte
}

// NewStore constructs a new empty in-memory store.
func NewStore() *Store {
	return &Store{}
}

// NewStoreFromBytes constructs a store over an existing dump obtained from
// Bytes. References issued before the dump remain valid.
func NewStoreFromBytes(data []byte) *Store {
	return &Store{data: data}
}

// StoreRaw appends the record to the buffer and returns its offset.
func (s *Store) StoreRaw(data []byte) (backend.Reference, error) {
	ref := backend.Reference(len(s.data))
	var length [lengthPrefixSize]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	s.data = append(s.data, length[:]...)
	s.data = append(s.data, data...)
	return ref, nil
}

// LoadRaw returns the record stored at the given offset. The returned slice
// aliases the store's buffer and must not be modified.
func (s *Store) LoadRaw(ref backend.Reference) ([]byte, error) {
	// references are untrusted input, all arithmetic must avoid overflow
	start := uint64(ref)
	size := uint64(len(s.data))
	if start > size || size-start < lengthPrefixSize {
		return nil, backend.ErrOutOfBounds
	}
	length := binary.BigEndian.Uint64(s.data[start : start+lengthPrefixSize])
	if length > size-start-lengthPrefixSize {
		return nil, backend.ErrOutOfBounds
	}
	return s.data[start+lengthPrefixSize : start+lengthPrefixSize+length], nil
}

// Bytes returns the raw store content for dumping. The returned slice
// aliases the store's buffer.
func (s *Store) Bytes() []byte {
	return s.data
}

// Size returns the number of bytes held by the store.
func (s *Store) Size() int {
	return len(s.data)
}
