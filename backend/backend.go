// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package backend

//go:generate mockgen -source backend.go -destination backend_mocks.go -package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Reference identifies a record in a backing store. It is opaque to the
// trie; only the store that issued it can interpret it. References are
// persisted as 8 bytes big-endian.
type Reference uint64

// ReferenceSize is the persisted size of a Reference in bytes.
const ReferenceSize = 8

// Store writes the reference to the given writer in its persistent format.
func (r Reference) Store(writer io.Writer) error {
	var buf [ReferenceSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(r))
	if _, err := writer.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write reference: %w", err)
	}
	return nil
}

// ReadReference reads a reference in its persistent format from the reader.
func ReadReference(reader io.Reader) (Reference, error) {
	var buf [ReferenceSize]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read reference: %w", err)
	}
	return Reference(binary.BigEndian.Uint64(buf[:])), nil
}

// Storer is a backing store accepting opaque records and issuing references
// under which they can be loaded back.
type Storer interface {
	// StoreRaw persists the given record and returns a reference to it.
	// The store must not retain the slice beyond the call.
	StoreRaw(data []byte) (Reference, error)
}

// Loader resolves references issued by a Storer back to record bytes.
type Loader interface {
	// LoadRaw returns the record stored under the given reference. The
	// returned slice must not be modified by the caller.
	LoadRaw(ref Reference) ([]byte, error)
}

// ErrOutOfBounds is returned by loaders when a reference does not name a
// stored record.
var ErrOutOfBounds = errors.New("reference out of bounds")
