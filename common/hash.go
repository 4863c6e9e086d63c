// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// HashSize is the byte length of all digests used in this module.
const HashSize = 32

// Hash is a SHA-256 digest identifying a node or a value.
type Hash [HashSize]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashBytes computes the digest of a value: the SHA-256 of the value's
// length as an 8-byte big-endian integer followed by the value bytes.
// The length prefix makes the value domain prefix-free.
func HashBytes(data []byte) Hash {
	hasher := sha256.New()
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	hasher.Write(length[:])
	hasher.Write(data)
	var h Hash
	hasher.Sum(h[:0])
	return h
}

// ReadHash reads a single digest from the given reader.
func ReadHash(reader io.Reader) (Hash, error) {
	var h Hash
	_, err := io.ReadFull(reader, h[:])
	return h, err
}
