// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package file

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/0xsoniclabs/statetrie/backend"
)

// lengthPrefixSize is the size of the record length prefix in bytes.
const lengthPrefixSize = 4

// Store is a backend.Storer and backend.Loader over a seekable stream,
// typically a file. Records are appended at the end of the stream, each
// prefixed by its length as a 4-byte big-endian integer. A reference is the
// stream offset of the record's length prefix.
type Store struct {
	stream io.ReadWriteSeeker
}

// NewStore constructs a store over the given stream. Existing content is
// kept; records stored earlier remain loadable by their references.
func NewStore(stream io.ReadWriteSeeker) *Store {
	return &Store{stream: stream}
}

// OpenStore opens or creates the file at the given path and constructs a
// store over it. The caller owns the returned store and must Close it.
func OpenStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	return &FileStore{Store: Store{stream: f}, file: f}, nil
}

// FileStore is a Store over an owned file handle.
type FileStore struct {
	Store
	file *os.File
}

// Flush forces buffered data to stable storage.
func (s *FileStore) Flush() error {
	return s.file.Sync()
}

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	return errors.Join(s.file.Sync(), s.file.Close())
}

// StoreRaw appends the record at the end of the stream and returns its
// offset.
func (s *Store) StoreRaw(data []byte) (backend.Reference, error) {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("record of %d bytes exceeds the stream format limit", len(data))
	}
	offset, err := s.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to seek to stream end: %w", err)
	}
	var length [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := s.stream.Write(length[:]); err != nil {
		return 0, fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := s.stream.Write(data); err != nil {
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	return backend.Reference(offset), nil
}

// LoadRaw reads the record stored at the given offset.
func (s *Store) LoadRaw(ref backend.Reference) ([]byte, error) {
	if _, err := s.stream.Seek(int64(ref), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to record: %w", err)
	}
	var length [lengthPrefixSize]byte
	if _, err := io.ReadFull(s.stream, length[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, backend.ErrOutOfBounds
		}
		return nil, fmt.Errorf("failed to read record length: %w", err)
	}
	data := make([]byte, binary.BigEndian.Uint32(length[:]))
	if _, err := io.ReadFull(s.stream, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, backend.ErrOutOfBounds
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}
