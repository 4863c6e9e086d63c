// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/0xsoniclabs/statetrie/backend"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed backend.Storer and backend.Loader. Records live
// in a single table keyed by rowid; the rowid is the reference.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	load   *sql.Stmt
}

// OpenStore opens or creates a SQLite database at the given path. The
// caller owns the returned store and must Close it.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS records (id INTEGER PRIMARY KEY, data BLOB NOT NULL)"); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create records table: %w", err), db.Close())
	}
	insert, err := db.Prepare("INSERT INTO records (data) VALUES (?)")
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to prepare insert statement: %w", err), db.Close())
	}
	load, err := db.Prepare("SELECT data FROM records WHERE id = ?")
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to prepare select statement: %w", err), insert.Close(), db.Close())
	}
	return &Store{db: db, insert: insert, load: load}, nil
}

// StoreRaw persists the record and returns its rowid.
func (s *Store) StoreRaw(data []byte) (backend.Reference, error) {
	res, err := s.insert.Exec(data)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve record id: %w", err)
	}
	return backend.Reference(id), nil
}

// LoadRaw returns the record stored under the given rowid.
func (s *Store) LoadRaw(ref backend.Reference) ([]byte, error) {
	var data []byte
	if err := s.load.QueryRow(int64(ref)).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrOutOfBounds
		}
		return nil, fmt.Errorf("failed to read record %d: %w", ref, err)
	}
	return data, nil
}

// Close releases the prepared statements and the database.
func (s *Store) Close() error {
	return errors.Join(s.insert.Close(), s.load.Close(), s.db.Close())
}
