// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"
	"io"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/statetrie/backend/file"
	"github.com/0xsoniclabs/statetrie/backend/ldb"
	"github.com/0xsoniclabs/statetrie/backend/memory"
	"github.com/0xsoniclabs/statetrie/backend/sqlite"
	"github.com/urfave/cli/v2"
)

var backendFlag = cli.StringFlag{
	Name:  "backend",
	Usage: "the storage backend to use, one of memory, file, leveldb, sqlite",
	Value: "file",
}

// trieStore combines the two sides of the store contract with a closer.
type trieStore interface {
	backend.Storer
	backend.Loader
	io.Closer
}

type memoryStore struct {
	*memory.Store
}

func (memoryStore) Close() error { return nil }

// openStore opens or creates a trie store of the given kind at the path.
func openStore(kind, path string) (trieStore, error) {
	switch kind {
	case "memory":
		return memoryStore{memory.NewStore()}, nil
	case "file":
		return file.OpenStore(path)
	case "leveldb":
		return ldb.OpenStore(path)
	case "sqlite":
		return sqlite.OpenStore(path)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
