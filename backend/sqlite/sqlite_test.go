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
	"path/filepath"
	"testing"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/stretchr/testify/require"
)

func TestStore_StoreAndLoad(t *testing.T) {
	require := require.New(t)
	store, err := OpenStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(err)
	defer store.Close()

	refA, err := store.StoreRaw([]byte("first"))
	require.NoError(err)
	refB, err := store.StoreRaw([]byte("second"))
	require.NoError(err)
	require.NotEqual(refA, refB)

	got, err := store.LoadRaw(refA)
	require.NoError(err)
	require.Equal([]byte("first"), got)

	got, err = store.LoadRaw(refB)
	require.NoError(err)
	require.Equal([]byte("second"), got)
}

func TestStore_UnknownReference(t *testing.T) {
	require := require.New(t)
	store, err := OpenStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(err)
	defer store.Close()

	_, err = store.LoadRaw(42)
	require.ErrorIs(err, backend.ErrOutOfBounds)
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "records.db")

	store, err := OpenStore(path)
	require.NoError(err)
	ref, err := store.StoreRaw([]byte("persisted"))
	require.NoError(err)
	require.NoError(store.Close())

	store, err = OpenStore(path)
	require.NoError(err)
	defer store.Close()

	got, err := store.LoadRaw(ref)
	require.NoError(err)
	require.Equal([]byte("persisted"), got)
}
