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
	"bytes"
	"testing"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/stretchr/testify/require"
)

func TestStore_StoreAndLoad(t *testing.T) {
	require := require.New(t)
	store, err := OpenStore(t.TempDir())
	require.NoError(err)
	defer store.Close()

	refA, err := store.StoreRaw([]byte("first"))
	require.NoError(err)
	refB, err := store.StoreRaw(bytes.Repeat([]byte("compressible "), 100))
	require.NoError(err)

	got, err := store.LoadRaw(refA)
	require.NoError(err)
	require.Equal([]byte("first"), got)

	got, err = store.LoadRaw(refB)
	require.NoError(err)
	require.Equal(bytes.Repeat([]byte("compressible "), 100), got)
}

func TestStore_ReferencesAreSequential(t *testing.T) {
	require := require.New(t)
	store, err := OpenStore(t.TempDir())
	require.NoError(err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		ref, err := store.StoreRaw([]byte{byte(i)})
		require.NoError(err)
		require.Equal(backend.Reference(i), ref)
	}
}

func TestStore_UnknownReference(t *testing.T) {
	require := require.New(t)
	store, err := OpenStore(t.TempDir())
	require.NoError(err)
	defer store.Close()

	_, err = store.LoadRaw(42)
	require.ErrorIs(err, backend.ErrOutOfBounds)
}

func TestStore_ReopenResumesSequence(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	store, err := OpenStore(dir)
	require.NoError(err)
	refA, err := store.StoreRaw([]byte("one"))
	require.NoError(err)
	require.NoError(store.Close())

	store, err = OpenStore(dir)
	require.NoError(err)
	defer store.Close()

	refB, err := store.StoreRaw([]byte("two"))
	require.NoError(err)
	require.Equal(refA+1, refB)

	got, err := store.LoadRaw(refA)
	require.NoError(err)
	require.Equal([]byte("one"), got)
}
