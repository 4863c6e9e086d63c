// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package trie

import (
	"fmt"
	"testing"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func decodeRaw(data []byte) ([]byte, error) {
	return data, nil
}

func TestCachedRef_GetDoesNotRetainLoadedItems(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := backend.NewMockLoader(ctrl)
	loader.EXPECT().LoadRaw(backend.Reference(12)).Return([]byte("payload"), nil).Times(2)

	ref := diskRef[[]byte](12)
	for i := 0; i < 2; i++ {
		value, err := ref.get(loader, decodeRaw)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), value)
	}
	require.False(t, ref.inMemory)
}

func TestCachedRef_LoadAndCacheLoadsAtMostOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := backend.NewMockLoader(ctrl)
	loader.EXPECT().LoadRaw(backend.Reference(7)).Return([]byte("payload"), nil)

	ref := diskRef[[]byte](7)
	for i := 0; i < 3; i++ {
		value, err := ref.loadAndCache(loader, decodeRaw)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), value)
	}
	require.True(t, ref.inMemory)
	require.True(t, ref.onDisk)
}

func TestCachedRef_InMemoryItemsNeverTouchTheStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := backend.NewMockLoader(ctrl)

	ref := memoryRef([]byte("payload"))
	value, err := ref.get(loader, decodeRaw)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), value)
	value, err = ref.loadAndCache(loader, decodeRaw)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), value)
}

func TestCachedRef_LoadErrorsAreForwarded(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := backend.NewMockLoader(ctrl)
	injected := fmt.Errorf("injected error")
	loader.EXPECT().LoadRaw(gomock.Any()).Return(nil, injected).Times(2)

	ref := diskRef[[]byte](3)
	_, err := ref.get(loader, decodeRaw)
	require.ErrorIs(t, err, injected)
	_, err = ref.loadAndCache(loader, decodeRaw)
	require.ErrorIs(t, err, injected)
	require.False(t, ref.inMemory)
}

func TestCachedRef_CacheWithMarksMemoryItemsAsStored(t *testing.T) {
	ref := memoryRef([]byte("payload"))
	_, stored := ref.storedRef()
	require.False(t, stored)

	ref.cacheWith(42)
	got, stored := ref.storedRef()
	require.True(t, stored)
	require.Equal(t, backend.Reference(42), got)
	require.True(t, ref.inMemory)
}

func TestCachedRef_CacheWithKeepsExistingReference(t *testing.T) {
	ref := diskRef[[]byte](5)
	ref.cacheWith(42)
	got, stored := ref.storedRef()
	require.True(t, stored)
	require.Equal(t, backend.Reference(5), got)
}
