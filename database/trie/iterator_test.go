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
	"math"
	"slices"
	"testing"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/statetrie/backend/memory"
	"github.com/stretchr/testify/require"
)

// collectEntries drains an iterator, returning the visited keys and values.
func collectEntries(t *testing.T, trie *MutableTrie[[]byte], loader backend.Loader, it *Iterator) map[string]string {
	t.Helper()
	out := map[string]string{}
	var previous []byte
	for {
		id, err := trie.Next(loader, it)
		require.NoError(t, err)
		if id == NoEntry {
			break
		}
		key := slices.Clone(it.Key())
		if previous != nil {
			require.Negative(t, slices.Compare(previous, key), "keys must be visited in increasing order")
		}
		previous = key
		live, err := trie.WithEntry(id, loader, func(value []byte) { out[string(key)] = string(value) })
		require.NoError(t, err)
		require.True(t, live)
	}
	return out
}

func TestIterator_VisitsTheSubtreeInKeyOrder(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	pairs := map[string]string{
		"\x01":             "a",
		"\x01\x02":         "b",
		"\x01\x02\x03":     "c",
		"\x01\x02\x03\x04": "d",
		"\x01\x09":         "e",
		"\x07":             "f",
	}
	for key, value := range pairs {
		mustInsert(t, trie, store, []byte(key), value)
	}

	it, err := trie.Iter(store, []byte{1})
	require.NoError(t, err)
	require.NotNil(t, it)
	got := collectEntries(t, trie, store, it)
	trie.DeleteIter(it)

	delete(pairs, "\x07")
	require.Equal(t, pairs, got)
}

func TestIterator_FullTraversalFromTheEmptyKey(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	pairs := map[string]string{
		"\x01\x02": "a",
		"\x01\x03": "b",
		"\x07":     "c",
	}
	for key, value := range pairs {
		mustInsert(t, trie, store, []byte(key), value)
	}

	it, err := trie.Iter(store, nil)
	require.NoError(t, err)
	require.NotNil(t, it)
	got := collectEntries(t, trie, store, it)
	trie.DeleteIter(it)
	require.Equal(t, pairs, got)
}

func TestIterator_NoMatchingSubtreeYieldsNoIterator(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	mustInsert(t, trie, store, []byte{1, 2}, "a")

	for _, key := range [][]byte{{2}, {1, 3}, {1, 2, 3}} {
		it, err := trie.Iter(store, key)
		require.NoError(t, err)
		require.Nil(t, it, "key %x", key)
	}
	it, err := NewMutableTrie[[]byte]().Iter(store, nil)
	require.NoError(t, err)
	require.Nil(t, it)
}

func TestIterator_ExhaustedIteratorKeepsReturningNoEntry(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	mustInsert(t, trie, store, []byte{1}, "a")

	it, err := trie.Iter(store, []byte{1})
	require.NoError(t, err)
	id, err := trie.Next(store, it)
	require.NoError(t, err)
	require.NotEqual(t, NoEntry, id)
	for i := 0; i < 3; i++ {
		id, err := trie.Next(store, it)
		require.NoError(t, err)
		require.Equal(t, NoEntry, id)
	}
	trie.DeleteIter(it)
}

func TestIterator_WorksAcrossFrozenSubtrees(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	pairs := map[string]string{
		"\x01\x02": "a",
		"\x01\x03": "b",
		"\x01\x09": "c",
	}
	for key, value := range pairs {
		mustInsert(t, trie, store, []byte(key), value)
	}
	root, err := trie.Freeze(store, EmptyCollector[[]byte]{})
	require.NoError(t, err)
	ref, err := root.StoreUpdate(store)
	require.NoError(t, err)

	// iterate a thawed tree whose nodes still live in the backing store
	reloaded, err := LoadRoot[[]byte](store, ref)
	require.NoError(t, err)
	thawed, err := reloaded.MakeMutable(store)
	require.NoError(t, err)
	it, err := thawed.Iter(store, []byte{1})
	require.NoError(t, err)
	require.NotNil(t, it)
	got := collectEntries(t, thawed, store, it)
	thawed.DeleteIter(it)
	require.Equal(t, pairs, got)
}

func TestIterator_LocksTheSubtreeAgainstModification(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	mustInsert(t, trie, store, []byte{1, 2}, "a")
	mustInsert(t, trie, store, []byte{1, 3}, "b")
	mustInsert(t, trie, store, []byte{7}, "c")

	it, err := trie.Iter(store, []byte{1})
	require.NoError(t, err)
	require.NotNil(t, it)

	// inserting into or deleting from the locked subtree is refused
	newID, _, err := trie.Insert(store, []byte{1, 2}, []byte("other"))
	require.NoError(t, err)
	require.Equal(t, NoEntry, newID)
	newID, _, err = trie.Insert(store, []byte{1, 4}, []byte("other"))
	require.NoError(t, err)
	require.Equal(t, NoEntry, newID)
	removed, err := trie.Delete(store, []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, NoEntry, removed)
	deleted, err := trie.DeletePrefix(store, []byte{1}, EmptyCounter{})
	require.NoError(t, err)
	require.False(t, deleted)

	// keys outside the locked subtree stay writable
	mustInsert(t, trie, store, []byte{8}, "d")
	removed, err = trie.Delete(store, []byte{7})
	require.NoError(t, err)
	require.NotEqual(t, NoEntry, removed)

	got := collectEntries(t, trie, store, it)
	require.Equal(t, map[string]string{"\x01\x02": "a", "\x01\x03": "b"}, got)
	trie.DeleteIter(it)

	// releasing the iterator reopens the subtree
	mustInsert(t, trie, store, []byte{1, 4}, "late")
	_, found := readKey(t, trie, store, []byte{1, 4})
	require.True(t, found)
}

func TestIterator_LockIsHeldPerIterator(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	mustInsert(t, trie, store, []byte{1, 2}, "a")
	mustInsert(t, trie, store, []byte{1, 3}, "b")

	first, err := trie.Iter(store, []byte{1})
	require.NoError(t, err)
	second, err := trie.Iter(store, []byte{1})
	require.NoError(t, err)

	trie.DeleteIter(first)
	newID, _, err := trie.Insert(store, []byte{1, 4}, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, NoEntry, newID)

	trie.DeleteIter(second)
	mustInsert(t, trie, store, []byte{1, 4}, "c")
}

func TestIterator_TooManyIteratorsAreRejected(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	mustInsert(t, trie, store, []byte{1, 2}, "a")

	it, err := trie.Iter(store, []byte{1})
	require.NoError(t, err)
	require.NotNil(t, it)
	trie.nodes[it.root].locked = math.MaxUint16

	_, err = trie.Iter(store, []byte{1})
	require.ErrorIs(t, err, ErrTooManyIterators)
}

func TestIterator_KeyReflectsThePositionInsideCompressedPaths(t *testing.T) {
	store := memory.NewStore()
	trie := NewMutableTrie[[]byte]()
	mustInsert(t, trie, store, []byte{1, 2, 3, 4, 5}, "deep")

	// the subtree root lies in the middle of a compressed path; its full
	// key extends the search key
	it, err := trie.Iter(store, []byte{1, 2})
	require.NoError(t, err)
	require.NotNil(t, it)
	id, err := trie.Next(store, it)
	require.NoError(t, err)
	require.NotEqual(t, NoEntry, id)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, it.Key())
	trie.DeleteIter(it)
}
