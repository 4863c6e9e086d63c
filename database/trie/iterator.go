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
	"errors"
	"math"
	"slices"

	"github.com/0xsoniclabs/statetrie/backend"
)

// ErrTooManyIterators is returned when the lock counter of a subtree root
// would overflow.
var ErrTooManyIterators = errors.New("too many iterators rooted at the same node")

// Iterator is a resumable cursor over the subtree of keys extending a key
// prefix, yielding entries in increasing key order. While an iterator
// exists its subtree is locked against structural modification; the caller
// must release it with DeleteIter.
type Iterator struct {
	// root is the node locked for the lifetime of the iterator.
	root int
	// currentNode is the node the cursor sits at.
	currentNode int
	// key is the full key of the current node.
	key []byte
	// nextChild is the position of the next child to descend into at the
	// current node, or -1 if the node's own value has not been yielded yet.
	nextChild int
	// stack holds the positions to resume at when a subtree is exhausted.
	stack []iterFrame
}

// iterFrame is a resume point: continue at node's child position nextChild,
// with the iterator key truncated back to keyLen bytes.
type iterFrame struct {
	node      int
	nextChild int
	keyLen    int
}

// Key returns the key of the entry most recently returned by Next. The
// returned slice is only valid until the next call to Next.
func (it *Iterator) Key() []byte {
	return it.key
}

// Iter creates an iterator over the subtree of keys extending the given
// key, locking that subtree. It returns a nil iterator if no stored key
// extends the given one, and ErrTooManyIterators if the lock counter of the
// subtree root is saturated.
func (t *MutableTrie[V]) Iter(loader backend.Loader, key []byte) (*Iterator, error) {
	idx, ok := t.currentRoot()
	if !ok {
		return nil, nil
	}
	remaining := key
	for {
		node := &t.nodes[idx]
		m := matchStem(remaining, node.path.bytes())
		switch m.kind {
		case followEqual:
			if node.locked == math.MaxUint16 {
				return nil, ErrTooManyIterators
			}
			node.locked++
			return &Iterator{root: idx, currentNode: idx, key: slices.Clone(key), nextChild: -1}, nil
		case followKeyIsPrefix:
			if node.locked == math.MaxUint16 {
				return nil, ErrTooManyIterators
			}
			node.locked++
			// the subtree root sits past the end of the key, so its full
			// key extends the search key by the rest of the node's path
			rootKey := make([]byte, 0, len(key)+1+len(m.stemRest))
			rootKey = append(rootKey, key...)
			rootKey = append(rootKey, m.stemStep)
			rootKey = append(rootKey, m.stemRest...)
			return &Iterator{root: idx, currentNode: idx, key: rootKey, nextChild: -1}, nil
		case followStemIsPrefix:
			if err := t.makeOwned(idx, loader); err != nil {
				return nil, err
			}
			pairs := t.nodes[idx].children.pairs
			i, found := searchPairs(pairs, m.keyStep)
			if !found {
				return nil, nil
			}
			idx = pairs[i].index()
			remaining = m.keyRest
		default:
			return nil, nil
		}
	}
}

// Next advances the iterator and returns the id of the next entry, or
// NoEntry when the subtree is exhausted. Exhausted iterators still hold
// their lock until released with DeleteIter.
func (t *MutableTrie[V]) Next(loader backend.Loader, it *Iterator) (EntryID, error) {
	for {
		idx := it.currentNode
		nextChild := it.nextChild
		if nextChild < 0 {
			it.nextChild = 0
			nextChild = 0
			if value := t.nodes[idx].value; value != NoEntry {
				return value, nil
			}
		}
		if nextChild < t.nodes[idx].children.len() {
			it.stack = append(it.stack, iterFrame{node: idx, nextChild: nextChild + 1, keyLen: len(it.key)})
			it.nextChild = -1
			if err := t.makeOwned(idx, loader); err != nil {
				return NoEntry, err
			}
			pair := t.nodes[idx].children.pairs[nextChild]
			it.currentNode = pair.index()
			it.key = append(it.key, pair.key())
			it.key = append(it.key, t.nodes[pair.index()].path.bytes()...)
			continue
		}
		if len(it.stack) == 0 {
			return NoEntry, nil
		}
		frame := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		it.key = it.key[:frame.keyLen]
		it.currentNode = frame.node
		it.nextChild = frame.nextChild
	}
}

// DeleteIter releases the iterator's lock on its subtree. The iterator must
// not be used afterwards.
func (t *MutableTrie[V]) DeleteIter(it *Iterator) {
	if node := &t.nodes[it.root]; node.locked > 0 {
		node.locked--
	}
}
