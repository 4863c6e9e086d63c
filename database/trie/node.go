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
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/statetrie/common"
)

// Value is the constraint on values stored in a trie. Values are byte
// strings; callers may brand their own slice type.
type Value interface{ ~[]byte }

// decodeValue decodes a stored value record. The record holds the raw value
// bytes; they are copied so the result does not alias the store's buffer.
func decodeValue[V Value](data []byte) (V, error) {
	return V(slices.Clone(data)), nil
}

// Node is an immutable trie node. Sharing subtrees between trees is cheap
// since value and child handles are shared; all mutation goes through
// thawing into a MutableTrie.
type Node[V Value] struct {
	value    *valueHandle[V] // nil when the node holds no value
	path     stem
	children []child[V] // sorted by key byte
}

// child pairs a key byte with the link to the subtree below it.
type child[V Value] struct {
	key  byte
	link *nodeHandle[V]
}

// hashedNode is a node together with its digest.
type hashedNode[V Value] struct {
	hash common.Hash
	node *Node[V]
}

// nodeHandle is a shared cell holding a possibly unloaded node. Handles are
// shared between trees when subtrees are reused, so state transitions
// happen under the mutex.
type nodeHandle[V Value] struct {
	mu  sync.RWMutex
	ref cachedRef[hashedNode[V]]
}

func newNodeHandle[V Value](ref cachedRef[hashedNode[V]]) *nodeHandle[V] {
	return &nodeHandle[V]{ref: ref}
}

// get returns the hashed node, loading it without caching if needed.
func (h *nodeHandle[V]) get(loader backend.Loader) (hashedNode[V], error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ref.get(loader, decodeHashedNode[V])
}

// loadAndCache returns the hashed node, loading and retaining it if needed.
func (h *nodeHandle[V]) loadAndCache(loader backend.Loader) (hashedNode[V], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ref.loadAndCache(loader, decodeHashedNode[V])
}

// hash returns the digest of the linked node. For nodes that are not in
// memory the digest is read from the prefix of the stored record, without
// decoding or caching the rest.
func (h *nodeHandle[V]) hash(loader backend.Loader) (common.Hash, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ref.inMemory {
		return h.ref.value.hash, nil
	}
	data, err := loader.LoadRaw(h.ref.ref)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to load record %d: %w", h.ref.ref, err)
	}
	if len(data) < common.HashSize {
		return common.Hash{}, fmt.Errorf("node record of %d bytes is too short", len(data))
	}
	return common.Hash(data[:common.HashSize]), nil
}

func (h *nodeHandle[V]) cacheWith(ref backend.Reference) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ref.cacheWith(ref)
}

// valueHandle is a shared cell holding a possibly unloaded value together
// with its digest. The hash is fixed at construction; the mutex guards the
// cell state.
type valueHandle[V Value] struct {
	mu   sync.RWMutex
	hash common.Hash
	ref  cachedRef[V]
}

func newValueHandle[V Value](value V) *valueHandle[V] {
	return &valueHandle[V]{hash: common.HashBytes(value), ref: memoryRef(value)}
}

// get returns the value, loading it without caching if needed.
func (h *valueHandle[V]) get(loader backend.Loader) (V, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ref.get(loader, decodeValue[V])
}

// loadAndCache returns the value, loading and retaining it if needed.
func (h *valueHandle[V]) loadAndCache(loader backend.Loader) (V, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ref.loadAndCache(loader, decodeValue[V])
}

// searchChildren locates the child with the given key byte.
func searchChildren[V Value](children []child[V], key byte) (int, bool) {
	return slices.BinarySearchFunc(children, key, func(c child[V], k byte) int {
		return cmp.Compare(c.key, k)
	})
}

// computeHash computes the digest of the node: the presence byte and hash
// of the value, the path, and the digest of the child list. Digests of
// children that are not in memory are read from their stored records.
func (n *Node[V]) computeHash(loader backend.Loader) (common.Hash, error) {
	childHasher := sha256.New()
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(n.children)))
	childHasher.Write(count[:])
	for i := range n.children {
		hash, err := n.children[i].link.hash(loader)
		if err != nil {
			return common.Hash{}, err
		}
		childHasher.Write([]byte{n.children[i].key})
		childHasher.Write(hash[:])
	}
	hasher := sha256.New()
	if n.value != nil {
		hasher.Write([]byte{1})
		hasher.Write(n.value.hash[:])
	} else {
		hasher.Write([]byte{0})
	}
	hasher.Write(n.path.bytes())
	hasher.Write(childHasher.Sum(nil))
	var h common.Hash
	hasher.Sum(h[:0])
	return h, nil
}

// Lookup retrieves the value stored under the given key without thawing the
// tree. Nodes and values loaded along the way are not cached.
func (n *Node[V]) Lookup(loader backend.Loader, key []byte) (V, bool, error) {
	var zero V
	node := n
	remaining := key
	for {
		m := matchStem(remaining, node.path.bytes())
		switch m.kind {
		case followEqual:
			if node.value == nil {
				return zero, false, nil
			}
			value, err := node.value.get(loader)
			if err != nil {
				return zero, false, err
			}
			return value, true, nil
		case followStemIsPrefix:
			i, ok := searchChildren(node.children, m.keyStep)
			if !ok {
				return zero, false, nil
			}
			loaded, err := node.children[i].link.get(loader)
			if err != nil {
				return zero, false, err
			}
			node = loaded.node
			remaining = m.keyRest
		default:
			return zero, false, nil
		}
	}
}

// Cache pages the entire tree, nodes and values, into memory.
func (n *Node[V]) Cache(loader backend.Loader) error {
	if n.value != nil {
		if _, err := n.value.loadAndCache(loader); err != nil {
			return err
		}
	}
	stack := make([]*nodeHandle[V], 0, len(n.children))
	for i := range n.children {
		stack = append(stack, n.children[i].link)
	}
	for len(stack) > 0 {
		handle := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		loaded, err := handle.loadAndCache(loader)
		if err != nil {
			return err
		}
		if loaded.node.value != nil {
			if _, err := loaded.node.value.loadAndCache(loader); err != nil {
				return err
			}
		}
		for i := range loaded.node.children {
			stack = append(stack, loaded.node.children[i].link)
		}
	}
	return nil
}

// IsStored reports whether every node and value of the tree reachable in
// memory has been persisted to a backing store.
func (n *Node[V]) IsStored() bool {
	stack := []*Node[V]{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.value != nil {
			node.value.mu.RLock()
			stored := node.value.ref.onDisk
			node.value.mu.RUnlock()
			if !stored {
				return false
			}
		}
		for i := range node.children {
			link := node.children[i].link
			link.mu.RLock()
			stored := link.ref.onDisk
			inMemory := link.ref.inMemory
			child := link.ref.value.node
			link.mu.RUnlock()
			if !stored {
				return false
			}
			if inMemory {
				stack = append(stack, child)
			}
		}
	}
	return true
}

// IsCached reports whether the entire tree, nodes and values, is in memory.
func (n *Node[V]) IsCached() bool {
	stack := []*Node[V]{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.value != nil {
			node.value.mu.RLock()
			inMemory := node.value.ref.inMemory
			node.value.mu.RUnlock()
			if !inMemory {
				return false
			}
		}
		for i := range node.children {
			link := node.children[i].link
			link.mu.RLock()
			inMemory := link.ref.inMemory
			child := link.ref.value.node
			link.mu.RUnlock()
			if !inMemory {
				return false
			}
			stack = append(stack, child)
		}
	}
	return true
}

// Root is a frozen trie together with its digest.
type Root[V Value] struct {
	Hash common.Hash
	link *nodeHandle[V]
}

// Node returns the root node, loading and caching it if needed.
func (r *Root[V]) Node(loader backend.Loader) (*Node[V], error) {
	loaded, err := r.link.loadAndCache(loader)
	if err != nil {
		return nil, err
	}
	return loaded.node, nil
}

// Lookup retrieves the value stored under the given key.
func (r *Root[V]) Lookup(loader backend.Loader, key []byte) (V, bool, error) {
	node, err := r.Node(loader)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return node.Lookup(loader, key)
}

// Cache pages the entire tree into memory.
func (r *Root[V]) Cache(loader backend.Loader) error {
	node, err := r.Node(loader)
	if err != nil {
		return err
	}
	return node.Cache(loader)
}

// MakeMutable thaws the tree into a new mutable trie whose first generation
// is a view of this tree.
func (r *Root[V]) MakeMutable(loader backend.Loader) (*MutableTrie[V], error) {
	node, err := r.Node(loader)
	if err != nil {
		return nil, err
	}
	return node.MakeMutable(), nil
}

// LoadRoot loads the root of a tree stored under the given reference.
func LoadRoot[V Value](loader backend.Loader, ref backend.Reference) (*Root[V], error) {
	handle := newNodeHandle(diskRef[hashedNode[V]](ref))
	loaded, err := handle.loadAndCache(loader)
	if err != nil {
		return nil, err
	}
	return &Root[V]{Hash: loaded.hash, link: handle}, nil
}
