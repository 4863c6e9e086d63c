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
	"errors"
	"fmt"
	"slices"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/tracy"
)

// EntryID identifies a value entry in a MutableTrie. Ids handed out by one
// generation are invalidated by Delete, DeletePrefix, PopGeneration and
// Normalize; using an invalidated id behaves as if the entry was deleted.
type EntryID int

// NoEntry is the EntryID returned when no entry exists.
const NoEntry EntryID = -1

// errNoGeneration is returned when an operation requires a generation but
// all generations have been popped.
var errNoGeneration = errors.New("mutable trie has no generations")

type entryKind uint8

const (
	entryReadOnly entryKind = iota
	entryMutable
	entryDeleted
)

// entry is the indirection between nodes and values. Read-only entries
// point either into the borrowed value handles of an underlying frozen
// tree, or into a value slot owned by an older generation. Mutable entries
// own their value slot. Deleted entries invalidate every id referring to
// them.
type entry struct {
	kind     entryKind
	borrowed bool // read-only: index refers to borrowedValues
	index    int
}

// keyIndexPair packs a child key byte and a node table index into one word.
type keyIndexPair uint64

func makePair(key byte, index int) keyIndexPair {
	return keyIndexPair(uint64(key)<<56 | uint64(index))
}

func (p keyIndexPair) key() byte { return byte(p >> 56) }

func (p keyIndexPair) index() int { return int(p & 0x00ff_ffff_ffff_ffff) }

// searchPairs locates the pair with the given key byte, or the position
// where it would be inserted.
func searchPairs(pairs []keyIndexPair, key byte) (int, bool) {
	return slices.BinarySearchFunc(pairs, key, func(p keyIndexPair, k byte) int {
		return cmp.Compare(p.key(), k)
	})
}

// childrenCow is the copy-on-write child list of a mutable node: either
// borrowed from a frozen node, or owned as sorted (key, node index) pairs
// stamped with the generation owning them.
type childrenCow[V Value] struct {
	owned      bool
	generation uint32
	borrowed   []child[V]
	pairs      []keyIndexPair
}

func borrowedChildren[V Value](children []child[V]) childrenCow[V] {
	return childrenCow[V]{borrowed: children}
}

func ownedChildren[V Value](generation uint32, pairs []keyIndexPair) childrenCow[V] {
	return childrenCow[V]{owned: true, generation: generation, pairs: pairs}
}

func (c *childrenCow[V]) len() int {
	if c.owned {
		return len(c.pairs)
	}
	return len(c.borrowed)
}

// clone copies the pair list of owned children; borrowed children are
// shared, they are immutable.
func (c *childrenCow[V]) clone() childrenCow[V] {
	if c.owned {
		return childrenCow[V]{owned: true, generation: c.generation, pairs: slices.Clone(c.pairs)}
	}
	return childrenCow[V]{borrowed: c.borrowed}
}

// mutableNode is a node in the node table of a MutableTrie.
type mutableNode[V Value] struct {
	generation uint32
	value      EntryID // NoEntry when the node holds no value
	path       stem
	children   childrenCow[V]
	// locked counts the iterators rooted at this node. While it is
	// non-zero the subtree is closed for structural modification.
	locked uint16
}

// checkpoint records the table lengths when a generation was created, so
// that popping the generation can truncate everything it added.
type checkpoint struct {
	numNodes          int
	numValues         int
	numBorrowedValues int
	numEntries        int
}

// generationRoot is the root node index of one generation, or noNode for an
// empty tree.
type generationRoot struct {
	root int
	checkpoint
}

const noNode = -1

// MutableTrie is a mutable view of a trie. All state lives in append-only
// tables; generations are checkpoints of the table lengths, which makes
// opening and rolling back a generation O(1). A MutableTrie is not safe for
// concurrent use.
type MutableTrie[V Value] struct {
	generations    []generationRoot
	entries        []entry
	values         []*V
	borrowedValues []*valueHandle[V]
	nodes          []mutableNode[V]
}

// NewMutableTrie creates an empty mutable trie with a single generation.
func NewMutableTrie[V Value]() *MutableTrie[V] {
	return &MutableTrie[V]{generations: []generationRoot{{root: noNode}}}
}

// MakeMutable thaws the frozen tree into a new mutable trie whose first
// generation is a view of this tree. The tree itself is not modified.
func (n *Node[V]) MakeMutable() *MutableTrie[V] {
	t := &MutableTrie[V]{}
	root := t.thaw(n, 0)
	t.generations = []generationRoot{{root: root}}
	return t
}

// thaw adds the frozen node to the node table for the given generation.
// Children stay borrowed and a value becomes a borrowed read-only entry,
// so thawing is shallow.
func (t *MutableTrie[V]) thaw(n *Node[V], generation uint32) int {
	valueEntry := NoEntry
	if n.value != nil {
		t.borrowedValues = append(t.borrowedValues, n.value)
		t.entries = append(t.entries, entry{kind: entryReadOnly, borrowed: true, index: len(t.borrowedValues) - 1})
		valueEntry = EntryID(len(t.entries) - 1)
	}
	t.nodes = append(t.nodes, mutableNode[V]{
		generation: generation,
		value:      valueEntry,
		path:       n.path,
		children:   borrowedChildren(n.children),
	})
	return len(t.nodes) - 1
}

// migrateEntry clones the entry for a new generation. A mutable entry
// becomes read-only so the older generation keeps exclusive write access
// to its value slot.
func (t *MutableTrie[V]) migrateEntry(id EntryID) EntryID {
	if id == NoEntry {
		return NoEntry
	}
	e := t.entries[int(id)]
	if e.kind == entryMutable {
		e = entry{kind: entryReadOnly, index: e.index}
	}
	t.entries = append(t.entries, e)
	return EntryID(len(t.entries) - 1)
}

// migrateNode copies the node for the given generation. Children keep
// their old generation stamp and are migrated lazily by makeOwned.
func (t *MutableTrie[V]) migrateNode(idx int, generation uint32) mutableNode[V] {
	value := t.migrateEntry(t.nodes[idx].value)
	node := &t.nodes[idx]
	return mutableNode[V]{
		generation: generation,
		value:      value,
		path:       node.path,
		children:   node.children.clone(),
	}
}

// makeOwned ensures the children of the node are owned by the node's own
// generation, thawing borrowed children or migrating children owned by an
// older generation. Afterwards the node's child pairs may be modified.
func (t *MutableTrie[V]) makeOwned(idx int, loader backend.Loader) error {
	generation := t.nodes[idx].generation
	children := t.nodes[idx].children
	if !children.owned {
		pairs := make([]keyIndexPair, 0, len(children.borrowed))
		for i := range children.borrowed {
			loaded, err := children.borrowed[i].link.get(loader)
			if err != nil {
				return err
			}
			pairs = append(pairs, makePair(children.borrowed[i].key, t.thaw(loaded.node, generation)))
		}
		t.nodes[idx].children = ownedChildren[V](generation, pairs)
		return nil
	}
	if children.generation != generation {
		pairs := make([]keyIndexPair, 0, len(children.pairs))
		for _, pair := range children.pairs {
			migrated := t.migrateNode(pair.index(), generation)
			t.nodes = append(t.nodes, migrated)
			pairs = append(pairs, makePair(pair.key(), len(t.nodes)-1))
		}
		t.nodes[idx].children = ownedChildren[V](generation, pairs)
	}
	return nil
}

// currentRoot returns the node index of the current generation's root.
func (t *MutableTrie[V]) currentRoot() (int, bool) {
	if len(t.generations) == 0 {
		return noNode, false
	}
	root := t.generations[len(t.generations)-1].root
	return root, root != noNode
}

// setRoot points the current generation at the given node.
func (t *MutableTrie[V]) setRoot(idx int) {
	t.generations[len(t.generations)-1].root = idx
}

// IsEmpty reports whether the current generation is an empty tree.
func (t *MutableTrie[V]) IsEmpty() bool {
	if len(t.generations) == 0 {
		return false
	}
	return t.generations[len(t.generations)-1].root == noNode
}

// NewGeneration opens a new generation on top of the current one. The new
// generation starts as a view of the old tree; modifications copy shared
// nodes lazily so all older generations stay intact.
func (t *MutableTrie[V]) NewGeneration() {
	if len(t.generations) == 0 {
		return
	}
	cp := checkpoint{
		numNodes:          len(t.nodes),
		numValues:         len(t.values),
		numBorrowedValues: len(t.borrowedValues),
		numEntries:        len(t.entries),
	}
	root := t.generations[len(t.generations)-1].root
	if root == noNode {
		t.generations = append(t.generations, generationRoot{root: noNode, checkpoint: cp})
		return
	}
	migrated := t.migrateNode(root, t.nodes[root].generation+1)
	t.nodes = append(t.nodes, migrated)
	t.generations = append(t.generations, generationRoot{root: len(t.nodes) - 1, checkpoint: cp})
}

// PopGeneration discards the newest generation and all data only reachable
// from it. It reports whether a generation was removed.
func (t *MutableTrie[V]) PopGeneration() bool {
	if len(t.generations) == 0 {
		return false
	}
	cp := t.generations[len(t.generations)-1].checkpoint
	t.generations = t.generations[:len(t.generations)-1]
	t.truncate(cp)
	return true
}

// Normalize makes the given generation the newest one, discarding all newer
// generations. It does nothing if that generation is already the newest
// one, or does not exist.
func (t *MutableTrie[V]) Normalize(generation uint32) {
	newLen := int(generation) + 1
	if newLen >= len(t.generations) {
		return
	}
	cp := t.generations[newLen].checkpoint
	t.generations = t.generations[:newLen]
	t.truncate(cp)
}

func (t *MutableTrie[V]) truncate(cp checkpoint) {
	t.nodes = t.nodes[:cp.numNodes]
	t.values = t.values[:cp.numValues]
	t.borrowedValues = t.borrowedValues[:cp.numBorrowedValues]
	t.entries = t.entries[:cp.numEntries]
}

// entryAt resolves an entry id, treating ids from rolled-back generations
// as deleted.
func (t *MutableTrie[V]) entryAt(id EntryID) (entry, bool) {
	if id < 0 || int(id) >= len(t.entries) {
		return entry{}, false
	}
	e := t.entries[int(id)]
	return e, e.kind != entryDeleted
}

// addValue adds a fresh mutable entry holding the given value.
func (t *MutableTrie[V]) addValue(value V) EntryID {
	t.values = append(t.values, &value)
	t.entries = append(t.entries, entry{kind: entryMutable, index: len(t.values) - 1})
	return EntryID(len(t.entries) - 1)
}

// GetEntry returns the id of the entry stored under the given key, or
// NoEntry if the key is not present.
func (t *MutableTrie[V]) GetEntry(loader backend.Loader, key []byte) (EntryID, error) {
	idx, ok := t.currentRoot()
	if !ok {
		return NoEntry, nil
	}
	remaining := key
	for {
		node := &t.nodes[idx]
		m := matchStem(remaining, node.path.bytes())
		switch m.kind {
		case followEqual:
			return node.value, nil
		case followStemIsPrefix:
			if err := t.makeOwned(idx, loader); err != nil {
				return NoEntry, err
			}
			pairs := t.nodes[idx].children.pairs
			i, found := searchPairs(pairs, m.keyStep)
			if !found {
				return NoEntry, nil
			}
			idx = pairs[i].index()
			remaining = m.keyRest
		default:
			return NoEntry, nil
		}
	}
}

// GetMut returns a pointer through which the value of the entry can be read
// and replaced. The value is copied unless the entry is already mutable, so
// older generations and frozen trees never observe the modification. It
// returns nil if the entry is deleted.
func (t *MutableTrie[V]) GetMut(id EntryID, loader backend.Loader) (*V, error) {
	e, ok := t.entryAt(id)
	if !ok {
		return nil, nil
	}
	if e.kind == entryMutable {
		return t.values[e.index], nil
	}
	var value V
	if e.borrowed {
		loaded, err := t.borrowedValues[e.index].get(loader)
		if err != nil {
			return nil, err
		}
		value = slices.Clone(loaded)
	} else {
		value = slices.Clone(*t.values[e.index])
	}
	t.values = append(t.values, &value)
	t.entries[int(id)] = entry{kind: entryMutable, index: len(t.values) - 1}
	return &value, nil
}

// Set replaces the value of the entry, avoiding the copy GetMut would make
// for a not yet mutable entry. It returns a pointer to the stored value, or
// nil if the entry is deleted.
func (t *MutableTrie[V]) Set(id EntryID, value V) *V {
	e, ok := t.entryAt(id)
	if !ok {
		return nil
	}
	if e.kind == entryMutable {
		*t.values[e.index] = value
		return t.values[e.index]
	}
	t.values = append(t.values, &value)
	t.entries[int(id)] = entry{kind: entryMutable, index: len(t.values) - 1}
	return &value
}

// WithEntry applies f to the value of the entry, loading it if necessary
// without caching. It reports whether the entry was live and f was called.
func (t *MutableTrie[V]) WithEntry(id EntryID, loader backend.Loader, f func(V)) (bool, error) {
	e, ok := t.entryAt(id)
	if !ok {
		return false, nil
	}
	if e.kind == entryReadOnly && e.borrowed {
		value, err := t.borrowedValues[e.index].get(loader)
		if err != nil {
			return false, err
		}
		f(value)
		return true, nil
	}
	f(*t.values[e.index])
	return true, nil
}

// parentRef names an edge: the child at position child of node. An invalid
// parentRef stands for the generation root.
type parentRef struct {
	node  int
	child int
	valid bool
}

// replaceChild points the edge, or the generation root, at the given node.
func (t *MutableTrie[V]) replaceChild(parent parentRef, idx int) {
	if parent.valid {
		pairs := t.nodes[parent.node].children.pairs
		pairs[parent.child] = makePair(pairs[parent.child].key(), idx)
	} else {
		t.setRoot(idx)
	}
}

// collapse splices the node out by extending its only remaining child's
// path with the node's path and the connecting key byte, then repointing
// the parent edge, or the generation root, at the child.
func (t *MutableTrie[V]) collapse(idx int, pair keyIndexPair, parent parentRef) {
	path := t.nodes[idx].path
	childNode := &t.nodes[pair.index()]
	childNode.path = path.extend(pair.key(), childNode.path.bytes())
	t.replaceChild(parent, pair.index())
}

// Insert stores the value under the given key. It returns the id of the
// new entry and the id of the entry it replaced, if any; the replaced entry
// remains readable until the generation is rolled back. If the key lies in
// a subtree locked by an iterator, nothing is changed and the new entry id
// is NoEntry.
func (t *MutableTrie[V]) Insert(loader backend.Loader, key []byte, value V) (EntryID, EntryID, error) {
	if len(t.generations) == 0 {
		return NoEntry, NoEntry, errNoGeneration
	}
	generation := uint32(len(t.generations) - 1)
	idx, ok := t.currentRoot()
	if !ok {
		newEntry := t.addValue(value)
		t.nodes = append(t.nodes, mutableNode[V]{
			generation: generation,
			value:      newEntry,
			path:       makeStem(key),
			children:   ownedChildren[V](generation, nil),
		})
		t.setRoot(len(t.nodes) - 1)
		return newEntry, NoEntry, nil
	}
	var parent parentRef
	remaining := key
	for {
		node := &t.nodes[idx]
		m := matchStem(remaining, node.path.bytes())
		switch m.kind {
		case followEqual:
			if node.locked > 0 {
				return NoEntry, NoEntry, nil
			}
			newEntry := t.addValue(value)
			replaced := node.value
			node.value = newEntry
			return newEntry, replaced, nil

		case followKeyIsPrefix:
			// the key ends inside this node's path: graft a new parent
			// holding the value above this node
			newEntry := t.addValue(value)
			parentPath := makeStem(remaining)
			node.path = makeStem(m.stemRest)
			t.nodes = append(t.nodes, mutableNode[V]{
				generation: generation,
				value:      newEntry,
				path:       parentPath,
				children:   ownedChildren[V](generation, []keyIndexPair{makePair(m.stemStep, idx)}),
			})
			t.replaceChild(parent, len(t.nodes)-1)
			return newEntry, NoEntry, nil

		case followStemIsPrefix:
			if node.locked > 0 {
				return NoEntry, NoEntry, nil
			}
			if err := t.makeOwned(idx, loader); err != nil {
				return NoEntry, NoEntry, err
			}
			pairs := t.nodes[idx].children.pairs
			i, found := searchPairs(pairs, m.keyStep)
			if found {
				parent = parentRef{node: idx, child: i, valid: true}
				idx = pairs[i].index()
				remaining = m.keyRest
				continue
			}
			// no child along the key: add a new leaf
			newEntry := t.addValue(value)
			t.nodes = append(t.nodes, mutableNode[V]{
				generation: generation,
				value:      newEntry,
				path:       makeStem(m.keyRest),
				children:   ownedChildren[V](generation, nil),
			})
			branch := &t.nodes[idx]
			branch.children.pairs = slices.Insert(branch.children.pairs, i, makePair(m.keyStep, len(t.nodes)-1))
			return newEntry, NoEntry, nil

		case followDiff:
			// the key diverges inside this node's path: split into a
			// branch holding the shared prefix with two children
			shared := remaining[:len(remaining)-len(m.keyRest)-1]
			newEntry := t.addValue(value)
			sharedPath := makeStem(shared)
			node.path = makeStem(m.stemRest)
			leafIdx := len(t.nodes)
			branchIdx := leafIdx + 1
			t.nodes = append(t.nodes, mutableNode[V]{
				generation: generation,
				value:      newEntry,
				path:       makeStem(m.keyRest),
				children:   ownedChildren[V](generation, nil),
			})
			pairs := make([]keyIndexPair, 2)
			if m.keyStep < m.stemStep {
				pairs[0] = makePair(m.keyStep, leafIdx)
				pairs[1] = makePair(m.stemStep, idx)
			} else {
				pairs[0] = makePair(m.stemStep, idx)
				pairs[1] = makePair(m.keyStep, leafIdx)
			}
			t.nodes = append(t.nodes, mutableNode[V]{
				generation: generation,
				value:      NoEntry,
				path:       sharedPath,
				children:   ownedChildren[V](generation, pairs),
			})
			t.replaceChild(parent, branchIdx)
			return newEntry, NoEntry, nil
		}
	}
}

// Delete removes the value under the given key and returns the id of the
// removed entry, which is invalidated. NoEntry is returned when the key is
// not present, or when the affected subtree is locked by an iterator.
func (t *MutableTrie[V]) Delete(loader backend.Loader, key []byte) (EntryID, error) {
	idx, ok := t.currentRoot()
	if !ok {
		return NoEntry, nil
	}
	var father, grandfather parentRef
	remaining := key
	for {
		node := &t.nodes[idx]
		m := matchStem(remaining, node.path.bytes())
		switch m.kind {
		case followEqual:
			if node.locked > 0 {
				return NoEntry, nil
			}
			removed := node.value
			if removed != NoEntry {
				t.entries[int(removed)] = entry{kind: entryDeleted}
			}
			node.value = NoEntry
			if err := t.makeOwned(idx, loader); err != nil {
				return NoEntry, err
			}
			pairs := t.nodes[idx].children.pairs
			switch len(pairs) {
			case 1:
				// a node without a value must not have a single child
				t.collapse(idx, pairs[0], father)
			case 0:
				if !father.valid {
					t.setRoot(noNode)
					break
				}
				fatherNode := &t.nodes[father.node]
				fatherNode.children.pairs = slices.Delete(fatherNode.children.pairs, father.child, father.child+1)
				// the father had a value or at least two children, else it
				// would have been path compressed already
				if fatherNode.value == NoEntry && len(fatherNode.children.pairs) == 1 {
					t.collapse(father.node, fatherNode.children.pairs[0], grandfather)
				}
			}
			return removed, nil
		case followStemIsPrefix:
			// deleting below a locked node would modify its subtree
			if node.locked > 0 {
				return NoEntry, nil
			}
			if err := t.makeOwned(idx, loader); err != nil {
				return NoEntry, err
			}
			pairs := t.nodes[idx].children.pairs
			i, found := searchPairs(pairs, m.keyStep)
			if !found {
				return NoEntry, nil
			}
			grandfather = father
			father = parentRef{node: idx, child: i, valid: true}
			idx = pairs[i].index()
			remaining = m.keyRest
		default:
			return NoEntry, nil
		}
	}
}

// DeletePrefix removes every key extending the given key. The counter is
// ticked once per visited node; its error aborts the operation. The removal
// is all-or-nothing: if any node of the subtree is locked by an iterator,
// false is returned and the trie is left unchanged.
func (t *MutableTrie[V]) DeletePrefix(loader backend.Loader, key []byte, counter TraversalCounter) (bool, error) {
	zone := tracy.ZoneBegin("trie::delete_prefix")
	defer zone.End()

	idx, ok := t.currentRoot()
	if !ok {
		return false, nil
	}
	var parent, grandparent parentRef
	remaining := key
	for {
		node := &t.nodes[idx]
		m := matchStem(remaining, node.path.bytes())
		switch m.kind {
		case followStemIsPrefix:
			if node.locked > 0 {
				return false, nil
			}
			if err := t.makeOwned(idx, loader); err != nil {
				return false, err
			}
			pairs := t.nodes[idx].children.pairs
			i, found := searchPairs(pairs, m.keyStep)
			if !found {
				return false, nil
			}
			grandparent = parent
			parent = parentRef{node: idx, child: i, valid: true}
			idx = pairs[i].index()
			remaining = m.keyRest
		case followDiff:
			return false, nil
		default:
			// the subtree at this node covers the prefix; scan it for
			// locks and entries first so a refusal leaves it unchanged
			var doomed []EntryID
			stack := []int{idx}
			for len(stack) > 0 {
				if err := counter.Tick(); err != nil {
					return false, err
				}
				current := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				scanned := &t.nodes[current]
				if scanned.locked > 0 {
					return false, nil
				}
				if scanned.value != NoEntry {
					doomed = append(doomed, scanned.value)
				}
				// borrowed children hold no entries; children owned by an
				// older generation reach only nodes whose entries must
				// stay valid for that generation
				if scanned.children.owned && scanned.children.generation == scanned.generation {
					for _, pair := range scanned.children.pairs {
						stack = append(stack, pair.index())
					}
				}
			}
			for _, id := range doomed {
				t.entries[int(id)] = entry{kind: entryDeleted}
			}
			if !parent.valid {
				t.setRoot(noNode)
				return true, nil
			}
			parentNode := &t.nodes[parent.node]
			parentNode.children.pairs = slices.Delete(parentNode.children.pairs, parent.child, parent.child+1)
			if parentNode.value == NoEntry && len(parentNode.children.pairs) == 1 {
				t.collapse(parent.node, parentNode.children.pairs[0], grandparent)
			}
			return true, nil
		}
	}
}

// Freeze turns the current generation into an immutable hashed tree,
// sharing the subtrees borrowed from underlying frozen trees. The mutable
// trie is consumed and must not be used afterwards. Freezing an empty tree
// returns nil.
func (t *MutableTrie[V]) Freeze(loader backend.Loader, collector Collector[V]) (*Root[V], error) {
	zone := tracy.ZoneBegin("trie::freeze")
	defer zone.End()

	rootIdx, ok := t.currentRoot()
	if !ok {
		return nil, nil
	}
	// collect the reachable owned nodes, parents before children
	var order []int
	stack := []int{rootIdx}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, idx)
		if children := &t.nodes[idx].children; children.owned {
			for _, pair := range children.pairs {
				stack = append(stack, pair.index())
			}
		}
	}
	// freeze bottom-up, so children are always frozen before their parent
	frozen := make(map[int]hashedNode[V], len(order))
	for i := len(order) - 1; i >= 0; i-- {
		idx := order[i]
		node := &t.nodes[idx]
		var children []child[V]
		if node.children.owned {
			children = make([]child[V], 0, len(node.children.pairs))
			for _, pair := range node.children.pairs {
				childNode, ok := frozen[pair.index()]
				if !ok {
					return nil, fmt.Errorf("corrupted node table: child %d frozen out of order", pair.index())
				}
				delete(frozen, pair.index())
				children = append(children, child[V]{key: pair.key(), link: newNodeHandle(memoryRef(childNode))})
			}
		} else {
			children = node.children.borrowed
		}
		value := t.freezeValue(node.value, collector)
		collector.AddPath(node.path.len())
		collector.AddChildren(len(children))
		frozenNode := &Node[V]{value: value, path: node.path, children: children}
		hash, err := frozenNode.computeHash(loader)
		if err != nil {
			return nil, err
		}
		frozen[idx] = hashedNode[V]{hash: hash, node: frozenNode}
	}
	root := frozen[rootIdx]
	t.generations = nil
	t.entries = nil
	t.values = nil
	t.borrowedValues = nil
	t.nodes = nil
	return &Root[V]{Hash: root.hash, link: newNodeHandle(memoryRef(root))}, nil
}

// freezeValue resolves an entry into a value handle for a frozen node.
// Borrowed entries share the handle of the underlying frozen tree; owned
// values are reported to the collector as new data.
func (t *MutableTrie[V]) freezeValue(id EntryID, collector Collector[V]) *valueHandle[V] {
	if id == NoEntry {
		return nil
	}
	e := t.entries[int(id)]
	switch e.kind {
	case entryDeleted:
		return nil
	case entryReadOnly:
		if e.borrowed {
			return t.borrowedValues[e.index]
		}
		fallthrough
	default:
		value := *t.values[e.index]
		collector.AddValue(value)
		return newValueHandle(value)
	}
}
