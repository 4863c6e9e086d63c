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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/statetrie/common"
	"github.com/0xsoniclabs/tracy"
)

// Node records start with a tag byte. If tagLongStem is unset, the low six
// bits hold the path length and the path bytes follow directly; otherwise
// the length follows as a big-endian u32. tagHasValue marks the presence of
// a value.
const (
	tagLongStem          = 0b1000_0000
	tagHasValue          = 0b0100_0000
	maxInlineEncodedStem = 0b0011_1111
)

// IncorrectTagError indicates a malformed tag byte in a node record. Node
// records are written by this package only, so this signals corruption of
// the backing store.
type IncorrectTagError struct {
	Tag byte
}

func (e IncorrectTagError) Error() string {
	return fmt.Sprintf("incorrect node tag 0x%02x", e.Tag)
}

// decodeHashedNode decodes a stored node record: the node's digest followed
// by its encoded body. Children and the value are left on disk.
func decodeHashedNode[V Value](data []byte) (hashedNode[V], error) {
	reader := bytes.NewReader(data)
	hash, err := common.ReadHash(reader)
	if err != nil {
		return hashedNode[V]{}, fmt.Errorf("failed to read node hash: %w", err)
	}
	node, err := decodeNodeBody[V](reader)
	if err != nil {
		return hashedNode[V]{}, err
	}
	return hashedNode[V]{hash: hash, node: node}, nil
}

// decodeNodeBody decodes the body of a node record. The value, if present,
// is represented by its hash and reference; children by their references.
func decodeNodeBody[V Value](reader io.Reader) (*Node[V], error) {
	tag, err := readByte(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read node tag: %w", err)
	}
	var pathLen uint32
	if tag&tagLongStem == 0 {
		pathLen = uint32(tag & maxInlineEncodedStem)
	} else {
		if tag&maxInlineEncodedStem != 0 {
			return nil, IncorrectTagError{Tag: tag}
		}
		pathLen, err = readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read path length: %w", err)
		}
	}
	path := make([]byte, pathLen)
	if _, err := io.ReadFull(reader, path); err != nil {
		return nil, fmt.Errorf("failed to read node path: %w", err)
	}
	node := &Node[V]{path: ownStem(path)}
	if tag&tagHasValue != 0 {
		valueHash, err := common.ReadHash(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read value hash: %w", err)
		}
		valueRef, err := backend.ReadReference(reader)
		if err != nil {
			return nil, err
		}
		node.value = &valueHandle[V]{hash: valueHash, ref: diskRef[V](valueRef)}
	}
	numChildren, err := readUint16(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read child count: %w", err)
	}
	node.children = make([]child[V], 0, numChildren)
	for i := 0; i < int(numChildren); i++ {
		key, err := readByte(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read child key: %w", err)
		}
		childRef, err := backend.ReadReference(reader)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, child[V]{
			key:  key,
			link: newNodeHandle(diskRef[hashedNode[V]](childRef)),
		})
	}
	return node, nil
}

// writeNodeHeader writes the tag byte and the path of a node.
func writeNodeHeader[V Value](writer io.Writer, node *Node[V]) error {
	path := node.path.bytes()
	var valueMask byte
	if node.value != nil {
		valueMask = tagHasValue
	}
	if len(path) <= maxInlineEncodedStem {
		if err := writeByte(writer, byte(len(path))|valueMask); err != nil {
			return err
		}
	} else {
		if err := writeByte(writer, tagLongStem|valueMask); err != nil {
			return err
		}
		if err := writeUint32(writer, uint32(len(path))); err != nil {
			return err
		}
	}
	_, err := writer.Write(path)
	return err
}

// writeNodeBody encodes the node body for a store record, persisting its
// value if needed and consuming one reference per child from the end of
// refs. The references must be ordered so that the last one belongs to the
// first child.
func writeNodeBody[V Value](node *Node[V], store backend.Storer, buf *bytes.Buffer, refs *[]backend.Reference) error {
	if err := writeNodeHeader(buf, node); err != nil {
		return err
	}
	if node.value != nil {
		handle := node.value
		handle.mu.Lock()
		buf.Write(handle.hash[:])
		ref, stored := handle.ref.storedRef()
		if !stored {
			var err error
			ref, err = store.StoreRaw([]byte(handle.ref.value))
			if err != nil {
				handle.mu.Unlock()
				return fmt.Errorf("failed to store value: %w", err)
			}
			handle.ref.cacheWith(ref)
		}
		handle.mu.Unlock()
		if err := ref.Store(buf); err != nil {
			return err
		}
	}
	if err := writeUint16(buf, uint16(len(node.children))); err != nil {
		return err
	}
	for i := range node.children {
		if err := writeByte(buf, node.children[i].key); err != nil {
			return err
		}
		ref := (*refs)[len(*refs)-1]
		*refs = (*refs)[:len(*refs)-1]
		if err := ref.Store(buf); err != nil {
			return err
		}
	}
	return nil
}

// StoreUpdate persists every node and value of the tree that is not yet
// stored and returns the reference of the root record. Nodes already
// backed by the store are referenced, not rewritten.
func (r *Root[V]) StoreUpdate(store backend.Storer) (backend.Reference, error) {
	zone := tracy.ZoneBegin("trie::store_update")
	defer zone.End()

	r.link.mu.Lock()
	defer r.link.mu.Unlock()
	if ref, ok := r.link.ref.storedRef(); ok {
		return ref, nil
	}
	ref, err := storeTree(store, r.link.ref.value)
	if err != nil {
		return 0, err
	}
	r.link.ref.cacheWith(ref)
	return ref, nil
}

// storeFrame is one unit of work of storeTree. A link is first expanded
// (children pushed) and later, once all its children have been stored,
// written out itself.
type storeFrame[V Value] struct {
	link      *nodeHandle[V]
	processed bool
}

// storeTree writes all unstored nodes of the tree bottom-up and returns the
// reference of the root record. Children are pushed in key order and thus
// processed in reverse, so that the references consumed by writeNodeBody
// from the end match the children left to right.
func storeTree[V Value](store backend.Storer, root hashedNode[V]) (backend.Reference, error) {
	var stack []storeFrame[V]
	for i := range root.node.children {
		stack = append(stack, storeFrame[V]{link: root.node.children[i].link})
	}
	var refs []backend.Reference
	var buf bytes.Buffer
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		frame.link.mu.Lock()
		if ref, ok := frame.link.ref.storedRef(); ok {
			frame.link.mu.Unlock()
			refs = append(refs, ref)
			continue
		}
		if !frame.link.ref.inMemory {
			frame.link.mu.Unlock()
			return 0, fmt.Errorf("unstored node is not in memory")
		}
		node := frame.link.ref.value
		if !frame.processed {
			frame.link.mu.Unlock()
			stack = append(stack, storeFrame[V]{link: frame.link, processed: true})
			for i := range node.node.children {
				stack = append(stack, storeFrame[V]{link: node.node.children[i].link})
			}
			continue
		}
		buf.Reset()
		buf.Write(node.hash[:])
		if err := writeNodeBody(node.node, store, &buf, &refs); err != nil {
			frame.link.mu.Unlock()
			return 0, err
		}
		ref, err := store.StoreRaw(buf.Bytes())
		if err != nil {
			frame.link.mu.Unlock()
			return 0, fmt.Errorf("failed to store node: %w", err)
		}
		frame.link.ref.cacheWith(ref)
		frame.link.mu.Unlock()
		refs = append(refs, ref)
	}
	buf.Reset()
	buf.Write(root.hash[:])
	if err := writeNodeBody(root.node, store, &buf, &refs); err != nil {
		return 0, err
	}
	ref, err := store.StoreRaw(buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("failed to store root node: %w", err)
	}
	return ref, nil
}

// Serialize writes the entire tree, values included, as a self-contained
// stream in breadth-first order. Unlike StoreUpdate it follows stored
// references, so the result can be read back without a backing store.
func (r *Root[V]) Serialize(loader backend.Loader, writer io.Writer) error {
	root, err := r.link.get(loader)
	if err != nil {
		return err
	}
	type queued struct {
		node   hashedNode[V]
		parent uint32
	}
	queue := []queued{{node: root}}
	counter := uint32(0)
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if err := writeUint32(writer, counter-item.parent); err != nil {
			return err
		}
		if _, err := writer.Write(item.node.hash[:]); err != nil {
			return err
		}
		node := item.node.node
		if err := writeNodeHeader(writer, node); err != nil {
			return err
		}
		if node.value != nil {
			if _, err := writer.Write(node.value.hash[:]); err != nil {
				return err
			}
			value, err := node.value.get(loader)
			if err != nil {
				return err
			}
			if err := writeUint32(writer, uint32(len(value))); err != nil {
				return err
			}
			if _, err := writer.Write([]byte(value)); err != nil {
				return err
			}
		}
		if err := writeUint16(writer, uint16(len(node.children))); err != nil {
			return err
		}
		for i := range node.children {
			if err := writeByte(writer, node.children[i].key); err != nil {
				return err
			}
			loaded, err := node.children[i].link.get(loader)
			if err != nil {
				return err
			}
			queue = append(queue, queued{node: loaded, parent: counter})
		}
		counter++
	}
	return nil
}

// DeserializeRoot reads a tree from a self-contained stream produced by
// Serialize. The resulting tree lives entirely in memory.
func DeserializeRoot[V Value](reader io.Reader) (*Root[V], error) {
	var parents []*nodeHandle[V]
	// each pending node is identified by the key byte under its parent;
	// the dummy first entry stands for the root
	todo := []byte{0}
	for len(todo) > 0 {
		key := todo[0]
		todo = todo[1:]
		distance, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read node distance: %w", err)
		}
		hash, err := common.ReadHash(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read node hash: %w", err)
		}
		tag, err := readByte(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read node tag: %w", err)
		}
		var pathLen uint32
		if tag&tagLongStem == 0 {
			pathLen = uint32(tag & maxInlineEncodedStem)
		} else {
			if tag&maxInlineEncodedStem != 0 {
				return nil, IncorrectTagError{Tag: tag}
			}
			pathLen, err = readUint32(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read path length: %w", err)
			}
		}
		path := make([]byte, pathLen)
		if _, err := io.ReadFull(reader, path); err != nil {
			return nil, fmt.Errorf("failed to read node path: %w", err)
		}
		node := &Node[V]{path: ownStem(path)}
		if tag&tagHasValue != 0 {
			valueHash, err := common.ReadHash(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read value hash: %w", err)
			}
			valueLen, err := readUint32(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read value length: %w", err)
			}
			value := make([]byte, valueLen)
			if _, err := io.ReadFull(reader, value); err != nil {
				return nil, fmt.Errorf("failed to read value: %w", err)
			}
			node.value = &valueHandle[V]{hash: valueHash, ref: memoryRef(V(value))}
		}
		numChildren, err := readUint16(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read child count: %w", err)
		}
		handle := newNodeHandle(memoryRef(hashedNode[V]{hash: hash, node: node}))
		if distance > 0 {
			if int(distance) > len(parents) {
				return nil, fmt.Errorf("node distance %d exceeds the %d nodes seen", distance, len(parents))
			}
			parent := parents[len(parents)-int(distance)].ref.value.node
			parent.children = append(parent.children, child[V]{key: key, link: handle})
		}
		for i := 0; i < int(numChildren); i++ {
			childKey, err := readByte(reader)
			if err != nil {
				return nil, fmt.Errorf("failed to read child key: %w", err)
			}
			todo = append(todo, childKey)
		}
		parents = append(parents, handle)
	}
	root := parents[0]
	return &Root[V]{Hash: root.ref.value.hash, link: root}, nil
}

func readByte(reader io.Reader) (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(reader, buf[:])
	return buf[0], err
}

func readUint16(reader io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readUint32(reader io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func writeByte(writer io.Writer, b byte) error {
	_, err := writer.Write([]byte{b})
	return err
}

func writeUint16(writer io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := writer.Write(buf[:])
	return err
}

func writeUint32(writer io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := writer.Write(buf[:])
	return err
}
