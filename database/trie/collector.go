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

// Collector gathers auxiliary information while a mutable trie is being
// frozen, such as the amount of new data the frozen tree introduces.
type Collector[V Value] interface {
	// AddValue is called for every newly frozen value. Values reused from
	// an underlying frozen tree are not reported.
	AddValue(value V)
	// AddPath is called with the path length of every newly frozen node.
	AddPath(length int)
	// AddChildren is called with the child count of every newly frozen
	// node.
	AddChildren(count int)
}

// EmptyCollector is a Collector that collects nothing.
type EmptyCollector[V Value] struct{}

func (EmptyCollector[V]) AddValue(V)      {}
func (EmptyCollector[V]) AddPath(int)     {}
func (EmptyCollector[V]) AddChildren(int) {}

// SizeCollector tracks how many additional bytes of storage the frozen tree
// will require.
type SizeCollector[V Value] struct {
	numBytes uint64
}

// Collect returns the accumulated byte count.
func (c *SizeCollector[V]) Collect() uint64 {
	return c.numBytes
}

func (c *SizeCollector[V]) AddValue(value V) {
	c.numBytes += uint64(len(value))
}

func (c *SizeCollector[V]) AddPath(length int) {
	// 1 for the tag byte, 4 more for an explicit length
	if length <= maxInlineEncodedStem {
		c.numBytes += uint64(1 + length)
	} else {
		c.numBytes += uint64(1 + 4 + length)
	}
}

func (c *SizeCollector[V]) AddChildren(count int) {
	// 1 for the key byte, 8 for the reference
	c.numBytes += uint64(count) * (1 + 8)
}

// TraversalCounter tracks resources consumed during a tree traversal so
// that resource bounds can abort the traversal.
type TraversalCounter interface {
	// Tick is called once per visited node. A non-nil error aborts the
	// traversal and is returned to the caller.
	Tick() error
}

// EmptyCounter is a TraversalCounter that does not count anything.
type EmptyCounter struct{}

func (EmptyCounter) Tick() error { return nil }
