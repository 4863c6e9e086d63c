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

	"github.com/0xsoniclabs/statetrie/backend"
)

// cachedRef tracks where an item lives relative to the backing store. It is
// in exactly one of three states: on disk only, in memory only, or both.
// Once an item is both on disk and in memory, reads never touch the store
// again.
type cachedRef[T any] struct {
	onDisk   bool
	inMemory bool
	ref      backend.Reference
	value    T
}

func diskRef[T any](ref backend.Reference) cachedRef[T] {
	return cachedRef[T]{onDisk: true, ref: ref}
}

func memoryRef[T any](value T) cachedRef[T] {
	return cachedRef[T]{inMemory: true, value: value}
}

// get returns the item, loading it from the store if it is not in memory.
// A loaded item is returned to the caller but not retained.
func (c *cachedRef[T]) get(loader backend.Loader, decode func([]byte) (T, error)) (T, error) {
	if c.inMemory {
		return c.value, nil
	}
	return c.load(loader, decode)
}

// loadAndCache returns the item, loading and retaining it if it is not in
// memory yet.
func (c *cachedRef[T]) loadAndCache(loader backend.Loader, decode func([]byte) (T, error)) (T, error) {
	if !c.inMemory {
		value, err := c.load(loader, decode)
		if err != nil {
			return value, err
		}
		c.value = value
		c.inMemory = true
	}
	return c.value, nil
}

func (c *cachedRef[T]) load(loader backend.Loader, decode func([]byte) (T, error)) (T, error) {
	data, err := loader.LoadRaw(c.ref)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to load record %d: %w", c.ref, err)
	}
	return decode(data)
}

// cacheWith records the reference under which the in-memory item has just
// been persisted. It is a no-op unless the item is in memory only.
func (c *cachedRef[T]) cacheWith(ref backend.Reference) {
	if c.inMemory && !c.onDisk {
		c.ref = ref
		c.onDisk = true
	}
}

// storedRef returns the reference of the item if it has been persisted.
func (c *cachedRef[T]) storedRef() (backend.Reference, bool) {
	return c.ref, c.onDisk
}
