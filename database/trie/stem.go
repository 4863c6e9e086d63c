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

import "slices"

// maxInlineStem is the longest path segment stored inline in a stem.
const maxInlineStem = 15

// stem is a compressed path segment of a node. Segments of up to
// maxInlineStem bytes are stored inline, longer ones live in a heap slice
// that frozen nodes share. The zero value is the empty stem.
type stem struct {
	// inline[0] holds the length, inline[1:1+len] the bytes.
	inline [maxInlineStem + 1]byte
	// long is set if and only if the segment exceeds maxInlineStem bytes.
	// It is treated as immutable and may be shared between stems.
	long []byte
}

// makeStem creates a stem holding a copy of the given bytes.
func makeStem(data []byte) stem {
	if len(data) > maxInlineStem {
		return stem{long: slices.Clone(data)}
	}
	return ownStem(data)
}

// ownStem creates a stem taking ownership of the given slice. The caller
// must not modify the slice afterwards.
func ownStem(data []byte) stem {
	var s stem
	if len(data) > maxInlineStem {
		s.long = data
		return s
	}
	s.inline[0] = byte(len(data))
	copy(s.inline[1:], data)
	return s
}

// bytes returns the segment. The returned slice must not be modified.
func (s *stem) bytes() []byte {
	if s.long != nil {
		return s.long
	}
	return s.inline[1 : 1+s.inline[0]]
}

func (s *stem) len() int {
	if s.long != nil {
		return len(s.long)
	}
	return int(s.inline[0])
}

// extend returns the concatenation of the segment, the mid byte, and the
// given tail. It is used when a node is collapsed into its only child.
func (s *stem) extend(mid byte, tail []byte) stem {
	base := s.bytes()
	joined := make([]byte, 0, len(base)+1+len(tail))
	joined = append(joined, base...)
	joined = append(joined, mid)
	joined = append(joined, tail...)
	return ownStem(joined)
}

// followKind classifies how a key relates to a node's path segment.
type followKind uint8

const (
	// followEqual means the key and the segment are identical.
	followEqual followKind = iota
	// followKeyIsPrefix means the key is exhausted inside the segment.
	followKeyIsPrefix
	// followStemIsPrefix means the segment is exhausted inside the key.
	followStemIsPrefix
	// followDiff means the key and the segment diverge before either ends.
	followDiff
)

// stemMatch is the result of matching a key against a path segment. keyStep
// and stemStep are the first bytes past the shared prefix; keyRest and
// stemRest are the remainders after those.
type stemMatch struct {
	kind     followKind
	keyStep  byte
	stemStep byte
	keyRest  []byte
	stemRest []byte
}

func matchStem(key, segment []byte) stemMatch {
	shared := 0
	limit := min(len(key), len(segment))
	for shared < limit && key[shared] == segment[shared] {
		shared++
	}
	switch {
	case shared == len(key) && shared == len(segment):
		return stemMatch{kind: followEqual}
	case shared == len(key):
		return stemMatch{
			kind:     followKeyIsPrefix,
			stemStep: segment[shared],
			stemRest: segment[shared+1:],
		}
	case shared == len(segment):
		return stemMatch{
			kind:    followStemIsPrefix,
			keyStep: key[shared],
			keyRest: key[shared+1:],
		}
	default:
		return stemMatch{
			kind:     followDiff,
			keyStep:  key[shared],
			stemStep: segment[shared],
			keyRest:  key[shared+1:],
			stemRest: segment[shared+1:],
		}
	}
}
