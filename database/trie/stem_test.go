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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStem_RoundTripAllLengths(t *testing.T) {
	require := require.New(t)
	for length := 0; length <= 64; length++ {
		data := bytes.Repeat([]byte{0xab}, length)
		for i := range data {
			data[i] = byte(i)
		}
		s := makeStem(data)
		require.Equal(data, append([]byte{}, s.bytes()...), "length %d", length)
		require.Equal(length, s.len())
	}
}

func TestStem_InlineBoundary(t *testing.T) {
	require := require.New(t)
	atLimit := makeStem(make([]byte, maxInlineStem))
	require.Nil(atLimit.long)
	overLimit := makeStem(make([]byte, maxInlineStem+1))
	require.NotNil(overLimit.long)
}

func TestStem_MakeStemCopiesInput(t *testing.T) {
	require := require.New(t)
	data := bytes.Repeat([]byte{7}, maxInlineStem+5)
	s := makeStem(data)
	data[0] = 42
	require.Equal(byte(7), s.bytes()[0])
}

func TestStem_ZeroValueIsEmpty(t *testing.T) {
	var s stem
	require.Equal(t, 0, s.len())
	require.Empty(t, s.bytes())
}

func TestStem_Extend(t *testing.T) {
	require := require.New(t)
	tests := []struct {
		base, tail []byte
		mid        byte
	}{
		{base: nil, mid: 1, tail: nil},
		{base: []byte{1, 2}, mid: 3, tail: []byte{4, 5}},
		{base: make([]byte, maxInlineStem), mid: 9, tail: nil}, // crosses the inline limit
		{base: make([]byte, 30), mid: 9, tail: make([]byte, 40)},
	}
	for _, test := range tests {
		s := makeStem(test.base)
		extended := s.extend(test.mid, test.tail)
		want := append(append(append([]byte{}, test.base...), test.mid), test.tail...)
		require.Equal(want, append([]byte{}, extended.bytes()...))
		// the source stem is unchanged
		require.Equal(test.base, append([]byte{}, s.bytes()...))
	}
}
