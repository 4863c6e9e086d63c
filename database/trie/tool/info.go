// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/statetrie/database/trie"
	"github.com/urfave/cli/v2"
)

var Info = cli.Command{
	Action:    withDiagnostics(doInfo),
	Name:      "info",
	Usage:     "prints statistics about a tree stored under the given reference",
	ArgsUsage: "<store path> <root reference>",
	Flags: []cli.Flag{
		&backendFlag,
	},
}

func doInfo(context *cli.Context) error {
	if context.Args().Len() != 2 {
		return fmt.Errorf("expected a store path and a root reference")
	}
	ref, err := strconv.ParseUint(context.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid root reference: %w", err)
	}
	store, err := openStore(context.String(backendFlag.Name), context.Args().Get(0))
	if err != nil {
		return err
	}
	defer store.Close()

	root, err := trie.LoadRoot[[]byte](store, backend.Reference(ref))
	if err != nil {
		return err
	}
	fmt.Printf("root hash:   %s\n", root.Hash)

	mutable, err := root.MakeMutable(store)
	if err != nil {
		return err
	}
	var numKeys, valueBytes, longestKey int
	it, err := mutable.Iter(store, nil)
	if err != nil {
		return err
	}
	if it != nil {
		defer mutable.DeleteIter(it)
		for {
			id, err := mutable.Next(store, it)
			if err != nil {
				return err
			}
			if id == trie.NoEntry {
				break
			}
			numKeys++
			longestKey = max(longestKey, len(it.Key()))
			live, err := mutable.WithEntry(id, store, func(value []byte) {
				valueBytes += len(value)
			})
			if err != nil {
				return err
			}
			if !live {
				return errors.New("corrupted tree: iterator yielded a dead entry")
			}
		}
	}
	fmt.Printf("keys:        %d\n", numKeys)
	fmt.Printf("value bytes: %d\n", valueBytes)
	fmt.Printf("longest key: %d bytes\n", longestKey)
	return nil
}
