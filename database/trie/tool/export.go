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
	"os"
	"strconv"

	"github.com/0xsoniclabs/statetrie/backend"
	"github.com/0xsoniclabs/statetrie/database/trie"
	"github.com/golang/snappy"
	"github.com/urfave/cli/v2"
)

var ExportCmd = cli.Command{
	Action:    withDiagnostics(doExport),
	Name:      "export",
	Usage:     "writes a stored tree as a self-contained snappy-compressed stream",
	ArgsUsage: "<store path> <root reference> <output file>",
	Flags: []cli.Flag{
		&backendFlag,
	},
}

var ImportCmd = cli.Command{
	Action:    withDiagnostics(doImport),
	Name:      "import",
	Usage:     "reads an exported stream into a fresh store",
	ArgsUsage: "<input file> <store path>",
	Flags: []cli.Flag{
		&backendFlag,
	},
}

func doExport(context *cli.Context) error {
	if context.Args().Len() != 3 {
		return fmt.Errorf("expected a store path, a root reference and an output file")
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
	out, err := os.Create(context.Args().Get(2))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	compressor := snappy.NewBufferedWriter(out)
	if err := root.Serialize(store, compressor); err != nil {
		return errors.Join(err, compressor.Close(), out.Close())
	}
	return errors.Join(compressor.Close(), out.Close())
}

func doImport(context *cli.Context) error {
	if context.Args().Len() != 2 {
		return fmt.Errorf("expected an input file and a store path")
	}
	in, err := os.Open(context.Args().Get(0))
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	root, err := trie.DeserializeRoot[[]byte](snappy.NewReader(in))
	if err != nil {
		return err
	}
	store, err := openStore(context.String(backendFlag.Name), context.Args().Get(1))
	if err != nil {
		return err
	}
	defer store.Close()

	ref, err := root.StoreUpdate(store)
	if err != nil {
		return err
	}
	fmt.Printf("root hash:      %s\n", root.Hash)
	fmt.Printf("root reference: %d\n", ref)
	return nil
}
