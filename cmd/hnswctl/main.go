// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Command hnswctl drives an HNSW index from the shell: build a fresh
// index, insert float32 vectors from a flat text file, and run an ANN
// query against it.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/vortexdb/hnsw"
	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/log"
	"github.com/vortexdb/hnsw/internal/metadata"
)

func main() {
	app := &cli.App{
		Name:  "hnswctl",
		Usage: "drive a standalone HNSW index",
		Commands: []*cli.Command{
			insertCommand,
			queryCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit(err.Error())
	}
}

var dirFlag = &cli.StringFlag{Name: "dir", Usage: "index directory", Required: true}
var dimFlag = &cli.IntFlag{Name: "dim", Usage: "vector dimensionality", Required: true}

var insertCommand = &cli.Command{
	Name:  "insert",
	Usage: "insert vectors from a file of one whitespace-separated float32 row per line",
	Flags: []cli.Flag{
		dirFlag, dimFlag,
		&cli.StringFlag{Name: "file", Required: true},
		&cli.Uint64Flag{Name: "version", Value: 1},
	},
	Action: func(c *cli.Context) error {
		idx, err := hnsw.Open(c.String("dir"), config.Default(), distance.CosineOnFloatBits{}, c.Int("dim"), 1)
		if err != nil {
			return err
		}
		defer idx.Close()

		f, err := os.Open(c.String("file"))
		if err != nil {
			return err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		id := distance.InternalID(1)
		for scanner.Scan() {
			vec, err := parseRow(scanner.Text())
			if err != nil {
				return err
			}
			if err := idx.Insert(uint32(c.Uint64("version")), metadata.Schema{}, distance.EncodeFloats(vec), nil); err != nil {
				return err
			}
			log.Info("inserted vector", "id", id)
			id++
		}
		return scanner.Err()
	},
}

var queryCommand = &cli.Command{
	Name:  "query",
	Usage: "run a top-k ANN query against an existing index",
	Flags: []cli.Flag{
		dirFlag, dimFlag,
		&cli.StringFlag{Name: "vec", Required: true, Usage: "whitespace-separated float32 query vector"},
		&cli.IntFlag{Name: "top-k", Value: 10},
	},
	Action: func(c *cli.Context) error {
		idx, err := hnsw.Open(c.String("dir"), config.Default(), distance.CosineOnFloatBits{}, c.Int("dim"), 1)
		if err != nil {
			return err
		}
		defer idx.Close()

		vec, err := parseRow(c.String("vec"))
		if err != nil {
			return err
		}
		results, err := idx.Query(distance.EncodeFloats(vec), nil, c.Int("top-k"))
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%d\t%f\n", r.ID, r.Dist.Float())
		}
		return nil
	},
}

func parseRow(line string) ([]float32, error) {
	fields := strings.Fields(line)
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %q: %w", f, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
