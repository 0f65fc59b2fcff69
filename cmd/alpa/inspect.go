package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/truelegion47/alpa/internal/checkpoint"
)

func inspectCmd() *cli.Command {
	var withDigest bool

	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the tensors in a checkpoint",
		ArgsUsage: "<checkpoint path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "digest",
				Usage:       "compute a content digest per tensor (reads all data)",
				Destination: &withDigest,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("error: checkpoint path required", 1)
			}
			store, err := checkpoint.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoint: %v", err), 1)
			}
			defer store.Close()

			names := store.Names()
			sort.Strings(names)
			for _, name := range names {
				a, err := store.Read(name)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read %s: %v", name, err), 1)
				}
				if withDigest {
					fmt.Printf("%-60s %-4v %-16v %016x\n", name, a.DType, a.Shape, a.Digest())
				} else {
					fmt.Printf("%-60s %-4v %v\n", name, a.DType, a.Shape)
				}
			}
			fmt.Printf("%d tensors\n", len(names))
			return nil
		},
	}
}
