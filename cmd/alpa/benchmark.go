package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/model"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns   int64
		benchRuns    int64
		promptLength int64
		steps        int64
	)

	flags := append([]cli.Flag{}, modelFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of timed runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "prompt-length",
			Usage:       "synthetic prompt length in tokens",
			Value:       64,
			Destination: &promptLength,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "decode steps per run",
			Value:       128,
			Destination: &steps,
		},
	)

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Measure prefill and decode throughput",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			m, err := loadModel(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			cfg := m.Config
			if int(promptLength+steps) > cfg.MaxTargetPositions {
				return cli.Exit(fmt.Sprintf(
					"error: prompt-length + steps (%d) exceeds max positions %d",
					promptLength+steps, cfg.MaxTargetPositions), 1)
			}

			rng := rand.New(rand.NewSource(0))
			tokens := make([]int, promptLength)
			for i := range tokens {
				// Anything but the pad id keeps positions advancing.
				tokens[i] = 2 + rng.Intn(cfg.VocabSize-2)
			}
			positions := model.BuildPositionIDs(tokens, cfg.Pad)

			run := func() (prefill, decode time.Duration, err error) {
				cache := model.NewCache(cfg)
				start := time.Now()
				rows, err := m.ForwardStep(tokens, positions, cache)
				if err != nil {
					return 0, 0, err
				}
				prefill = time.Since(start)

				seen := len(tokens)
				start = time.Now()
				for i := 0; i < int(steps); i++ {
					if err := ctx.Err(); err != nil {
						return 0, 0, err
					}
					next := argmax(rows[len(rows)-1])
					pos := model.NextPositions(seen, 1, cfg.Pad)
					rows, err = m.ForwardStep([]int{next}, pos, cache)
					if err != nil {
						return 0, 0, err
					}
					seen++
				}
				decode = time.Since(start)
				return prefill, decode, nil
			}

			for i := int64(0); i < warmupRuns; i++ {
				if _, _, err := run(); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run: %v", err), 1)
				}
			}

			var prefillTotal, decodeTotal time.Duration
			for i := int64(0); i < benchRuns; i++ {
				prefill, decode, err := run()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run: %v", err), 1)
				}
				prefillTotal += prefill
				decodeTotal += decode
				log.Info("run complete", "run", i+1,
					"prefill", prefill.Round(time.Millisecond),
					"decode", decode.Round(time.Millisecond))
			}

			prefillMean := prefillTotal / time.Duration(benchRuns)
			decodeMean := decodeTotal / time.Duration(benchRuns)
			fmt.Printf("prompt length:      %d tokens\n", promptLength)
			fmt.Printf("decode steps:       %d\n", steps)
			fmt.Printf("prefill (mean):     %v  (%.1f tok/s)\n",
				prefillMean.Round(time.Millisecond),
				float64(promptLength)/prefillMean.Seconds())
			fmt.Printf("decode (mean):      %v  (%.1f tok/s)\n",
				decodeMean.Round(time.Millisecond),
				float64(steps)/decodeMean.Seconds())
			return nil
		},
	}
}

func argmax(xs []float32) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}
