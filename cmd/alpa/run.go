package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/truelegion47/alpa/internal/inference"
	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/tokenizer"
)

func runCmd() *cli.Command {
	var (
		prompt        string
		steps         int64
		temp          float64
		topK          int64
		topP          float64
		repeatPenalty float64
		seed          int64
		echoPrompt    bool
		showTokens    bool
	)

	flags := append([]cli.Flag{}, modelFlags()...)
	flags = append(flags, tokenizerFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "number of tokens to generate",
			Value:       128,
			Destination: &steps,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.7,
			Destination: &temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "top-k sampling parameter",
			Value:       40,
			Destination: &topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "top-p sampling parameter",
			Value:       0.95,
			Destination: &topP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1.0,
			Destination: &repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed",
			Value:       0,
			Destination: &seed,
		},
		&cli.BoolFlag{
			Name:        "echo",
			Usage:       "include the prompt in the output",
			Destination: &echoPrompt,
		},
		&cli.BoolFlag{
			Name:        "show-tokens",
			Usage:       "print generated token ids after the text",
			Destination: &showTokens,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text from a prompt",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, loadFileConfig(), &temp, &topK, &steps, &topP, &repeatPenalty, &seed)

			if prompt == "" {
				return cli.Exit("error: --prompt is required", 1)
			}
			if tokenizerJSON == "" {
				return cli.Exit("error: --tokenizer is required", 1)
			}

			m, err := loadModel(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			tok, err := tokenizer.OpenHF(tokenizerJSON)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load tokenizer: %v", err), 1)
			}
			engine := inference.New(m, tok, log)
			defer engine.Close()

			res, err := engine.Generate(ctx, inference.Request{
				Prompt:        prompt,
				MaxNewTokens:  int(steps),
				Seed:          seed,
				Temperature:   float32(temp),
				TopK:          int(topK),
				TopP:          float32(topP),
				RepeatPenalty: float32(repeatPenalty),
				EchoPrompt:    echoPrompt,
			}, func(text string) {
				_, _ = fmt.Fprint(os.Stdout, text)
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
			}
			fmt.Println()
			if showTokens {
				fmt.Println(res.Tokens)
			}
			log.Info("generation complete",
				"prompt_tokens", res.Stats.PromptTokens,
				"generated", res.Stats.TokensGenerated,
				"duration", res.Stats.Duration.Round(time.Millisecond),
				"tok_per_sec", fmt.Sprintf("%.2f", res.Stats.TPS),
			)
			return nil
		},
	}
}
