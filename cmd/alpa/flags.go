package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/truelegion47/alpa/internal/checkpoint"
	"github.com/truelegion47/alpa/internal/config"
	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/metrics"
	"github.com/truelegion47/alpa/internal/model"
)

var (
	checkpointPath string
	modelSize      string
	tokenizerJSON  string
	fp32           bool
	dummyWeights   bool
	pipelineStages int64
	logLevel       string
	logFormat      string
	debug          bool
)

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Aliases:     []string{"m"},
			Usage:       "path to a numpy checkpoint directory or .safetensors file",
			Destination: &checkpointPath,
		},
		&cli.StringFlag{
			Name:        "size",
			Aliases:     []string{"s"},
			Usage:       "model size preset (125M, 30B, 175B)",
			Value:       "125M",
			Destination: &modelSize,
		},
		&cli.BoolFlag{
			Name:        "fp32",
			Usage:       "expect f32 checkpoint weights instead of f16",
			Destination: &fp32,
		},
		&cli.BoolFlag{
			Name:        "dummy-weights",
			Usage:       "skip the checkpoint and run with fabricated weights",
			Destination: &dummyWeights,
		},
		&cli.Int64Flag{
			Name:        "stages",
			Usage:       "pipeline stage count to plan layer ranges for (0 = off)",
			Destination: &pipelineStages,
		},
	}
}

func tokenizerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tokenizer",
			Usage:       "path to tokenizer.json",
			Destination: &tokenizerJSON,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// buildConfig resolves the model configuration from the size preset and
// dtype flag.
func buildConfig() (model.Config, error) {
	cfg, err := model.PresetConfig(modelSize)
	if err != nil {
		return model.Config{}, err
	}
	if fp32 {
		cfg.FP16 = false
	}
	cfg.NumPipelineStages = int(pipelineStages)
	return cfg, nil
}

// loadModel builds the model from the checkpoint, or from fabricated
// weights when --dummy-weights or ALPA_USE_DUMMY_WEIGHTS asks for them.
func loadModel(log logger.Logger) (*model.Model, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}
	global, err := config.Get()
	if err != nil {
		return nil, err
	}
	if cfg.NumPipelineStages > 0 {
		plan, err := model.PlanStages(cfg.DecoderLayers, cfg.NumPipelineStages)
		if err != nil {
			return nil, err
		}
		for _, r := range plan.Stages {
			log.Info("pipeline stage", "stage", r.Stage, "layers", fmt.Sprintf("[%d,%d)", r.First, r.Last))
		}
	}

	if dummyWeights || global.UseDummyWeights {
		log.Info("using dummy weights", "size", modelSize, "seed", global.RuntimeSeed)
		return model.LoadDummy(cfg, global.RuntimeSeed)
	}
	if checkpointPath == "" {
		return nil, fmt.Errorf("no checkpoint given; pass --checkpoint or --dummy-weights")
	}

	log.Info("loading checkpoint", "path", checkpointPath, "size", modelSize)
	start := time.Now()
	store, err := checkpoint.Open(checkpointPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	m, err := model.Load(store, cfg, model.LoadOptions{Progress: true, Log: log})
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	metrics.CheckpointLoadDuration.Observe(elapsed.Seconds())
	log.Info("checkpoint loaded", "duration", elapsed.Round(time.Millisecond))
	return m, nil
}
