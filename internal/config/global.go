// Package config holds process-wide options read once from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Resharding modes accepted by ALPA_RESHARDING_MODE.
const (
	ReshardingSendRecv  = "send_recv"
	ReshardingBroadcast = "broadcast"
)

// Global carries the environment-style knobs shared by every command.
// Values are read once at first use; later environment changes are ignored.
type Global struct {
	// Fraction of device memory the runtime is allowed to claim.
	MemFraction float64
	// Random seeds. Compile-time and runtime seeds are kept separate so a
	// benchmark can fix one without pinning the other.
	CompileSeed int64
	RuntimeSeed int64

	// Pipeline knobs retained from the orchestration surface.
	NumMicroBatches int
	ReshardingMode  string
	CheckAlive      bool

	// Whether this process was launched as a worker by an external driver.
	IsWorker bool

	// When set, loaders fabricate dummy weights instead of reading the
	// checkpoint. Output is garbage but shapes are right, which is all a
	// data-independent benchmark needs.
	UseDummyWeights bool

	// Log per-phase wall times at info level.
	LogTimings bool
}

var (
	once   sync.Once
	global *Global
	errG   error
)

// Get returns the process-wide configuration, reading the environment on the
// first call.
func Get() (*Global, error) {
	once.Do(func() {
		global, errG = load(os.Getenv)
	})
	return global, errG
}

func load(getenv func(string) string) (*Global, error) {
	g := &Global{
		MemFraction:     envFloat(getenv, "ALPA_MEM_FRACTION", 0.9),
		CompileSeed:     envInt(getenv, "ALPA_COMPILE_SEED", 42),
		RuntimeSeed:     envInt(getenv, "ALPA_RUNTIME_SEED", 42),
		NumMicroBatches: int(envInt(getenv, "ALPA_NUM_MICRO_BATCHES", 1)),
		ReshardingMode:  envString(getenv, "ALPA_RESHARDING_MODE", ReshardingSendRecv),
		CheckAlive:      envBool(getenv, "ALPA_PIPELINE_CHECK_ALIVE", true),
		IsWorker:        envBool(getenv, "ALPA_IS_WORKER", false),
		UseDummyWeights: envBool(getenv, "ALPA_USE_DUMMY_WEIGHTS", false),
		LogTimings:      envBool(getenv, "ALPA_LOG_TIMINGS", false),
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Global) validate() error {
	if g.MemFraction <= 0 || g.MemFraction > 1 {
		return fmt.Errorf("config: mem fraction out of range: %g", g.MemFraction)
	}
	if g.NumMicroBatches < 1 {
		return fmt.Errorf("config: num micro batches must be >= 1, got %d", g.NumMicroBatches)
	}
	switch g.ReshardingMode {
	case ReshardingSendRecv, ReshardingBroadcast:
	default:
		return fmt.Errorf("config: unknown resharding mode %q", g.ReshardingMode)
	}
	return nil
}

func envString(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// envFloat falls back to the default on unparsable input rather than failing;
// a typo in an optional knob should not take the process down.
func envFloat(getenv func(string) string, key string, def float64) float64 {
	v := getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(getenv func(string) string, key string, def int64) int64 {
	v := getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(getenv func(string) string, key string, def bool) bool {
	switch getenv(key) {
	case "1", "true", "True", "TRUE":
		return true
	case "0", "false", "False", "FALSE":
		return false
	default:
		return def
	}
}
