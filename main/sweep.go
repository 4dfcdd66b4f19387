package main

import (
	"fmt"
	"time"
)

// The mixin sweep trains gpt2-small against precomputed data mixtures.
// Pass one sweeps the mixture size at a fixed weight, pass two sweeps the
// mixture weight at a fixed size. Identifiers are kept as strings so that
// they land in the config path exactly as written (0.25 stays 0.25).
var (
	defaultMixtureSizes   = []string{"32", "64", "128", "256", "512"}
	defaultMixtureWeights = []string{"0.25", "0.5", "1", "2", "4", "8"}
)

const (
	defaultBaseDir    = "config/mixin"
	defaultSizeWeight = "16" // weight suffix used while sweeping sizes
	defaultWeightSize = "32" // size directory used while sweeping weights

	// One full training run fits comfortably in this window, so the next
	// launch never lands while the pod is still busy.
	defaultLaunchDelay = 9000 * time.Second // 2.5 hours

	defaultEntrypoint  = "levanter/src/levanter/main/train_lm.py"
	defaultWandbKeyEnv = "WANDB_API_KEY"
	defaultWorker      = "all"
)

// Sweep describes one ordered pass over the mixture configs. Sizes are
// drained completely before weights begin.
type Sweep struct {
	Name       string
	BaseDir    string
	Sizes      []string
	Weights    []string
	SizeWeight string
	WeightSize string
	Delay      time.Duration
	ExtraArgs  []string
}

// Launch is one dispatch unit within a sweep. Seq is 1-based position in
// launch order.
type Launch struct {
	Seq        int
	ConfigPath string
}

func defaultSweep() Sweep {
	return Sweep{
		Name:       "mixin",
		BaseDir:    defaultBaseDir,
		Sizes:      append([]string(nil), defaultMixtureSizes...),
		Weights:    append([]string(nil), defaultMixtureWeights...),
		SizeWeight: defaultSizeWeight,
		WeightSize: defaultWeightSize,
		Delay:      defaultLaunchDelay,
	}
}

// mixinConfigPath builds the remote path of a training config. These are
// paths on the TPU pod, so they are joined with forward slashes regardless
// of the local platform, and never checked against a filesystem.
func mixinConfigPath(baseDir, size, weight string) string {
	return fmt.Sprintf("%s/%s/gpt2_small_%s_%s.yaml", baseDir, size, size, weight)
}

// Launches expands the sweep into its ordered list of launches. The
// expansion is pure: calling it twice yields identical results.
func (s *Sweep) Launches() []Launch {
	out := make([]Launch, 0, len(s.Sizes)+len(s.Weights))
	for _, size := range s.Sizes {
		out = append(out, Launch{
			Seq:        len(out) + 1,
			ConfigPath: mixinConfigPath(s.BaseDir, size, s.SizeWeight),
		})
	}
	for _, weight := range s.Weights {
		out = append(out, Launch{
			Seq:        len(out) + 1,
			ConfigPath: mixinConfigPath(s.BaseDir, s.WeightSize, weight),
		})
	}
	return out
}

func (s *Sweep) validate() error {
	if s.BaseDir == "" {
		return fmt.Errorf("sweep base dir is empty")
	}
	if len(s.Sizes) == 0 && len(s.Weights) == 0 {
		return fmt.Errorf("sweep has no mixture sizes or weights")
	}
	if len(s.Sizes) > 0 && s.SizeWeight == "" {
		return fmt.Errorf("size pass requires a fixed weight (size_weight)")
	}
	if len(s.Weights) > 0 && s.WeightSize == "" {
		return fmt.Errorf("weight pass requires a fixed size (weight_size)")
	}
	if s.Delay < 0 {
		return fmt.Errorf("launch delay must not be negative")
	}
	return nil
}
