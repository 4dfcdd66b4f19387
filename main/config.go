package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the operator-level config at ~/.tpurun/config.yaml: defaults
// plus named profiles, so a sweep invocation only has to say --profile.
type Config struct {
	Defaults Profile            `yaml:"defaults"`
	Profiles map[string]Profile `yaml:"profiles"`
	path     string             `yaml:"-"`
}

type Profile struct {
	TPU         string `yaml:"tpu"`
	Zone        string `yaml:"zone"`
	Worker      string `yaml:"worker"`
	Entrypoint  string `yaml:"entrypoint"`
	BaseDir     string `yaml:"base_dir"`
	LaunchDelay string `yaml:"launch_delay"`
	WandbKeyEnv string `yaml:"wandb_key_env"`
	OnFailure   string `yaml:"on_failure"`
}

// SweepFile describes one sweep end to end (--config-file). Anything it
// leaves empty falls through to the profile, then the built-in defaults.
type SweepFile struct {
	Profile     string         `yaml:"profile"`
	Name        string         `yaml:"name"`
	TPU         string         `yaml:"tpu"`
	Zone        string         `yaml:"zone"`
	Worker      string         `yaml:"worker"`
	Entrypoint  string         `yaml:"entrypoint"`
	BaseDir     string         `yaml:"base_dir"`
	LaunchDelay string         `yaml:"launch_delay"`
	WandbKeyEnv string         `yaml:"wandb_key_env"`
	OnFailure   string         `yaml:"on_failure"`
	Sizes       identifierList `yaml:"sizes"`
	Weights     identifierList `yaml:"weights"`
	SizeWeight  string         `yaml:"size_weight"`
	WeightSize  string         `yaml:"weight_size"`
	Args        []string       `yaml:"args"`
}

// identifierList keeps mixture identifiers exactly as written in YAML. A
// plain []string would reject bare numbers, and round-tripping 0.25 through
// a float must not turn it into 0.250000.
type identifierList []string

func (l *identifierList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a sequence of mixture identifiers", value.Line)
	}
	out := make([]string, 0, len(value.Content))
	for _, n := range value.Content {
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: mixture identifier must be a scalar", n.Line)
		}
		out = append(out, n.Value)
	}
	*l = identifierList(out)
	return nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".tpurun")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func defaultConfigPaths() ([]string, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
	}, nil
}

func loadConfig() (*Config, error) {
	paths, err := defaultConfigPaths()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		cfg := &Config{
			Profiles: make(map[string]Profile),
			path:     path,
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return cfg, nil
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Profiles == nil {
			cfg.Profiles = make(map[string]Profile)
		}
		return cfg, nil
	}
	return nil, nil
}

func loadSweepFile(path string) (*SweepFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf SweepFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sf, nil
}

func configPathHint() string {
	dir, err := configDir()
	if err != nil {
		return "~/.tpurun/config.(yaml|yml)"
	}
	return fmt.Sprintf("%s/config.(yaml|yml)", dir)
}

// runSettings collects everything cmdRun needs, merged in precedence order
// flags > sweep file > profile > built-in defaults. The zero value means
// "not set yet"; fill methods only write into empty fields.
type runSettings struct {
	name        string
	tpu         string
	zone        string
	worker      string
	entrypoint  string
	baseDir     string
	delay       time.Duration
	delaySet    bool
	wandbKeyEnv string
	onFailure   string
	sizes       []string
	weights     []string
	sizeWeight  string
	weightSize  string
	extraArgs   []string
}

func (s *runSettings) applyProfile(source string, prof *Profile) error {
	if prof == nil {
		return nil
	}
	if s.tpu == "" {
		s.tpu = prof.TPU
	}
	if s.zone == "" {
		s.zone = prof.Zone
	}
	if s.worker == "" {
		s.worker = prof.Worker
	}
	if s.entrypoint == "" {
		s.entrypoint = prof.Entrypoint
	}
	if s.baseDir == "" {
		s.baseDir = prof.BaseDir
	}
	if s.wandbKeyEnv == "" {
		s.wandbKeyEnv = prof.WandbKeyEnv
	}
	if s.onFailure == "" {
		s.onFailure = prof.OnFailure
	}
	if !s.delaySet && prof.LaunchDelay != "" {
		d, err := time.ParseDuration(prof.LaunchDelay)
		if err != nil {
			return fmt.Errorf("invalid launch_delay %q in profile %s: %w", prof.LaunchDelay, source, err)
		}
		s.delay = d
		s.delaySet = true
	}
	return nil
}

func (s *runSettings) applySweepFile(source string, sf *SweepFile) error {
	if sf == nil {
		return nil
	}
	if s.name == "" {
		s.name = sf.Name
	}
	if s.tpu == "" {
		s.tpu = sf.TPU
	}
	if s.zone == "" {
		s.zone = sf.Zone
	}
	if s.worker == "" {
		s.worker = sf.Worker
	}
	if s.entrypoint == "" {
		s.entrypoint = sf.Entrypoint
	}
	if s.baseDir == "" {
		s.baseDir = sf.BaseDir
	}
	if s.wandbKeyEnv == "" {
		s.wandbKeyEnv = sf.WandbKeyEnv
	}
	if s.onFailure == "" {
		s.onFailure = sf.OnFailure
	}
	if !s.delaySet && sf.LaunchDelay != "" {
		d, err := time.ParseDuration(sf.LaunchDelay)
		if err != nil {
			return fmt.Errorf("invalid launch_delay %q in %s: %w", sf.LaunchDelay, source, err)
		}
		s.delay = d
		s.delaySet = true
	}
	if len(s.sizes) == 0 {
		s.sizes = append([]string(nil), sf.Sizes...)
	}
	if len(s.weights) == 0 {
		s.weights = append([]string(nil), sf.Weights...)
	}
	if s.sizeWeight == "" {
		s.sizeWeight = sf.SizeWeight
	}
	if s.weightSize == "" {
		s.weightSize = sf.WeightSize
	}
	if len(s.extraArgs) == 0 {
		s.extraArgs = append([]string(nil), sf.Args...)
	}
	return nil
}

// fillDefaults finishes the merge with the built-in mixin sweep. A sweep
// file that set sizes but not weights (or vice versa) runs only that pass.
func (s *runSettings) fillDefaults(sequencesFromFile bool) {
	if s.name == "" {
		s.name = "mixin"
	}
	if s.worker == "" {
		s.worker = defaultWorker
	}
	if s.entrypoint == "" {
		s.entrypoint = defaultEntrypoint
	}
	if s.baseDir == "" {
		s.baseDir = defaultBaseDir
	}
	if s.wandbKeyEnv == "" {
		s.wandbKeyEnv = defaultWandbKeyEnv
	}
	if s.onFailure == "" {
		s.onFailure = failureContinue
	}
	if !s.delaySet {
		s.delay = defaultLaunchDelay
	}
	if !sequencesFromFile && len(s.sizes) == 0 && len(s.weights) == 0 {
		s.sizes = append([]string(nil), defaultMixtureSizes...)
		s.weights = append([]string(nil), defaultMixtureWeights...)
	}
	if s.sizeWeight == "" {
		s.sizeWeight = defaultSizeWeight
	}
	if s.weightSize == "" {
		s.weightSize = defaultWeightSize
	}
}

func (s *runSettings) sweep() Sweep {
	return Sweep{
		Name:       s.name,
		BaseDir:    s.baseDir,
		Sizes:      append([]string(nil), s.sizes...),
		Weights:    append([]string(nil), s.weights...),
		SizeWeight: s.sizeWeight,
		WeightSize: s.weightSize,
		Delay:      s.delay,
		ExtraArgs:  append([]string(nil), s.extraArgs...),
	}
}

func (s *runSettings) target() Target {
	return Target{TPU: s.tpu, Zone: s.zone, Worker: s.worker}
}
