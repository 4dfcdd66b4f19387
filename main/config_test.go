package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSweepFilePreservesIdentifiers(t *testing.T) {
	// Bare numbers in YAML must survive as written: 0.25 stays "0.25",
	// never a re-rendered float.
	path := writeTempFile(t, "mixin.yaml", `
name: mixin-weights
tpu: gpt2-mixin-pod
zone: us-east1-d
launch_delay: 2h30m
weights: [0.25, 0.5, 1, 2, 4, 8]
weight_size: 32
args: ["--trainer.num_train_steps", "2000"]
`)
	sf, err := loadSweepFile(path)
	if err != nil {
		t.Fatalf("loadSweepFile: %v", err)
	}
	wantWeights := identifierList{"0.25", "0.5", "1", "2", "4", "8"}
	if !reflect.DeepEqual(sf.Weights, wantWeights) {
		t.Errorf("weights = %v, want %v", sf.Weights, wantWeights)
	}
	if sf.WeightSize != "32" {
		t.Errorf("weight_size = %q, want \"32\"", sf.WeightSize)
	}
	if sf.LaunchDelay != "2h30m" {
		t.Errorf("launch_delay = %q, want 2h30m", sf.LaunchDelay)
	}
	if len(sf.Sizes) != 0 {
		t.Errorf("sizes should be empty, got %v", sf.Sizes)
	}
}

func TestLoadSweepFileRejectsNonScalarIdentifiers(t *testing.T) {
	path := writeTempFile(t, "bad.yaml", `
weights:
  - [0.25]
`)
	if _, err := loadSweepFile(path); err == nil {
		t.Fatal("expected an error for a nested sequence identifier")
	}
}

func TestRunSettingsPrecedence(t *testing.T) {
	// Flags beat the sweep file, the sweep file beats the profile.
	s := runSettings{tpu: "from-flag"}

	sf := &SweepFile{
		Name:        "mixin-weights",
		TPU:         "from-file",
		Zone:        "us-east1-d",
		Weights:     identifierList{"0.5"},
		WeightSize:  "64",
		LaunchDelay: "1h",
	}
	if err := s.applySweepFile("mixin.yaml", sf); err != nil {
		t.Fatalf("applySweepFile: %v", err)
	}
	prof := &Profile{
		TPU:         "from-profile",
		Zone:        "europe-west4-a",
		Worker:      "0",
		LaunchDelay: "10m",
	}
	if err := s.applyProfile("mixin", prof); err != nil {
		t.Fatalf("applyProfile: %v", err)
	}
	s.fillDefaults(true)

	if s.tpu != "from-flag" {
		t.Errorf("tpu = %q, want from-flag", s.tpu)
	}
	if s.zone != "us-east1-d" {
		t.Errorf("zone = %q, want us-east1-d (sweep file over profile)", s.zone)
	}
	if s.worker != "0" {
		t.Errorf("worker = %q, want 0 (profile fills the gap)", s.worker)
	}
	if s.delay != time.Hour {
		t.Errorf("delay = %s, want 1h (sweep file over profile)", s.delay)
	}
	if len(s.sizes) != 0 {
		t.Errorf("sizes = %v, want none when the sweep file sets only weights", s.sizes)
	}
	sweep := s.sweep()
	launches := sweep.Launches()
	if len(launches) != 1 || launches[0].ConfigPath != "config/mixin/64/gpt2_small_64_0.5.yaml" {
		t.Errorf("unexpected launches %v", launches)
	}
}

func TestRunSettingsDefaults(t *testing.T) {
	var s runSettings
	s.fillDefaults(false)

	if s.worker != "all" {
		t.Errorf("worker = %q, want all", s.worker)
	}
	if s.entrypoint != defaultEntrypoint {
		t.Errorf("entrypoint = %q", s.entrypoint)
	}
	if s.wandbKeyEnv != "WANDB_API_KEY" {
		t.Errorf("wandbKeyEnv = %q, want WANDB_API_KEY", s.wandbKeyEnv)
	}
	if s.onFailure != failureContinue {
		t.Errorf("onFailure = %q, want %q", s.onFailure, failureContinue)
	}
	if s.delay != 9000*time.Second {
		t.Errorf("delay = %s, want 2h30m0s", s.delay)
	}
	sweep := s.sweep()
	if got := len(sweep.Launches()); got != 11 {
		t.Errorf("default sweep has %d launches, want 11", got)
	}
}

func TestProfileDelayParseError(t *testing.T) {
	var s runSettings
	err := s.applyProfile("mixin", &Profile{LaunchDelay: "soon"})
	if err == nil {
		t.Fatal("expected an error for an unparseable launch_delay")
	}
}
