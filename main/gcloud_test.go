package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestRemoteTrainCommand(t *testing.T) {
	got := remoteTrainCommand(defaultEntrypoint, "WANDB_API_KEY", "secret",
		"config/mixin/128/gpt2_small_128_16.yaml", nil)
	want := "env WANDB_API_KEY='secret' python 'levanter/src/levanter/main/train_lm.py'" +
		" --config_path 'config/mixin/128/gpt2_small_128_16.yaml'"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestRemoteTrainCommandExtraArgs(t *testing.T) {
	got := remoteTrainCommand(defaultEntrypoint, "WANDB_API_KEY", "k",
		"config/mixin/32/gpt2_small_32_0.5.yaml",
		[]string{"--trainer.num_train_steps", "1000"})
	if !strings.HasSuffix(got, " '--trainer.num_train_steps' '1000'") {
		t.Fatalf("extra args not appended: %s", got)
	}
}

func TestRemoteTrainCommandNoCredentialVar(t *testing.T) {
	got := remoteTrainCommand(defaultEntrypoint, "", "",
		"config/mixin/32/gpt2_small_32_1.yaml", nil)
	if strings.HasPrefix(got, "env ") {
		t.Fatalf("expected no env prefix without a key var: %s", got)
	}
	if !strings.HasPrefix(got, "python ") {
		t.Fatalf("expected command to start with python: %s", got)
	}
}

func TestGcloudArgs(t *testing.T) {
	target := Target{TPU: "gpt2-mixin-pod", Zone: "us-east1-d", Worker: "all"}
	got := gcloudArgs(target, "echo hi")
	want := []string{
		"alpha", "compute", "tpus", "tpu-vm", "ssh", "gpt2-mixin-pod",
		"--zone=us-east1-d",
		"--worker=all",
		"--command=echo hi",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got  %v\nwant %v", got, want)
	}
}

func TestTargetValidate(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		wantOK bool
	}{
		{"complete", Target{TPU: "pod", Zone: "us-east1-d", Worker: "all"}, true},
		{"missing tpu", Target{Zone: "us-east1-d", Worker: "all"}, false},
		{"missing zone", Target{TPU: "pod", Worker: "all"}, false},
		{"missing worker", Target{TPU: "pod", Zone: "us-east1-d"}, false},
	}
	for _, tc := range cases {
		err := tc.target.validate()
		if tc.wantOK && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.wantOK && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":                "''",
		"plain":           "'plain'",
		"two words":       "'two words'",
		"it's":            `'it'"'"'s'`,
		"$HOME;rm -rf /":  "'$HOME;rm -rf /'",
		"config/a_b.yaml": "'config/a_b.yaml'",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
}
