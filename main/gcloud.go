package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// redactedCredential stands in for the tracking credential everywhere
// except the command actually handed to gcloud.
const redactedCredential = "********"

// Target identifies the accelerator pod a sweep dispatches to. It is
// constant across a sweep; only the config path varies between launches.
type Target struct {
	TPU    string
	Zone   string
	Worker string
}

func (t Target) String() string {
	return fmt.Sprintf("%s (zone %s, worker %s)", t.TPU, t.Zone, t.Worker)
}

func (t Target) validate() error {
	if t.TPU == "" {
		return fmt.Errorf("tpu name is required (flag, sweep file, profile, or TPURUN_TPU)")
	}
	if t.Zone == "" {
		return fmt.Errorf("zone is required (flag, sweep file, or profile)")
	}
	if t.Worker == "" {
		return fmt.Errorf("worker selector is empty")
	}
	return nil
}

// remoteTrainCommand builds the shell command executed on every pod worker:
// the tracking credential in the environment, then the trainer with its
// config path and any extra args. Everything user-controlled is quoted.
func remoteTrainCommand(entrypoint, keyVar, keyValue, configPath string, extraArgs []string) string {
	var b strings.Builder
	if keyVar != "" {
		fmt.Fprintf(&b, "env %s=%s ", keyVar, shellQuote(keyValue))
	}
	fmt.Fprintf(&b, "python %s --config_path %s", shellQuote(entrypoint), shellQuote(configPath))
	for _, arg := range extraArgs {
		b.WriteString(" ")
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

// gcloudArgs assembles the control-plane invocation that runs command on
// all selected workers of the pod.
func gcloudArgs(t Target, command string) []string {
	return []string{
		"alpha", "compute", "tpus", "tpu-vm", "ssh", t.TPU,
		fmt.Sprintf("--zone=%s", t.Zone),
		fmt.Sprintf("--worker=%s", t.Worker),
		fmt.Sprintf("--command=%s", command),
	}
}

// dispatchLaunch runs the gcloud invocation and blocks until it returns.
// The combined output comes back regardless of the exit status so the
// registry can keep it either way.
func dispatchLaunch(t Target, command string) (string, error) {
	cmd := exec.Command("gcloud", gcloudArgs(t, command)...)
	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		return output, fmt.Errorf("gcloud tpu-vm ssh %s: %w", t.TPU, err)
	}
	return output, nil
}

// exitCode digs the process exit status out of a dispatch error, -1 when
// the process never ran.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, `'`, `'"'"'`) + "'"
}

func expandLocalPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		rest := strings.TrimPrefix(p, "~")
		if strings.HasPrefix(rest, "/") {
			rest = rest[1:]
		}
		if rest == "" {
			p = home
		} else {
			p = filepath.Join(home, rest)
		}
	}
	return filepath.Abs(p)
}
