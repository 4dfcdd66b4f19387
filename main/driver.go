package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	failureContinue = "continue"
	failureAbort    = "abort"
)

// tpurun run --tpu POD --zone ZONE [flags] -- [extra trainer args...]
func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var (
		profileName string
		configPath  string
		name        string
		tpu         string
		zone        string
		worker      string
		entrypoint  string
		baseDir     string
		wandbKeyEnv string
		onFailure   string
		dryRun      bool
		sizesFlag   multiStringFlag
		weightsFlag multiStringFlag
	)
	fs.StringVar(&profileName, "profile", "", "Profile name defined in ~/.tpurun/config.yaml to use as defaults")
	fs.StringVar(&configPath, "config-file", "", "Path to a YAML sweep file (optional)")
	fs.StringVar(&name, "name", "", "Logical name for the sweep (default mixin)")
	fs.StringVar(&tpu, "tpu", "", "Name of the TPU pod to dispatch to (required)")
	fs.StringVar(&zone, "zone", "", "Zone of the TPU pod (required)")
	fs.StringVar(&worker, "worker", "", "Worker selector passed to gcloud (default all)")
	fs.StringVar(&entrypoint, "entrypoint", "", "Trainer entry point path on the pod")
	fs.StringVar(&baseDir, "base-dir", "", "Base directory of the mixture configs on the pod")
	fs.StringVar(&wandbKeyEnv, "wandb-key-env", "", "Local env var holding the W&B API key (default WANDB_API_KEY)")
	fs.StringVar(&onFailure, "on-failure", "", "What to do when a dispatch fails: continue or abort (default continue)")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the gcloud invocations without dispatching or recording")
	fs.Var(&sizesFlag, "size", "Mixture size to sweep; may be repeated (overrides the built-in size pass)")
	fs.Var(&weightsFlag, "weight", "Mixture weight to sweep; may be repeated (overrides the built-in weight pass)")

	delayFlag := durationFlag{value: defaultLaunchDelay}
	fs.Var(&delayFlag, "launch-delay", "How long to wait after each dispatch (e.g. 2h30m)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tpurun run --tpu POD --zone ZONE [flags] -- [extra trainer args...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings := runSettings{
		name:        name,
		tpu:         tpu,
		zone:        zone,
		worker:      worker,
		entrypoint:  entrypoint,
		baseDir:     baseDir,
		wandbKeyEnv: wandbKeyEnv,
		onFailure:   onFailure,
		sizes:       sizesFlag.Values(),
		weights:     weightsFlag.Values(),
		extraArgs:   fs.Args(),
	}
	if delayFlag.set {
		settings.delay = delayFlag.value
		settings.delaySet = true
	}

	var sweepFile *SweepFile
	if configPath != "" {
		absPath, err := expandLocalPath(configPath)
		if err != nil {
			return fmt.Errorf("config-file: %w", err)
		}
		sweepFile, err = loadSweepFile(absPath)
		if err != nil {
			return err
		}
		if profileName == "" && sweepFile.Profile != "" {
			profileName = sweepFile.Profile
		}
		if err := settings.applySweepFile(absPath, sweepFile); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		if profileName != "" {
			return fmt.Errorf("profile %q requested but no config file found (expected %s)", profileName, configPathHint())
		}
	} else {
		if profileName != "" {
			prof, ok := cfg.Profiles[profileName]
			if !ok {
				return fmt.Errorf("profile %q not found in %s", profileName, cfg.path)
			}
			if err := settings.applyProfile(profileName, &prof); err != nil {
				return err
			}
		}
		if err := settings.applyProfile("defaults", &cfg.Defaults); err != nil {
			return err
		}
	}

	sequencesFromFile := sweepFile != nil && (len(sweepFile.Sizes) > 0 || len(sweepFile.Weights) > 0)
	settings.fillDefaults(sequencesFromFile)

	if settings.tpu == "" {
		// allow ENV override
		settings.tpu = os.Getenv("TPURUN_TPU")
	}
	if settings.onFailure != failureContinue && settings.onFailure != failureAbort {
		return fmt.Errorf("on-failure must be %q or %q, got %q", failureContinue, failureAbort, settings.onFailure)
	}

	sweep := settings.sweep()
	target := settings.target()
	if err := target.validate(); err != nil {
		fs.Usage()
		return err
	}
	if err := sweep.validate(); err != nil {
		return err
	}

	wandbKey := os.Getenv(settings.wandbKeyEnv)
	if wandbKey == "" {
		fmt.Printf("Warning: %s is not set locally; the trainer will run without a tracking credential\n", settings.wandbKeyEnv)
	}
	// The credential only ever goes into the dispatched command. Anything
	// printed or recorded carries the redacted form.
	displayKey := wandbKey
	if displayKey != "" {
		displayKey = redactedCredential
	}

	launches := sweep.Launches()
	fmt.Printf("Sweep %s: %d launches against %s, %s between launches\n",
		sweep.Name, len(launches), target, sweep.Delay)

	if dryRun {
		for _, launch := range launches {
			command := remoteTrainCommand(settings.entrypoint, settings.wandbKeyEnv, displayKey, launch.ConfigPath, sweep.ExtraArgs)
			fmt.Printf("gcloud %s\n", strings.Join(gcloudArgs(target, command), " "))
		}
		return nil
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open DB: %w", err)
	}
	defer db.Close()

	commit, branch := getGitInfo()
	sweepRec := SweepRecord{
		ID:        uuid.NewString(),
		Name:      sweep.Name,
		TPU:       target.TPU,
		Zone:      target.Zone,
		Worker:    target.Worker,
		GitCommit: commit,
		GitBranch: branch,
		CreatedAt: time.Now().UTC(),
	}
	if err := insertSweep(db, sweepRec); err != nil {
		return fmt.Errorf("record sweep: %w", err)
	}
	fmt.Printf("Recorded sweep %s\n", sweepRec.ID)

	failed := 0
	for i, launch := range launches {
		fmt.Printf("Launching %s (%d of %d)\n", launch.ConfigPath, launch.Seq, len(launches))
		command := remoteTrainCommand(settings.entrypoint, settings.wandbKeyEnv, wandbKey, launch.ConfigPath, sweep.ExtraArgs)
		displayCommand := remoteTrainCommand(settings.entrypoint, settings.wandbKeyEnv, displayKey, launch.ConfigPath, sweep.ExtraArgs)

		id, err := insertLaunch(db, LaunchRecord{
			SweepID:      sweepRec.ID,
			Seq:          launch.Seq,
			ConfigPath:   launch.ConfigPath,
			Command:      displayCommand,
			Status:       "LAUNCHING",
			DispatchedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("record launch: %w", err)
		}

		output, dispatchErr := dispatchLaunch(target, command)
		status := "DISPATCHED"
		if dispatchErr != nil {
			status = "FAILED"
			failed++
		}
		if err := finishLaunch(db, id, status, exitCode(dispatchErr), output, time.Now().UTC()); err != nil {
			return fmt.Errorf("update launch %d: %w", id, err)
		}

		if dispatchErr != nil {
			fmt.Printf("Warning: launch %d failed: %v\n", id, dispatchErr)
			if settings.onFailure == failureAbort {
				return fmt.Errorf("aborting sweep %s after failed launch %d (%s)", sweepRec.ID, id, launch.ConfigPath)
			}
		} else {
			fmt.Printf("Dispatched launch %d\n", id)
		}

		if i < len(launches)-1 {
			fmt.Printf("Sleeping %s before the next launch\n", sweep.Delay)
			time.Sleep(sweep.Delay)
		}
	}

	if failed > 0 {
		fmt.Printf("Sweep %s finished: %d of %d launches failed (see tpurun list)\n", sweepRec.ID, failed, len(launches))
	} else {
		fmt.Printf("Sweep %s finished: all %d launches dispatched\n", sweepRec.ID, len(launches))
	}
	return nil
}

//
// git helpers (local repo info)
//

func getGitInfo() (commit, branch string) {
	c1 := exec.Command("git", "rev-parse", "HEAD")
	if out, err := c1.Output(); err == nil {
		commit = strings.TrimSpace(string(out))
	}
	c2 := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	if out, err := c2.Output(); err == nil {
		branch = strings.TrimSpace(string(out))
	}
	return
}
