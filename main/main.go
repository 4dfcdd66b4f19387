package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "run":
		if err := cmdRun(os.Args[2:]); err != nil {
			log.Fatalf("tpurun run: %v", err)
		}
	case "list":
		if err := cmdList(os.Args[2:]); err != nil {
			log.Fatalf("tpurun list: %v", err)
		}
	case "show":
		if err := cmdShow(os.Args[2:]); err != nil {
			log.Fatalf("tpurun show: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage:
  tpurun run  [flags] -- [extra trainer args...]
  tpurun list
  tpurun show <id>

Commands:
  run   Dispatch the mixture sweep to a TPU pod, one config at a time, and record each launch locally.
  list  List recorded launches (stored locally).
  show  Show details of one launch by ID.

 Examples:
  tpurun run --tpu gpt2-mixin-pod --zone us-east1-d

  tpurun run --profile mixin --launch-delay 2h30m

  tpurun run --config-file sweeps/mixin.yaml --dry-run

  tpurun run --tpu gpt2-mixin-pod --zone us-east1-d --size 32 --size 64 -- --trainer.num_train_steps 1000

  tpurun list

  tpurun show 1

 Notes:
  - The built-in sweep drains the size pass (32 64 128 256 512 at weight 16),
    then the weight pass (0.25 0.5 1 2 4 8 at size 32), 11 launches total.
  - Define defaults and profiles in ~/.tpurun/config.yaml, then pass --profile NAME
    to avoid retyping the pod name, zone, and delay.
  - The W&B API key is read from the local environment (WANDB_API_KEY by default)
    and injected into the remote command; it is never stored in config files.
  - A failed dispatch is recorded and the sweep continues after the usual delay;
    pass --on-failure abort to stop at the first failure instead.
  - Each dispatch blocks until gcloud returns; the launch delay starts after that.`)
}

//
// flag helpers
//

type multiStringFlag struct {
	values []string
}

func (m *multiStringFlag) Set(s string) error {
	m.values = append(m.values, s)
	return nil
}

func (m *multiStringFlag) String() string {
	return strings.Join(m.values, ",")
}

func (m *multiStringFlag) Values() []string {
	return append([]string(nil), m.values...)
}

type durationFlag struct {
	value time.Duration
	set   bool
}

func (d *durationFlag) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.value = v
	d.set = true
	return nil
}

func (d *durationFlag) String() string {
	return d.value.String()
}
