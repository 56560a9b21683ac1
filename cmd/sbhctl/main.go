// Copyright © the sbh authors.
//
// SPDX-License-Identifier: Apache-2.0

// Command sbhctl is the one-shot operator CLI for sbh. It shares no
// process with the daemon: every subcommand loads configuration,
// does its own work, and exits.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sbh-io/sbh/internal/cli"
)

// exitCheckFailed marks an error as a failed check/validation rather
// than a runtime fault, selecting exit code 1 instead of 2.
type exitCheckFailed struct{ error }

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(exitCheckFailed); ok {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var outputFlag string

	root := &cobra.Command{
		Use:           "sbhctl",
		Short:         "Operate the sbh disk-pressure daemon from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/sbh/config.yaml", "path to the sbh config file")
	root.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "output format: text|json")

	format := func() (cli.OutputFormat, error) { return cli.ParseOutputFormat(outputFlag) }

	root.AddCommand(
		newScanCmd(&configPath, format),
		newCleanCmd(&configPath, format),
		newEmergencyCmd(&configPath, format),
		newCheckCmd(&configPath),
		newBallastCmd(&configPath, format),
		newProtectCmd(&configPath, format),
		newExplainCmd(format),
		newStatsCmd(format),
		newBlameCmd(&configPath, format),
		newStatusCmd(format),
		newConfigCmd(&configPath, format),
	)
	return root
}

func newScanCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	var minScore float64
	cmd := &cobra.Command{
		Use:   "scan [roots...]",
		Short: "Rank reclaim candidates across one or more roots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			return cli.Scan(cfg, args, minScore, f)
		},
	}
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "only show candidates at or above this composite score")
	return cmd
}

func newCleanCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	var targetFreePct float64
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "clean [roots...]",
		Short: "Delete reclaim candidates until the target free percentage is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			_, err = cli.Clean(cfg, args, targetFreePct, dryRun, f)
			return err
		},
	}
	cmd.Flags().Float64Var(&targetFreePct, "target-free-pct", 10, "stop once this free percentage is reached")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}

func newEmergencyCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	var targetFreePct float64
	cmd := &cobra.Command{
		Use:   "emergency [roots...]",
		Short: "Zero-write emergency reclaim: scan, score, and delete in memory only",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			_, err = cli.Emergency(cfg, args, targetFreePct, f)
			return err
		},
	}
	cmd.Flags().Float64Var(&targetFreePct, "target-free-pct", 5, "stop once this free percentage is reached")
	return cmd
}

func newCheckCmd(configPath *string) *cobra.Command {
	var needBytes int64
	var targetFreePct float64
	cmd := &cobra.Command{
		Use:   "check PATH",
		Short: "Check whether a prospective write fits without violating target headroom",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			result, err := cli.Check(cfg, args[0], needBytes, targetFreePct)
			if err != nil {
				return err
			}
			fmt.Println(result)
			if result != cli.CheckOK {
				return exitCheckFailed{fmt.Errorf("check failed: %s", result)}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&needBytes, "need-bytes", 0, "size in bytes of the prospective write")
	cmd.Flags().Float64Var(&targetFreePct, "target-free-pct", 10, "required free percentage after the write")
	return cmd
}

func newBallastCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	ballastCmd := &cobra.Command{
		Use:   "ballast",
		Short: "Manage ballast files that give the daemon free space to release under pressure",
	}

	run := func(fn func(f cli.OutputFormat, roots []string) error) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			return fn(f, args)
		}
	}

	provisionCmd := &cobra.Command{
		Use:   "provision [roots...]",
		Short: "Create every configured-but-missing ballast file",
		RunE: run(func(f cli.OutputFormat, roots []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			_, err = cli.BallastProvision(cfg, roots, f)
			return err
		}),
	}

	var releaseCount int
	releaseCmd := &cobra.Command{
		Use:   "release N [roots...]",
		Short: "Release N ballast files per root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return exitCheckFailed{fmt.Errorf("N must be an integer: %w", err)}
			}
			releaseCount = n
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			_, err = cli.BallastRelease(cfg, args[1:], releaseCount, f)
			return err
		},
	}

	replenishCmd := &cobra.Command{
		Use:   "replenish [roots...]",
		Short: "Replace one previously released file per root that had churn",
		RunE: run(func(f cli.OutputFormat, roots []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			_, err = cli.BallastReplenish(cfg, roots, f)
			return err
		}),
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [roots...]",
		Short: "Check every configured ballast file's size and header",
		RunE: run(func(f cli.OutputFormat, roots []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			_, err = cli.BallastVerify(cfg, roots, f)
			return err
		}),
	}

	statusCmd := &cobra.Command{
		Use:   "status [roots...]",
		Short: "Report ballast inventory and releasable bytes per root",
		RunE: run(func(f cli.OutputFormat, roots []string) error {
			cfg, err := cli.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			_, err = cli.BallastStatus(cfg, roots, f)
			return err
		}),
	}

	ballastCmd.AddCommand(provisionCmd, releaseCmd, replenishCmd, verifyCmd, statusCmd)
	return ballastCmd
}

func newProtectCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	protectCmd := &cobra.Command{
		Use:   "protect PATH_GLOB",
		Short: "Add a glob to the protected-paths list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ProtectAdd(*configPath, args[0])
		},
	}

	unprotectCmd := &cobra.Command{
		Use:   "unprotect PATH_GLOB",
		Short: "Remove a glob from the protected-paths list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ProtectRemove(*configPath, args[0])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured protected globs",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			return cli.ProtectList(*configPath, f)
		},
	}

	protectCmd.AddCommand(unprotectCmd, listCmd)
	return protectCmd
}

func newExplainCmd(format func() (cli.OutputFormat, error)) *cobra.Command {
	var storePath string
	cmd := &cobra.Command{
		Use:   "explain DECISION_ID",
		Short: "Print the evidence record behind one decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			_, err = cli.Explain(storePath, args[0], f)
			return err
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "/var/lib/sbh/activity.db", "path to the indexed activity store")
	return cmd
}

func newStatsCmd(format func() (cli.OutputFormat, error)) *cobra.Command {
	var storePath string
	var window string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate decisions, deletions, and errors over a trailing window",
		RunE: func(cmd *cobra.Command, args []string) error {
			dur, err := time.ParseDuration(window)
			if err != nil {
				return exitCheckFailed{fmt.Errorf("invalid --window: %w", err)}
			}
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			_, err = cli.Stats(storePath, dur, f)
			return err
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "/var/lib/sbh/activity.db", "path to the indexed activity store")
	cmd.Flags().StringVar(&window, "window", "24h", "trailing window to aggregate, e.g. 1h, 24h, 168h")
	return cmd
}

func newBlameCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	var storePath string
	var topN int
	cmd := &cobra.Command{
		Use:   "blame [roots...]",
		Short: "Attribute reclaimed bytes to watched roots, ranked descending",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			_, err = cli.Blame(storePath, args, topN, f)
			return err
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "/var/lib/sbh/activity.db", "path to the indexed activity store")
	cmd.Flags().IntVar(&topN, "top", 10, "show only the top N roots")
	return cmd
}

func newStatusCmd(format func() (cli.OutputFormat, error)) *cobra.Command {
	var statePath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's last-published state",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			return cli.Status(statePath, f)
		},
	}
	cmd.Flags().StringVar(&statePath, "state", "/var/lib/sbh/state.json", "path to the daemon's published state file")
	return cmd
}

func newConfigCmd(configPath *string, format func() (cli.OutputFormat, error)) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and modify the sbh configuration file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := format()
			if err != nil {
				return exitCheckFailed{err}
			}
			return cli.ConfigShow(*configPath, f)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ConfigValidate(*configPath); err != nil {
				return exitCheckFailed{err}
			}
			return nil
		},
	}

	diffCmd := &cobra.Command{
		Use:   "diff OLD_PATH NEW_PATH",
		Short: "Show the JSON merge patch between two configuration files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cli.ConfigDiff(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the configuration file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ConfigReset(*configPath)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set KEY=VALUE",
		Short: "Set a single dotted-path configuration field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value, ok := strings.Cut(args[0], "=")
			if !ok {
				return exitCheckFailed{fmt.Errorf("expected KEY=VALUE, got %q", args[0])}
			}
			return cli.ConfigSet(*configPath, key, value)
		},
	}

	configCmd.AddCommand(showCmd, validateCmd, diffCmd, resetCmd, setCmd)
	return configCmd
}
