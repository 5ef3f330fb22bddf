package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/pslens/pslens/internal/engine"
)

func main() {
	var (
		configPath     string
		maxPasses      int
		debug          bool
		watch          bool
		stripBackticks bool
		noIntermediate bool
		reportPath     string
	)

	rootCmd := &cobra.Command{
		Use:   "pslens [script...]",
		Short: "Statically deobfuscate PowerShell scripts",
		Long: "pslens parses a script, repeatedly folds everything that is " +
			"provably constant, removes the dead code that folding exposes, " +
			"and writes the cleaned script next to the input. No part of the " +
			"script is ever executed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-passes") {
				cfg.MaxPasses = maxPasses
			}
			if stripBackticks {
				cfg.StripBackticks = true
			}
			if noIntermediate {
				cfg.KeepIntermediate = false
			}
			if reportPath != "" {
				cfg.ReportPath = reportPath
			}

			eng := engine.New(cfg)
			if debug {
				eng.Debug = os.Stderr
			}
			if watch {
				return watchAndRun(eng, args)
			}
			return runOnce(eng, args)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to JSON configuration file")
	rootCmd.PersistentFlags().IntVar(&maxPasses, "max-passes", engine.DefaultMaxPasses, "Maximum rewrite passes per file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&watch, "watch", "w", false, "Re-run when an input file changes")
	rootCmd.PersistentFlags().BoolVar(&stripBackticks, "strip-backticks", false, "Strip cosmetic backtick escapes before parsing")
	rootCmd.PersistentFlags().BoolVar(&noIntermediate, "no-intermediate", false, "Skip the numbered per-pass snapshot files")
	rootCmd.PersistentFlags().StringVar(&reportPath, "report", "", "Write a binary run report to this path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runOnce(eng *engine.Engine, paths []string) error {
	for _, path := range paths {
		report, err := eng.Deobfuscate(path)
		if err != nil {
			return err
		}
		status := "stopped at pass limit"
		if report.Converged {
			status = fmt.Sprintf("converged after %d pass(es)", len(report.Passes))
		}
		fmt.Printf("%s: %s -> %s\n", path, status, report.Output)
	}
	return nil
}

// watchAndRun processes every input once, then re-runs a file whenever
// it is written to. Output files share the inputs' directories, so
// events for anything we generate are filtered out.
func watchAndRun(eng *engine.Engine, paths []string) error {
	if err := runOnce(eng, paths); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := map[string]bool{}
	dirs := map[string]bool{}
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "watching %d file(s); ctrl-c to stop\n", len(watched))
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] || strings.Contains(abs, "_deobfuscated") {
				continue
			}
			if _, err := eng.Deobfuscate(abs); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			} else {
				fmt.Printf("%s: reprocessed\n", event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
