// Package cli wires the cobra root command: flag parsing, config/logger
// construction, and the hidden self-re-exec worker dispatch.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CzarX86/CoupaDownloads-sub000/internal/config"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/folder"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/model"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/scheduler"
	"github.com/CzarX86/CoupaDownloads-sub000/internal/statestore"
	"github.com/CzarX86/CoupaDownloads-sub000/pkg/utils"
)

// rootOpts holds the flags the root command exposes; everything else lives
// in the Config file/env layer.
type rootOpts struct {
	configPath string
	input      string
	workers    int
	headless   bool
	driverPath string
	dryRun     bool
	skipDone   bool
}

// Execute is cmd/coupadownloader's entry point. It never runs when
// os.Args[1] is scheduler.WorkerFlag — RunWorkerMode short-circuits that
// case before cobra ever sees argv, since the worker process has no
// business parsing the root command's flags at all.
func Execute(version string) error {
	ro := &rootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "coupadownloader",
		Short:         "Download Coupa purchase-order attachments in bulk",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(ctx, cmd, ro)
		},
	}

	root.PersistentFlags().StringVar(&ro.configPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&ro.input, "input", "", "Path to the input/state file (',' or ';' delimited text, or .xlsx)")
	root.PersistentFlags().IntVar(&ro.workers, "workers", 0, "Worker count (0 = use config default)")
	root.PersistentFlags().BoolVar(&ro.headless, "headless", true, "Run the browser headless")
	root.PersistentFlags().StringVar(&ro.driverPath, "driver-path", "", "Path to the browser driver executable")
	root.PersistentFlags().BoolVar(&ro.dryRun, "dry-run", false, "Load and validate the input file, print the work plan, and exit without launching a browser")
	root.PersistentFlags().BoolVar(&ro.skipDone, "skip-complete", true, "Skip POs already marked COMPLETED or NO_ATTACHMENTS")

	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// signalContext cancels ctx on SIGINT/SIGTERM, generalized from "stop
// accepting HTTP" to "stop dispatching POs, drain in-flight work".
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func run(ctx context.Context, cmd *cobra.Command, ro *rootOpts) error {
	cfg, err := config.Load(ro.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, ro, cmd.Flags().Changed)

	logger, err := utils.NewLogger(utils.LoggerConfig(cfg.Logger), utils.WithComponent("scheduler"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	store := statestore.New(cfg.InputPath, logger)
	if _, _, err := store.Load(); err != nil {
		return err
	}

	workItems, invalidCount := store.FilterValidPOs(cfg.PrefixStripTokens)
	if invalidCount > 0 {
		logger.Warn("skipping invalid PO rows", zap.Int("count", invalidCount))
	}
	if cfg.SkipAlreadyComplete {
		before := len(workItems)
		workItems = store.SkipComplete(workItems)
		logger.Info("skip-complete filter applied",
			zap.Int("before", before), zap.Int("after", len(workItems)))
	}

	effective := cfg.EffectiveWorkerCount(len(workItems))
	if ro.dryRun {
		return printDryRun(workItems, effective)
	}

	logger.Info("starting run", zap.Int("work_items", len(workItems)), zap.Int("effective_workers", effective))

	folders := folder.New(cfg.DownloadBaseDir, logger)
	sched := scheduler.New(cfg, logger)
	summary, err := sched.Run(ctx, workItems, store, folders)
	if err != nil {
		return err
	}

	logger.Info("run complete",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("partial", summary.Partial),
		zap.Int("no_attachments", summary.NoAttachments),
		zap.Int("failed", summary.Failed),
		zap.Int("po_not_found", summary.PoNotFound))

	// Per-PO failures are recorded in the state file, never raised beyond
	// the worker protocol — a clean drain always exits 0 regardless of
	// summary.Failed. Nonzero exit comes only from the errors returned
	// above: config loading/validation (including an empty driver_path),
	// logger setup, and missing/malformed input. A worker whose browser
	// cannot be launched does not make Run fail; the POs sent to it are
	// recorded as FAILED/EXCEPTION results.
	return nil
}

// applyFlagOverrides lets explicit CLI flags win over the config file/env
// layer — flags override an already-loaded Config, honoring "explicit
// beats implicit". changed mirrors cmd.Flags().Changed, needed for the
// two bool flags (headless, skip-complete) since their zero value is
// indistinguishable from "the user explicitly chose the default".
func applyFlagOverrides(cfg *config.Config, ro *rootOpts, changed func(string) bool) {
	if ro.input != "" {
		cfg.InputPath = ro.input
	}
	if ro.workers > 0 {
		cfg.WorkerCount = ro.workers
	}
	if ro.driverPath != "" {
		cfg.DriverPath = ro.driverPath
	}
	if changed("headless") {
		cfg.Headless = ro.headless
	}
	if changed("skip-complete") {
		cfg.SkipAlreadyComplete = ro.skipDone
	}
}

func printDryRun(workItems []model.PoWorkItem, effectiveWorkers int) error {
	fmt.Printf("Dry run: %d PO(s) would be dispatched across %d worker(s)\n", len(workItems), effectiveWorkers)
	for _, item := range workItems {
		fmt.Printf("  %s\n", item.DisplayID)
	}
	return nil
}
