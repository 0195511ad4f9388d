package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/protein-minimizer/internal/config"
	"github.com/jonathan/protein-minimizer/internal/db"
	"github.com/jonathan/protein-minimizer/internal/mechanics"
	"github.com/jonathan/protein-minimizer/internal/observability"
	"github.com/jonathan/protein-minimizer/internal/pdb"
	"github.com/jonathan/protein-minimizer/internal/pipeline"
	"github.com/jonathan/protein-minimizer/internal/rendering"
	"github.com/jonathan/protein-minimizer/internal/repair"
	"github.com/jonathan/protein-minimizer/internal/report"
	"github.com/jonathan/protein-minimizer/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Repair, minimize and analyse every structure in a directory",
	Long: `Processes every *.pdb, *.PDB and *.pdb.gz file in the input directory: repair -> minimization -> alignment -> rendering.
Writes energy and RMSD tables, run metadata and minimized structures to the output directory.

Configuration can be loaded from a JSON or YAML file using --config. Command-line arguments override config file values.`,
	RunE: runBatchCmd,
}

var (
	runConfigPath      string
	runInputDir        string
	runOutputDir       string
	runForceField      string
	runSolvent         string
	runMaxIterations   int
	runHardware        string
	runGPUPlatform     string
	runGPUDevices      []int
	runGPUFallback     bool
	runCPUThreads      int
	runWorkers         int
	runPH              float64
	runEnergyTolerance float64
	runRender          bool
	runAutoSwitch      bool
	runPDBFixerPath    string
	runPythonPath      string
	runPyMOLPath       string
	runKeepWorkDir     bool
	runVerbose         bool
	runLogFormat       string
	runDatabaseURL     string
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to a JSON or YAML config file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runInputDir, "input", "i", "", "Directory containing input PDB files")
	runCommand.Flags().StringVarP(&runOutputDir, "output", "o", "", "Output directory (default \"output\")")
	runCommand.Flags().StringVar(&runForceField, "force-field", "", "Force field: CHARMM36, AMBER14, AMBER99SB, AMBER03, AMBER10")
	runCommand.Flags().StringVar(&runSolvent, "solvent", "", "Solvent model: none, tip3p, spce, gbn2, obc2")
	runCommand.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Maximum minimization iterations (default 500)")
	runCommand.Flags().StringVar(&runHardware, "hardware", "", "CPU or GPU")
	runCommand.Flags().StringVar(&runGPUPlatform, "gpu-platform", "", "GPU platform: CUDA or OpenCL")
	runCommand.Flags().IntSliceVar(&runGPUDevices, "gpu-devices", nil, "GPU device indices (default 0)")
	runCommand.Flags().BoolVar(&runGPUFallback, "gpu-fallback", false, "Fall back to CPU when the GPU platform cannot be created")
	runCommand.Flags().IntVar(&runCPUThreads, "cpu-threads", 0, "CPU threads for minimization (0 = all available)")
	runCommand.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Structures processed in parallel (0 = one per CPU)")
	runCommand.Flags().Float64Var(&runPH, "ph", 0, "pH used when adding hydrogens (default 7.4)")
	runCommand.Flags().Float64Var(&runEnergyTolerance, "energy-tolerance", 0, "Accepted energy increase in kJ/mol before flagging")
	runCommand.Flags().BoolVar(&runRender, "render", false, "Render a colored comparison of each structure with PyMOL")
	runCommand.Flags().BoolVar(&runAutoSwitch, "auto-switch-force-field", false, "Switch to an implicit-compatible force field instead of failing")
	runCommand.Flags().StringVar(&runPDBFixerPath, "pdbfixer", "", "Path to the pdbfixer executable")
	runCommand.Flags().StringVar(&runPythonPath, "python", "", "Python interpreter with OpenMM installed")
	runCommand.Flags().StringVar(&runPyMOLPath, "pymol", "", "Path to the pymol executable")
	runCommand.Flags().BoolVar(&runKeepWorkDir, "keep-work-dir", false, "Keep minimization scratch directories for debugging")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")
	runCommand.Flags().StringVar(&runLogFormat, "log-format", "", "Log format on stderr: text or json (default \"text\")")

	// Database URL for run history
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(runCommand)
}

// capabilities bundles the external tools a batch depends on.
type capabilities struct {
	repairer  repair.Repairer
	mechanics mechanics.Mechanics
	renderer  rendering.Renderer
	// openRecorder connects run history storage; nil uses openDatabase.
	openRecorder func(ctx context.Context, databaseURL string) (runRecorder, error)
}

// runRecorder persists batch runs. *db.DB implements it.
type runRecorder interface {
	CreateRun(ctx context.Context, runID uuid.UUID, cfg types.RunConfiguration) error
	SaveReport(ctx context.Context, runID uuid.UUID, rep *types.BatchReport) error
	CompleteRun(ctx context.Context, runID uuid.UUID, rep *types.BatchReport) error
	FailRun(ctx context.Context, runID uuid.UUID) error
	Close()
}

// openDatabase connects to PostgreSQL and applies the schema.
func openDatabase(ctx context.Context, databaseURL string) (runRecorder, error) {
	store, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func productionCapabilities(cfg config.Config, logger *slog.Logger) capabilities {
	openmm := mechanics.NewOpenMM(cfg.PythonPath, logger)
	openmm.KeepWorkDir = cfg.KeepWorkDir
	caps := capabilities{
		repairer:     repair.NewPDBFixer(cfg.PDBFixerPath, logger),
		mechanics:    openmm,
		openRecorder: openDatabase,
	}
	if cfg.Render {
		caps.renderer = rendering.NewPyMOL(cfg.PyMOLPath, cfg.RenderSettings(), logger)
	}
	return caps
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveRunConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLoggerForFormat(os.Stderr, cfg.LogFormat, cfg.Verbose)
	rep, err := executeBatch(ctx, cfg, productionCapabilities(cfg, logger), cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	if rep.Cancelled {
		return fmt.Errorf("batch cancelled: %d of %d structures completed", rep.SuccessCount(), len(rep.Items))
	}
	return nil
}

// resolveRunConfig loads the config file, applies explicitly set flags and fills defaults.
func resolveRunConfig(cmd *cobra.Command) (config.Config, error) {
	// Step 1: Load config file if provided
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return config.Config{}, err
		}
		cfg = *loadedCfg
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	// Only override if the flag was explicitly set
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.InputDir = runInputDir
	}
	if flags.Changed("output") {
		cfg.OutputDir = runOutputDir
	}
	if flags.Changed("force-field") {
		cfg.ForceField = runForceField
	}
	if flags.Changed("solvent") {
		cfg.Solvent = runSolvent
	}
	if flags.Changed("max-iterations") {
		cfg.MaxIterations = runMaxIterations
	}
	if flags.Changed("hardware") {
		cfg.Hardware = runHardware
	}
	if flags.Changed("gpu-platform") {
		cfg.GPUPlatform = runGPUPlatform
	}
	if flags.Changed("gpu-devices") {
		cfg.GPUDevices = runGPUDevices
	}
	if flags.Changed("gpu-fallback") {
		cfg.GPUFallback = runGPUFallback
	}
	if flags.Changed("cpu-threads") {
		cfg.CPUThreads = runCPUThreads
	}
	if flags.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if flags.Changed("ph") {
		cfg.PH = runPH
	}
	if flags.Changed("energy-tolerance") {
		cfg.EnergyTolerance = config.Float64(runEnergyTolerance)
	}
	if flags.Changed("render") {
		cfg.Render = runRender
	}
	if flags.Changed("auto-switch-force-field") {
		cfg.AutoSwitchForceField = runAutoSwitch
	}
	if flags.Changed("pdbfixer") {
		cfg.PDBFixerPath = runPDBFixerPath
	}
	if flags.Changed("python") {
		cfg.PythonPath = runPythonPath
	}
	if flags.Changed("pymol") {
		cfg.PyMOLPath = runPyMOLPath
	}
	if flags.Changed("keep-work-dir") {
		cfg.KeepWorkDir = runKeepWorkDir
	}
	if flags.Changed("verbose") {
		cfg.Verbose = runVerbose
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = runLogFormat
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}

	// Step 3: Apply defaults for unset values
	cfg = cfg.MergeWithDefaults(config.Defaults())

	// Step 4: Database URL fallback
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	// Step 5: Validate required fields
	if cfg.InputDir == "" {
		return config.Config{}, fmt.Errorf("--input must be provided (via flag or config)")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// stepPrinter prints numbered "Step i/N" progress lines.
type stepPrinter struct {
	out   io.Writer
	total int
	n     int
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func (s *stepPrinter) step(format string, args ...any) {
	s.n++
	fmt.Fprintf(s.out, "Step %d/%d: %s\n", s.n, s.total, fmt.Sprintf(format, args...))
}

// executeBatch runs one batch end to end and writes its artifacts. Item failures are part of
// the returned report; only configuration, input, artifact and database errors are returned.
// A recorded run that ends in an error is marked failed.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func executeBatch(ctx context.Context, cfg config.Config, caps capabilities, out io.Writer, logger *slog.Logger) (_ *types.BatchReport, err error) {
	runCfg, err := cfg.RunConfiguration()
	if err != nil {
		return nil, err
	}
	if requested, ok := types.LookupForceField(cfg.ForceField); ok && requested.Name != runCfg.ForceField {
		fmt.Fprintf(out, "Warning: %s does not support %s; using %s instead\n", requested.Name, runCfg.Solvent, runCfg.ForceField)
		logger.Warn("force field switched for implicit solvent", "requested", requested.Name, "using", runCfg.ForceField)
	}

	steps := &stepPrinter{out: out, total: 4}
	if cfg.DatabaseURL != "" {
		steps.total = 5
	}
	printer := observability.NewPrinter(out)
	if cfg.Verbose {
		printer.PrintConfiguration(runCfg)
	}

	steps.step("Discovering structures in %s", cfg.InputDir)
	inputs, err := pdb.Discover(cfg.InputDir)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no PDB files found in %s", cfg.InputDir)
	}
	fmt.Fprintf(out, "  Found %d structures\n", len(inputs))

	runID := uuid.New()
	var store runRecorder
	if cfg.DatabaseURL != "" {
		steps.step("Recording run %s in database", runID)
		open := caps.openRecorder
		if open == nil {
			open = openDatabase
		}
		store, err = open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := store.CreateRun(ctx, runID, runCfg); err != nil {
			return nil, err
		}
		defer func() {
			if err == nil {
				return
			}
			if failErr := store.FailRun(context.WithoutCancel(ctx), runID); failErr != nil {
				logger.Error("failed to mark run failed", "run_id", runID, "error", failErr)
			}
		}()
	}

	var progressMu sync.Mutex
	onProgress := func(ev pipeline.ProgressEvent) {
		if !cfg.Verbose {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		fmt.Fprintf(out, "  [%d/%d] %s: %s\n", ev.Item+1, ev.Total, ev.Identifier, ev.Message)
	}

	steps.step("Processing %d structures (%s, %s, %s)", len(inputs), runCfg.ForceField, runCfg.Solvent, runCfg.Hardware)
	orchestrator := pipeline.New(caps.repairer, caps.mechanics, caps.renderer, pipeline.Options{
		Workers:    cfg.Workers,
		Render:     cfg.Render,
		OutputDir:  cfg.OutputDir,
		Logger:     logger,
		OnProgress: onProgress,
	})
	rep, err := orchestrator.Run(ctx, inputs, runCfg)
	if err != nil {
		return nil, err
	}
	succeeded, failed, cancelled := report.Counts(rep)
	fmt.Fprintf(out, "  %d succeeded, %d failed, %d cancelled\n", succeeded, failed, cancelled)

	steps.step("Writing reports to %s", cfg.OutputDir)
	meta, err := report.NewMetadata(runID, runCfg, cfg.Render, rep)
	if err != nil {
		return nil, err
	}
	paths, err := report.WriteArtifacts(cfg.OutputDir, rep, meta)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		fmt.Fprintf(out, "  %s\n", p)
	}

	if store != nil {
		// Record the outcome even when the batch was interrupted.
		dbCtx := context.WithoutCancel(ctx)
		if err := store.SaveReport(dbCtx, runID, rep); err != nil {
			return nil, err
		}
		if err := store.CompleteRun(dbCtx, runID, rep); err != nil {
			return nil, err
		}
	}

	steps.step("Summary")
	if cfg.Verbose {
		printer.PrintReport(rep)
	} else {
		printShortSummary(out, rep)
	}
	return rep, nil
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func printShortSummary(out io.Writer, rep *types.BatchReport) {
	for _, e := range rep.Energies {
		fmt.Fprintf(out, "  %-20s ΔE %12.4f kJ/mol\n", e.Identifier, e.DeltaEnergy)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "  %-20s FAILED (%s at %s): %s\n", f.Identifier, f.Kind, f.Stage, f.Reason)
	}
	for _, w := range rep.RenderWarnings {
		fmt.Fprintf(out, "  %-20s render skipped: %s\n", w.Identifier, strings.TrimSpace(w.Reason))
	}
}
