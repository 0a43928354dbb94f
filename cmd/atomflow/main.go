package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atomflow/atomflow/internal/config"
	"github.com/atomflow/atomflow/internal/logger"
	"github.com/atomflow/atomflow/internal/potential"
	"github.com/atomflow/atomflow/internal/runner"
	"github.com/atomflow/atomflow/internal/server"
	"github.com/atomflow/atomflow/internal/stream"
	"github.com/atomflow/atomflow/internal/structure"
	"github.com/atomflow/atomflow/internal/tui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	configFile   string
	model        string
	inferenceURL string
	verbose      bool

	// Optimization flags.
	algorithm string
	fmax      float64

	// MD flags.
	timeStep    float64
	temperature float64
	friction    float64
	seed        int64

	steps     int
	interval  int
	outFile   string
	streamURL string
	live      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "atomflow",
		Short: "atomic structure simulation driver",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "potential model name")
	rootCmd.PersistentFlags().StringVar(&inferenceURL, "inference-url", "", "remote inference host base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	optCmd := &cobra.Command{
		Use:   "opt [structure.xyz]",
		Short: "relax a structure to a local energy minimum",
		Args:  cobra.ExactArgs(1),
		RunE:  runOpt,
	}
	optCmd.Flags().StringVar(&algorithm, "algorithm", "lbfgs", "optimizer (lbfgs|fire|sd)")
	optCmd.Flags().IntVar(&steps, "steps", 100, "maximum optimizer steps")
	optCmd.Flags().Float64Var(&fmax, "fmax", 0.05, "convergence force threshold (eV/Å)")
	addRunFlags(optCmd)

	mdCmd := &cobra.Command{
		Use:   "md [structure.xyz]",
		Short: "run molecular dynamics",
		Args:  cobra.ExactArgs(1),
		RunE:  runMD,
	}
	mdCmd.Flags().IntVar(&steps, "steps", 100, "number of MD steps")
	mdCmd.Flags().Float64Var(&timeStep, "dt", 0.5, "time step (fs)")
	mdCmd.Flags().Float64Var(&temperature, "temperature", 300, "thermostat temperature (K), 0 for NVE")
	mdCmd.Flags().Float64Var(&friction, "friction", 0.002, "Langevin friction coefficient")
	mdCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "thermostat random seed")
	addRunFlags(mdCmd)

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available potential models",
		RunE:  listModels,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the run API over HTTP",
		RunE:  serve,
	}

	rootCmd.AddCommand(optCmd, mdCmd, modelsCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&interval, "interval", 1, "emit a frame every N steps")
	cmd.Flags().StringVar(&outFile, "out", "", "write trajectory to an extended-XYZ file")
	cmd.Flags().StringVar(&streamURL, "stream", "", "push frames to a websocket viewer (ws://...)")
	cmd.Flags().BoolVar(&live, "live", false, "watch the run in the terminal")
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logger.New(level)
}

// registry builds the model registry: the built-in Lennard-Jones potential
// plus, when an inference host is configured, the remote MACE model.
func registry(cfg *config.Config) *potential.Registry {
	reg := potential.NewRegistry()
	url := cfg.InferenceURL
	if inferenceURL != "" {
		url = inferenceURL
	}
	if url != "" {
		reg.Register("mace-mp-0", func(ctx context.Context) (potential.Potential, error) {
			return potential.NewRemote(ctx, url, "mace-mp-0")
		})
	}
	return reg
}

func runOpt(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec := cfg.OptSpec()
	if cmd.Flags().Changed("algorithm") {
		spec.Algorithm = algorithm
	}
	if cmd.Flags().Changed("steps") {
		spec.Steps = steps
	}
	if cmd.Flags().Changed("fmax") {
		spec.Fmax = fmax
	}
	if cmd.Flags().Changed("interval") {
		spec.FrameInterval = interval
	}
	return execute(cmd, cfg, spec, args[0], "optimize "+args[0])
}

func runMD(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec := cfg.MDSpec()
	if cmd.Flags().Changed("steps") {
		spec.Steps = steps
	}
	if cmd.Flags().Changed("dt") {
		spec.TimeStep = timeStep
	}
	if cmd.Flags().Changed("temperature") {
		spec.Temperature = temperature
	}
	if cmd.Flags().Changed("friction") {
		spec.Friction = friction
	}
	if cmd.Flags().Changed("interval") {
		spec.FrameInterval = interval
	}
	spec.Seed = seed
	return execute(cmd, cfg, spec, args[0], "md "+args[0])
}

// execute wires sinks and drives a single run to completion.
func execute(cmd *cobra.Command, cfg *config.Config, spec runner.Spec, path, title string) error {
	log := newLogger()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	initial, err := structure.ReadXYZ(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	name := cfg.Model
	if model != "" {
		name = model
	}
	pot, err := registry(cfg).Resolve(ctx, name)
	if err != nil {
		return err
	}

	var sinks stream.MultiSink
	if outFile != "" {
		out, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer out.Close()
		sinks = append(sinks, stream.NewTrajectorySink(out))
	}
	if streamURL != "" {
		ws, err := stream.Dial(streamURL)
		if err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
		sinks = append(sinks, ws)
	}
	var hub *stream.Hub
	if live {
		hub = stream.NewHub()
		sinks = append(sinks, hub)
	}

	runID := uuid.NewString()
	var streamer *stream.Streamer
	if len(sinks) > 0 {
		streamer = stream.New(runID, spec.FrameInterval, sinks, log)
	}

	run := runner.New(pot, streamer, log.With("run_id", runID))

	if !live {
		state := run.Run(ctx, spec, initial)
		return report(runID, state)
	}

	done := make(chan *runner.State, 1)
	go func() {
		done <- run.Run(ctx, spec, initial)
	}()
	if err := tui.Run(title, hub.Subscribe(), cancel); err != nil {
		return err
	}
	return report(runID, <-done)
}

func report(runID string, state *runner.State) error {
	fmt.Printf("run %s: %s after %d steps\n", runID, state.Reason, state.Step)
	fmt.Printf("  energy  %.6f eV\n", state.Energy)
	fmt.Printf("  fmax    %.6f eV/Å\n", state.Fmax)
	if state.Temperature > 0 {
		fmt.Printf("  temp    %.1f K\n", state.Temperature)
	}
	if state.Err != nil {
		return state.Err
	}
	return nil
}

func listModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, name := range registry(cfg).List() {
		fmt.Println(name)
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Listen, registry(cfg), log)
	log.Info("listening", "addr", cfg.Listen)
	return srv.Run(ctx)
}
