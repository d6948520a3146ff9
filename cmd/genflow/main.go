package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/mkrein/genflow/internal/config"
	"github.com/mkrein/genflow/internal/engine"
	"github.com/mkrein/genflow/internal/metrics"
	"github.com/mkrein/genflow/internal/model"
	"github.com/mkrein/genflow/internal/process"
	"github.com/mkrein/genflow/internal/rldata"
	"github.com/mkrein/genflow/internal/solver"
	"github.com/mkrein/genflow/internal/store"
	"github.com/mkrein/genflow/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	solverName string
	seed       int64
	steps      int
	runs       int
	// returns command
	envID           string
	maxEpisodeSteps int
	tuning          string
	// plot command
	plotHeight int
	plotWidth  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "genflow",
		Short: "generative-model sampling lab",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".genflow", "data directory")

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "sample a trajectory and store it",
		RunE:  runSample,
	}
	addSamplingFlags(sampleCmd)
	sampleCmd.Flags().IntVar(&runs, "runs", 1, "number of concurrent sampling runs")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotHeight, "height", 10, "chart height")
	plotCmd.Flags().IntVar(&plotWidth, "width", 80, "chart width")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export run data to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	solversCmd := &cobra.Command{
		Use:   "solvers",
		Short: "list available solvers",
		RunE:  listSolvers,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [group]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "sample a trajectory and play it back in the terminal",
		RunE:  runLive,
	}
	addSamplingFlags(liveCmd)

	compareCmd := &cobra.Command{
		Use:   "compare [solver1] [solver2] ...",
		Short: "compare solvers on the same sampling problem",
		Args:  cobra.MinimumNArgs(2),
		RunE:  compareSolvers,
	}
	addSamplingFlags(compareCmd)

	returnsCmd := &cobra.Command{
		Use:   "returns [rewards.csv]",
		Short: "episode return statistics for an offline RL reward log",
		Args:  cobra.ExactArgs(1),
		RunE:  episodeReturns,
	}
	returnsCmd.Flags().StringVar(&envID, "env", "", "environment id used to pick a reward tuning")
	returnsCmd.Flags().IntVar(&maxEpisodeSteps, "max-episode-steps", 1000, "episode step cap")
	returnsCmd.Flags().StringVar(&tuning, "tuning", "", "reward tuning to apply (overrides --env)")

	rootCmd.AddCommand(sampleCmd, listCmd, plotCmd, exportCmd, exportCSVCmd, exportJSONCmd, solversCmd, presetsCmd, liveCmd, compareCmd, returnsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSamplingFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "preset as group/name (see presets command)")
	cmd.Flags().StringVar(&solverName, "solver", "", "solver override")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed override")
	cmd.Flags().IntVar(&steps, "steps", 0, "time points override")
}

// resolveConfig layers preset, config file, and CLI flags in increasing
// precedence.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		group, name, ok := strings.Cut(preset, "/")
		if !ok {
			return nil, fmt.Errorf("preset must be group/name, got %q", preset)
		}
		p := config.GetPreset(group, name)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(group))
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("solver") {
		cfg.Solver = &solver.Config{Type: solverName}
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("steps") {
		cfg.TSpan.Steps = steps
	}

	// an explicit `solver: null` in a config file survives to here
	if cfg.Solver == nil {
		return nil, fmt.Errorf("no solver configured: set solver in the config or pass --solver")
	}

	return cfg, nil
}

func buildModel(cfg *config.Config) (model.Model, error) {
	spec, err := cfg.Spec()
	if err != nil {
		return nil, err
	}

	switch cfg.Model.Type {
	case "ou":
		return &model.OU{Theta: cfg.Model.Theta, Mu: cfg.Model.Mu}, nil
	case "gauss_score":
		return model.GaussScore{}, nil
	case "mlp":
		hidden := cfg.Model.Hidden
		if hidden <= 0 {
			hidden = config.DefaultHidden
		}
		rng := rand.New(rand.NewSource(cfg.Seed))
		if spec.Tree() {
			return model.NewFieldNet(rng, spec, 0, hidden)
		}
		return model.NewMLP(rng, spec.FlatShape().Numel(), 0, hidden), nil
	}
	return nil, fmt.Errorf("unknown model type: %s", cfg.Model.Type)
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	spec, err := cfg.Spec()
	if err != nil {
		return nil, err
	}

	m, err := buildModel(cfg)
	if err != nil {
		return nil, err
	}

	var opts []engine.Option
	if cfg.Process != nil {
		pred, err := process.ParsePrediction(cfg.Process.Prediction)
		if err != nil {
			return nil, err
		}
		path := &process.Path{BetaMin: cfg.Process.BetaMin, BetaMax: cfg.Process.BetaMax}
		opts = append(opts, engine.WithProcess(path, pred))
	}

	return engine.New(engine.Config{
		Spec:   spec,
		Device: cfg.Device,
		Solver: cfg.Solver,
		Seed:   cfg.Seed,
	}, m, opts...)
}

func sampleTrajectory(cfg *config.Config) ([]float64, *store.Run, map[string]float64, error) {
	eng, err := buildEngine(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	tSpan := cfg.TSpan.Points()
	traj, err := eng.SampleForwardProcess(context.Background(), engine.Options{TSpan: tSpan})
	if err != nil {
		return nil, nil, nil, err
	}

	run, err := store.FlattenTrajectory(tSpan, traj)
	if err != nil {
		return nil, nil, nil, err
	}

	summary := metrics.Summarize(tSpan, traj,
		metrics.NewMeanNorm(), metrics.NewFinalNorm(), metrics.NewPathLength(), metrics.NewSpread())

	return tSpan, run, summary, nil
}

func runSample(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if runs > 1 {
		return runEnsemble(cfg)
	}

	st := store.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	fmt.Printf("sampling with %s solver...\n", cfg.Solver.Type)
	start := time.Now()

	_, run, summary, err := sampleTrajectory(cfg)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	runID, err := st.Save(cfg.Model.Type, cfg.Solver.Type, cfg.Seed, summary, run)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d\n", len(run.Times))
	fmt.Println("\nsummary:")
	for name, val := range summary {
		fmt.Printf("  %s: %.6f\n", name, val)
	}

	return nil
}

func runEnsemble(cfg *config.Config) error {
	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("sampling %d runs with %s solver...\n", runs, cfg.Solver.Type)
	start := time.Now()

	ens := engine.NewEnsemble(eng, runs)
	finals, err := ens.Sample(context.Background(), engine.Options{TSpan: cfg.TSpan.Points()})
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	fm := metrics.NewFinalNorm()
	norms := make([]float64, len(finals))
	for i, x := range finals {
		fm.Reset()
		fm.Observe(0, x)
		norms[i] = fm.Value()
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("final norm: mean %.6f, stddev %.6f\n", stat.Mean(norms, nil), stat.StdDev(norms, nil))
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runList, err := st.List()
	if err != nil {
		return err
	}

	if len(runList) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tSOLVER\tTIME\tSTEPS\tSEED")

	for _, run := range runList {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID,
			run.Model,
			run.Solver,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Steps,
			run.Seed,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := store.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	run, err := st.LoadRun(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s, solver: %s\n\n", meta.Model, meta.Solver)
	fmt.Println(viz.Plot(run, plotHeight, plotWidth))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	run, err := st.LoadRun(args[0])
	if err != nil {
		return err
	}

	if len(run.Rows) == 0 {
		return fmt.Errorf("no data to export")
	}

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	header := append([]string{"time"}, run.Columns...)
	if err := w.Write(header); err != nil {
		return err
	}

	for i, row := range run.Rows {
		record := []string{strconv.FormatFloat(run.Times[i], 'f', 6, 64)}
		for _, val := range row {
			record = append(record, strconv.FormatFloat(val, 'f', 6, 64))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	run, err := st.LoadRun(args[0])
	if err != nil {
		return err
	}

	return store.ExportJSONStdout(meta.Model, meta.Solver, meta.Seed, meta.Summary, run)
}

func listSolvers(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOLVER\tFAMILY")
	for _, kind := range solver.Kinds() {
		_, family, err := solver.New(solver.Config{Type: kind})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", kind, family)
	}
	return w.Flush()
}

func listPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("preset groups:")
		for group := range config.Presets {
			fmt.Printf("  %s\n", group)
		}
		return nil
	}

	names := config.ListPresets(args[0])
	if len(names) == 0 {
		fmt.Printf("no presets for group: %s\n", args[0])
		return nil
	}
	fmt.Printf("presets for %s:\n", args[0])
	for _, name := range names {
		fmt.Printf("  %s/%s\n", args[0], name)
	}
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	_, run, _, err := sampleTrajectory(cfg)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("%s / %s", cfg.Model.Type, cfg.Solver.Type)
	return viz.Run(title, run)
}

func compareSolvers(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("comparing solvers for %s (%d time points)\n\n", cfg.Model.Type, cfg.TSpan.Steps)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOLVER\tFINAL_NORM\tPATH_LENGTH\tTIME_MS")

	for _, name := range args {
		cfg.Solver = &solver.Config{Type: name}

		start := time.Now()
		_, _, summary, err := sampleTrajectory(cfg)
		elapsed := time.Since(start)

		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", name, err)
			continue
		}

		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%.2f\n",
			name, summary["final_norm"], summary["path_length"],
			float64(elapsed.Microseconds())/1000)
	}

	return w.Flush()
}

func episodeReturns(cmd *cobra.Command, args []string) error {
	rewards, terminals, err := rldata.LoadRewards(args[0])
	if err != nil {
		return err
	}

	minRet, maxRet, err := rldata.ReturnRange(rewards, terminals, maxEpisodeSteps)
	if err != nil {
		return err
	}

	fmt.Printf("transitions: %d\n", len(rewards))
	fmt.Printf("reward mean: %.6f, stddev: %.6f\n", stat.Mean(rewards, nil), stat.StdDev(rewards, nil))
	fmt.Printf("episode returns: min %.6f, max %.6f\n", minRet, maxRet)

	kind := tuning
	if kind == "" && envID != "" {
		kind = rldata.TuneForEnv(envID)
	}
	if kind == "" {
		return nil
	}

	if err := rldata.TuneRewards(kind, rewards, terminals, maxEpisodeSteps); err != nil {
		return err
	}
	fmt.Printf("\napplied tuning: %s\n", kind)
	fmt.Printf("tuned reward mean: %.6f, stddev: %.6f\n", stat.Mean(rewards, nil), stat.StdDev(rewards, nil))
	return nil
}
