package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/mechsim/internal/config"
	"github.com/san-kum/mechsim/internal/dynamo"
	"github.com/san-kum/mechsim/internal/optim"
	"github.com/san-kum/mechsim/internal/scenes"
	"github.com/san-kum/mechsim/internal/sim"
	"github.com/san-kum/mechsim/internal/storage"
	"github.com/san-kum/mechsim/internal/tui"
)

var (
	dataDir    string
	verbose    int
	dt         float64
	duration   float64
	seed       int64
	numBodies  int
	speed      float64
	friction   float64
	compliance float64
	configFile string
	preset     string
	jsonOut    string
	saveTable  bool
	frameRate  int
	column     string
	xAxis      string
	yAxis      string
	numRuns    int
	workers    int
	sweeps     []string
	metricName string
)

var title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

func main() {
	rootCmd := &cobra.Command{
		Use:          "mechsim",
		Short:        "multibody contact simulation lab",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.RunInteractive(scenes.NewRegistry())
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".mechsim", "data directory")
	rootCmd.PersistentFlags().IntVarP(&verbose, "verbose", "v", 0, "log verbosity")

	runCmd := &cobra.Command{
		Use:   "run [scene]",
		Short: "run a scene and store the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runScene,
	}
	sceneFlags(runCmd)
	runCmd.Flags().StringVar(&jsonOut, "json", "", "also export the run as JSON to this path")
	runCmd.Flags().BoolVar(&saveTable, "contacts", false, "store the final collision handler table")

	liveCmd := &cobra.Command{
		Use:   "live [scene]",
		Short: "run a scene with a live side view",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	sceneFlags(liveCmd)
	liveCmd.Flags().IntVar(&frameRate, "fps", 30, "frame rate")

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "interactive scene browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.RunInteractive(scenes.NewRegistry())
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot stored state columns",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&column, "column", "", "state column to plot (default: first four)")

	phaseCmd := &cobra.Command{
		Use:   "phase [run_id]",
		Short: "scatter one state column against another",
		Args:  cobra.ExactArgs(1),
		RunE:  phasePlot,
	}
	phaseCmd.Flags().StringVar(&xAxis, "x", "", "column for the x axis")
	phaseCmd.Flags().StringVar(&yAxis, "y", "", "column for the y axis")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "print run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "print run states as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "print run states as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}

	benchCmd := &cobra.Command{
		Use:   "bench [scene]",
		Short: "run a seeded ensemble of a scene concurrently",
		Args:  cobra.ExactArgs(1),
		RunE:  benchScene,
	}
	sceneFlags(benchCmd)
	benchCmd.Flags().IntVar(&numRuns, "runs", 8, "ensemble size")
	benchCmd.Flags().IntVar(&workers, "workers", 0, "concurrent runs (0 = all)")

	sweepCmd := &cobra.Command{
		Use:   "sweep [scene]",
		Short: "grid search contact parameters against a metric",
		Args:  cobra.ExactArgs(1),
		RunE:  sweepScene,
	}
	sceneFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweeps, "param", nil, "parameter range as name=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&metricName, "metric", "max_penetration", "metric to minimize")

	presetsCmd := &cobra.Command{
		Use:   "presets [scene]",
		Short: "list available presets for a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for scene: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	scenesCmd := &cobra.Command{
		Use:   "scenes",
		Short: "list available scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := scenes.NewRegistry()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, name := range reg.ListScenes() {
				fmt.Fprintf(w, "%s\t%s\n", name, reg.Describe(name))
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, tuiCmd, listCmd, plotCmd, phaseCmd, exportCmd, exportCSVCmd, exportJSONCmd, benchCmd, sweepCmd, presetsCmd, scenesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func sceneFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&numBodies, "bodies", config.DefaultBodies, "number of bodies (rain, stack)")
	cmd.Flags().Float64Var(&speed, "speed", 1, "closing speed (head_on)")
	cmd.Flags().Float64Var(&friction, "friction", 0, "contact friction coefficient")
	cmd.Flags().Float64Var(&compliance, "compliance", 0, "contact compliance")
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
}

func newLogger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: verbose, LogTimestamp: true})
}

// resolveConfig layers defaults, preset, config file and explicitly set
// flags, in that order.
func resolveConfig(cmd *cobra.Command, scene string) (config.Config, error) {
	cfg := *config.DefaultConfig()
	if preset != "" {
		p := config.GetPreset(scene, preset)
		if p == nil {
			return cfg, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(scene))
		}
		cfg = *p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	cfg.Scene = scene

	flags := cmd.Flags()
	if flags.Changed("dt") || (preset == "" && configFile == "") {
		cfg.Dt = dt
	}
	if flags.Changed("time") || (preset == "" && configFile == "") {
		cfg.Duration = duration
	}
	if flags.Changed("seed") || cfg.Seed == 0 {
		cfg.Seed = seed
	}
	if flags.Changed("bodies") {
		cfg.Bodies = numBodies
	}
	if flags.Changed("speed") {
		cfg.Speed = speed
	}
	if flags.Changed("friction") {
		cfg.Contact.Friction = friction
	}
	if flags.Changed("compliance") {
		cfg.Contact.Compliance = compliance
	}
	return cfg, nil
}

func buildWorld(reg *scenes.Registry, cfg config.Config, log logr.Logger) (*sim.World, error) {
	w, err := reg.Build(cfg)
	if err != nil {
		return nil, err
	}
	w.SetLogger(log)
	return w, nil
}

func runScene(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	log := newLogger()

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	reg := scenes.NewRegistry()
	w, err := buildWorld(reg, cfg, log)
	if err != nil {
		return err
	}
	s := sim.New(w)
	for _, m := range reg.DefaultMetrics() {
		s.AddMetric(m)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("running %s...\n", cfg.Scene)
	start := time.Now()
	result, err := s.Run(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	labels := w.StateLabels()
	runID, err := st.Save(cfg, preset, labels, result)
	if err != nil {
		return err
	}
	if saveTable {
		if err := st.SaveContacts(runID, w.Table()); err != nil {
			return err
		}
	}
	if jsonOut != "" {
		if err := storage.ExportJSON(jsonOut, cfg, labels, result); err != nil {
			return err
		}
	}
	log.V(1).Info("run stored", "id", runID, "dir", dataDir)

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d (retries %d)\n", result.StepsTaken, result.Retries)
	fmt.Printf("energy drift: %.3e\n", result.EnergyDrift)
	fmt.Println("\nmetrics:")
	for _, name := range slices.Sorted(maps.Keys(result.Metrics)) {
		fmt.Printf("  %s: %.6g\n", name, result.Metrics[name])
	}

	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	w, err := buildWorld(scenes.NewRegistry(), cfg, newLogger())
	if err != nil {
		return err
	}

	s := sim.New(w)
	s.RecordEvery = 0
	r := tui.NewLiveRenderer(cfg.Scene, frameRate)
	s.AddObserver(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r.Start()
	defer r.Stop()
	_, err = s.Run(ctx)
	return err
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	fmt.Println(title.Render("runs"))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENE\tPRESET\tTIME\tDURATION\tDT\tSTEPS\tRETRIES")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2fs\t%.4fs\t%d\t%d\n",
			run.ID,
			run.Scene,
			run.Preset,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Steps,
			run.Retries,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	labels, states, _, err := st.LoadStates(runID)
	if err != nil {
		return err
	}

	if len(states) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scene: %s\n", meta.Scene)
	fmt.Printf("samples: %d\n\n", len(states))

	cols := labels
	if column != "" {
		cols = []string{column}
	} else if len(cols) > 4 {
		cols = cols[:4]
	}

	for _, label := range cols {
		data, err := storage.Column(labels, states, label)
		if err != nil {
			return err
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(label+" vs time"),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	return nil
}

func phasePlot(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	labels, states, _, err := st.LoadStates(runID)
	if err != nil {
		return err
	}
	if len(states) == 0 || len(labels) < 2 {
		return fmt.Errorf("no data to plot")
	}

	xl, yl := xAxis, yAxis
	if xl == "" {
		xl = labels[0]
	}
	if yl == "" {
		yl = labels[1]
	}
	xData, err := storage.Column(labels, states, xl)
	if err != nil {
		return err
	}
	yData, err := storage.Column(labels, states, yl)
	if err != nil {
		return err
	}

	fmt.Printf("phase space plot: %s\n", meta.ID)
	fmt.Printf("scene: %s\n", meta.Scene)
	fmt.Printf("x-axis: %s, y-axis: %s\n\n", xl, yl)
	fmt.Print(scatter(xData, yData, 70, 20))
	fmt.Printf("\nlegend: . = early, o = middle, ● = late\n")

	return nil
}

func scatter(xData, yData []float64, width, height int) string {
	xMin, xMax := xData[0], xData[0]
	yMin, yMax := yData[0], yData[0]
	for i := range xData {
		xMin = min(xMin, xData[i])
		xMax = max(xMax, xData[i])
		yMin = min(yMin, yData[i])
		yMax = max(yMax, yData[i])
	}
	xRange := xMax - xMin
	yRange := yMax - yMin
	if xRange == 0 {
		xRange = 1
	}
	if yRange == 0 {
		yRange = 1
	}

	canvas := make([][]rune, height)
	for i := range canvas {
		canvas[i] = make([]rune, width)
		for j := range canvas[i] {
			canvas[i][j] = ' '
		}
	}
	for i := range xData {
		px := int(float64(width-1) * (xData[i] - xMin) / xRange)
		py := height - 1 - int(float64(height-1)*(yData[i]-yMin)/yRange)
		switch {
		case i < len(xData)/3:
			canvas[py][px] = '.'
		case i < 2*len(xData)/3:
			canvas[py][px] = 'o'
		default:
			canvas[py][px] = '●'
		}
	}

	var out []byte
	out = fmt.Appendf(out, "  %8.3f ┌%s┐\n", yMax, repeat('─', width))
	for i, row := range canvas {
		if i == height/2 {
			out = fmt.Appendf(out, "  %8.3f │%s│\n", (yMax+yMin)/2, string(row))
		} else {
			out = fmt.Appendf(out, "           │%s│\n", string(row))
		}
	}
	out = fmt.Appendf(out, "  %8.3f └%s┘\n", yMin, repeat('─', width))
	out = fmt.Appendf(out, "           %-*.3f%.3f\n", width-8, xMin, xMax)
	return string(out)
}

func repeat(r rune, n int) string {
	rs := make([]rune, n)
	for i := range rs {
		rs[i] = r
	}
	return string(rs)
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	labels, states, times, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	if len(states) == 0 {
		return fmt.Errorf("no data to export")
	}

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write(append([]string{"time"}, labels...)); err != nil {
		return err
	}
	for i := range states {
		row := []string{strconv.FormatFloat(times[i], 'f', 6, 64)}
		for _, val := range states[i] {
			row = append(row, strconv.FormatFloat(val, 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	labels, states, times, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	cfg := config.Config{
		Scene:    meta.Scene,
		Dt:       meta.Dt,
		Duration: meta.Duration,
		Seed:     meta.Seed,
		Bodies:   meta.Bodies,
		Engine:   meta.Engine,
		Contact:  meta.Contact,
	}
	result := &sim.Result{
		States:      make([]dynamo.State, len(states)),
		Times:       times,
		Metrics:     meta.Metrics,
		StepsTaken:  meta.Steps,
		Retries:     meta.Retries,
		EnergyDrift: meta.EnergyDrift,
	}
	for i, s := range states {
		result.States[i] = s
	}

	return storage.WriteJSON(os.Stdout, cfg, labels, result)
}

func benchScene(cmd *cobra.Command, args []string) error {
	base, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	log := newLogger()
	reg := scenes.NewRegistry()

	build := func(seed int64) (*sim.World, error) {
		cfg := base
		cfg.Seed = seed
		return buildWorld(reg, cfg, log.WithValues("seed", seed))
	}
	ens := sim.NewEnsemble(build, reg.DefaultMetrics, numRuns, base.Seed)
	ens.Workers = workers

	fmt.Println(title.Render(fmt.Sprintf("benchmarking %s (%d runs)", base.Scene, numRuns)))
	start := time.Now()
	results, err := ens.Run(context.Background())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEED\tSTEPS\tRETRIES\tDRIFT\tCONTACTS\tMAX_PEN\tSTABILITY")
	steps := 0
	for i, r := range results {
		steps += r.StepsTaken
		fmt.Fprintf(w, "%d\t%d\t%d\t%.3e\t%.2f\t%.2e\t%.3f\n",
			base.Seed+int64(i),
			r.StepsTaken,
			r.Retries,
			r.EnergyDrift,
			r.Metrics["contacts"],
			r.Metrics["max_penetration"],
			r.Metrics["stability"],
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d steps in %v (%.0f steps/sec)\n", steps, elapsed, float64(steps)/elapsed.Seconds())
	return nil
}

func sweepScene(cmd *cobra.Command, args []string) error {
	base, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	if len(sweeps) == 0 {
		return fmt.Errorf("at least one --param is required (known: %v)", optim.Params())
	}
	var names []string
	var ranges [][]float64
	for _, s := range sweeps {
		name, vals, err := optim.ParseRange(s)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}

	log := newLogger()
	reg := scenes.NewRegistry()
	build := func(params map[string]float64) (*sim.Simulator, error) {
		cfg, err := optim.Apply(base, params)
		if err != nil {
			return nil, err
		}
		w, err := buildWorld(reg, cfg, log.WithValues("params", params))
		if err != nil {
			return nil, err
		}
		s := sim.New(w)
		s.RecordEvery = 0
		for _, m := range reg.DefaultMetrics() {
			s.AddMetric(m)
		}
		return s, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	gs := optim.NewGridSearch(names, ranges)
	fmt.Println(title.Render(fmt.Sprintf("sweeping %s over %d points", base.Scene, gs.Size())))
	best, points, err := gs.Search(ctx, build, metricName)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\t"+strings.ToUpper(metricName))
	for _, p := range points {
		for _, n := range names {
			fmt.Fprintf(w, "%g\t", p.Params[n])
		}
		if p.Err != nil {
			fmt.Fprintf(w, "failed: %v\n", p.Err)
			continue
		}
		fmt.Fprintf(w, "%.6g\n", p.Value)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nbest %s = %.6g at", metricName, best.Value)
	for _, n := range names {
		fmt.Printf(" %s=%g", n, best.Params[n])
	}
	fmt.Println()
	return nil
}
