package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/ratecheck/internal/history"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/config"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/engine"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/metrics"
	"github.com/wesleyorama2/ratecheck/internal/loadtest/output"
)

// Defaults of the scenario built from flags when no config file is given.
const (
	smokeName     = "rate limiter smoke"
	smokeVUs      = 5
	smokeDuration = "1m"
	smokeAPIKey   = "abc123"
)

// smokeTrendStats are the summary statistics of the flag-built scenario.
var smokeTrendStats = []string{"min", "med", "avg", "p(90)", "p(95)", "max", "count"}

// runOptions are the resolved flags of the run command.
type runOptions struct {
	configFile    string
	url           string
	apiKey        string
	vus           int
	duration      string
	stages        string
	sleep         string
	gracePeriod   string
	thresholds    []string
	summaryExport string
	json          bool
	quiet         bool
	metricsAddr   string
	noHistory     bool
	historyDB     string
	interval      time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "Run a load test against a rate-limited service",
		Long: `Run a load test from a configuration file, or build the smoke scenario
from flags.

Config file mode:
  ratecheck run scenarios/stress.yaml

Quick mode (constant VUs):
  ratecheck run --url http://localhost:8080 --api-key abc123 --vus 5 --duration 1m

Ramping mode:
  ratecheck run --url http://localhost:8080 --stages "2m:200,3m:200,1m:0" --sleep 1s

Thresholds can be added from the command line:
  ratecheck run smoke.yaml --threshold 'http_req_duration{status:200}=p(95)<500'

Exit codes: 0 when every threshold passed, 99 when a threshold failed,
1 on any other error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := runOptions{
				url:           a.v.GetString("url"),
				apiKey:        a.v.GetString("api-key"),
				vus:           a.v.GetInt("vus"),
				duration:      a.v.GetString("duration"),
				stages:        a.v.GetString("stages"),
				sleep:         a.v.GetString("sleep"),
				gracePeriod:   a.v.GetString("grace-period"),
				summaryExport: a.v.GetString("summary-export"),
				json:          a.v.GetBool("json"),
				quiet:         a.v.GetBool("quiet"),
				metricsAddr:   a.v.GetString("metrics-addr"),
				noHistory:     a.v.GetBool("no-history"),
				historyDB:     a.v.GetString("history-db"),
				interval:      a.v.GetDuration("update-interval"),
			}
			opts.thresholds, _ = cmd.Flags().GetStringArray("threshold")
			if len(args) == 1 {
				opts.configFile = args[0]
			}

			logger, err := a.logger("warn")
			if err != nil {
				return &CommandError{Code: ExitError, Err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runLoadTest(ctx, a, opts, logger)
		},
	}

	f := cmd.Flags()
	f.String("url", "", "Target base URL (available to requests as {{baseUrl}})")
	f.String("api-key", "", "API key sent by the keyed request")
	f.Int("vus", 0, "Number of virtual users")
	f.String("duration", "", "Test duration (e.g., 1m, 30s)")
	f.String("stages", "", "Ramping stages in format 'duration:target,duration:target,...'")
	f.String("sleep", "", "Pause after every iteration (e.g., 1s)")
	f.String("grace-period", "", "How long in-flight iterations may finish after the duration")
	f.StringArray("threshold", nil, "Threshold as 'selector=expression' (repeatable)")
	f.String("summary-export", "", "Write the JSON summary to this file")
	f.Bool("json", false, "Print the JSON summary to stdout instead of the text summary")
	f.BoolP("quiet", "q", false, "Disable live progress output, print only the verdict")
	f.String("metrics-addr", "", "Serve Prometheus metrics of the run on this address (e.g., :9090)")
	f.Bool("no-history", false, "Do not save the run to the history database")
	f.String("history-db", "", "History database path (default ~/.ratecheck/history.db)")
	f.Duration("update-interval", output.DefaultUpdateInterval, "Live progress refresh interval")

	return cmd
}

// runLoadTest executes one run and maps its outcome to a CommandError.
func runLoadTest(ctx context.Context, a *app, opts runOptions, logger zerolog.Logger) error {
	testConfig, err := buildConfig(opts)
	if err != nil {
		return &CommandError{Code: ExitError, Err: err}
	}

	eng, err := engine.NewEngine(testConfig, engine.WithLogger(logger))
	if err != nil {
		return &CommandError{Code: ExitError, Err: err}
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      testConfig.Name,
		ExecutorType:  displayExecutor(testConfig),
		TotalDuration: eng.TotalDuration(),
		Writer:        a.stdout,
		Quiet:         opts.quiet || opts.json,
	})

	// Bind before the run starts so a busy port fails fast
	var metricsLn net.Listener
	if opts.metricsAddr != "" {
		metricsLn, err = net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			return &CommandError{Code: ExitError, Err: fmt.Errorf("failed to listen on %s: %w", opts.metricsAddr, err)}
		}
	}

	console.PrintHeader()

	var (
		result *engine.TestResult
		runErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	g.Go(func() error {
		defer stopWatch()
		result, runErr = eng.Run(gctx)
		return nil
	})
	g.Go(func() error {
		console.Watch(watchCtx, eng, opts.interval)
		return nil
	})
	if metricsLn != nil {
		g.Go(func() error {
			return serveMetrics(watchCtx, metricsLn, eng.Metrics(), logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("metrics server failed")
	}

	if result == nil {
		return &CommandError{Code: ExitError, Err: fmt.Errorf("error running test: %w", runErr)}
	}

	if opts.json {
		if err := output.WriteJSON(a.stdout, result); err != nil {
			return &CommandError{Code: ExitError, Err: err}
		}
	} else if err := console.PrintSummary(result); err != nil {
		return &CommandError{Code: ExitError, Err: err}
	}

	if opts.summaryExport != "" {
		if err := output.ExportSummary(opts.summaryExport, result); err != nil {
			return &CommandError{Code: ExitError, Err: err}
		}
		logger.Info().Str("path", opts.summaryExport).Msg("summary exported")
	}

	if !opts.noHistory {
		saveHistory(opts, result, logger)
	}

	switch {
	case errors.Is(runErr, engine.ErrThresholdsFailed):
		return &CommandError{Code: ExitThresholdsFailed, Err: runErr, Reported: true}
	case runErr != nil:
		return &CommandError{Code: ExitError, Err: fmt.Errorf("error running test: %w", runErr)}
	}
	return nil
}

// saveHistory records the run. Failures are logged and do not change the
// exit code.
func saveHistory(opts runOptions, result *engine.TestResult, logger zerolog.Logger) {
	path := opts.historyDB
	if path == "" {
		var err error
		if path, err = history.DefaultPath(); err != nil {
			logger.Warn().Err(err).Msg("run not saved to history")
			return
		}
	}

	store, err := history.Open(path)
	if err != nil {
		logger.Warn().Err(err).Msg("run not saved to history")
		return
	}
	defer store.Close()

	source := opts.configFile
	if source == "" {
		source = opts.url
	}
	rec, err := store.Save(source, output.BuildSummary(result))
	if err != nil {
		logger.Warn().Err(err).Msg("run not saved to history")
		return
	}
	logger.Info().Str("id", rec.ID).Str("db", path).Msg("run saved to history")
}

// serveMetrics exposes the run metrics until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, src metrics.SnapshotSource, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(src)); err != nil {
		ln.Close()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("serving run metrics")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildConfig loads the config file named in opts, or builds the smoke
// scenario from flags, then applies flag overrides.
func buildConfig(opts runOptions) (*config.TestConfig, error) {
	var testConfig *config.TestConfig

	if opts.configFile != "" {
		var err error
		testConfig, err = config.LoadConfig(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		if opts.url == "" {
			return nil, errors.New("either a config file or --url is required")
		}
		testConfig = &config.TestConfig{
			Name:              smokeName,
			Description:       fmt.Sprintf("Smoke test generated from flags for %s", opts.url),
			VUs:               smokeVUs,
			SummaryTrendStats: append([]string(nil), smokeTrendStats...),
			Variables:         map[string]string{"apiKey": smokeAPIKey},
		}
		if opts.stages == "" {
			testConfig.Duration = smokeDuration
		}
	}

	if opts.url != "" {
		testConfig.BaseURL = opts.url
	}
	if opts.apiKey != "" {
		if testConfig.Variables == nil {
			testConfig.Variables = make(map[string]string)
		}
		testConfig.Variables["apiKey"] = opts.apiKey
	}
	if opts.vus > 0 {
		testConfig.VUs = opts.vus
	}
	if opts.duration != "" {
		testConfig.Duration = opts.duration
	}
	if opts.stages != "" {
		stages, err := parseStages(opts.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		testConfig.Stages = stages
	}
	if opts.sleep != "" {
		testConfig.Sleep = opts.sleep
	}
	if opts.gracePeriod != "" {
		testConfig.GracefulStop = opts.gracePeriod
	}

	extra, err := parseThresholds(opts.thresholds)
	if err != nil {
		return nil, err
	}
	if len(testConfig.Thresholds) == 0 && len(extra) == 0 {
		testConfig.Thresholds = config.DefaultThresholds()
	}
	for sel, exprs := range extra {
		if testConfig.Thresholds == nil {
			testConfig.Thresholds = make(map[string][]string)
		}
		testConfig.Thresholds[sel] = append(testConfig.Thresholds[sel], exprs...)
	}

	return testConfig, nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Parse "duration:target" format
		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := strings.TrimSpace(part[:colonIdx])
		targetStr := strings.TrimSpace(part[colonIdx+1:])

		if _, err := config.ParseDurationString(durationStr); err != nil || durationStr == "" {
			return nil, fmt.Errorf("stage %d: invalid duration '%s'", i+1, durationStr)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// parseThresholds parses repeated 'selector=expression' flags. The first
// '=' separates the two, so expressions like "max>=0" keep theirs.
func parseThresholds(flags []string) (map[string][]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string][]string)
	for _, raw := range flags {
		sel, expr, ok := strings.Cut(raw, "=")
		sel, expr = strings.TrimSpace(sel), strings.TrimSpace(expr)
		if !ok || sel == "" || expr == "" {
			return nil, fmt.Errorf("invalid threshold %q: expected 'selector=expression'", raw)
		}
		out[sel] = append(out[sel], expr)
	}
	return out, nil
}

// displayExecutor names the executor shown in the header. Call after the
// engine applied defaults.
func displayExecutor(cfg *config.TestConfig) string {
	switch len(cfg.Scenarios) {
	case 0:
		return ""
	case 1:
		for _, sc := range cfg.Scenarios {
			return sc.Executor
		}
	}
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%d scenarios: %s", len(names), strings.Join(names, ", "))
}
