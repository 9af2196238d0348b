// Command fhir-quality validates FHIR resources against the quality
// engine: single files or stdin, streamed bundles, and bulk runs
// against a live FHIR server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	fq "github.com/gofhir/quality"
	"github.com/gofhir/quality/bulk"
	"github.com/gofhir/quality/config"
	"github.com/gofhir/quality/engine"
	"github.com/gofhir/quality/fhir"
	"github.com/gofhir/quality/resolver"
	"github.com/gofhir/quality/rules"
	"github.com/gofhir/quality/settings"
	"github.com/gofhir/quality/storage"
	"github.com/gofhir/quality/stream"
	"github.com/gofhir/quality/terminology"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "fhir-quality",
		Short:   "FHIR resource quality validation",
		Version: version,
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(settingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack is the wired application: engine plus the services the
// subcommands talk to.
type stack struct {
	cfg      *config.Config
	logger   zerolog.Logger
	engine   *engine.Engine
	settings *settings.Service
	client   *fhir.Client
	results  storage.ResultStore
	pool     *pgxpool.Pool
}

func (s *stack) close() {
	s.engine.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	var (
		settingsStore settings.Store
		rulesStore    rules.Store
		resultStore   storage.ResultStore
		pool          *pgxpool.Pool
	)
	if cfg.HasDatabase() {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		pg := storage.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("preparing schema: %w", err)
		}
		settingsStore, rulesStore, resultStore = pg, pg, pg
	} else {
		logger.Warn().Msg("no DATABASE_URL configured, using in-memory storage")
		mem := storage.NewMemory()
		settingsStore, rulesStore, resultStore = mem, mem, mem
	}

	settingsSvc := settings.NewService(settingsStore, settings.WithLogger(logger))
	rulesSvc := rules.NewService(rulesStore)

	opts := []engine.Option{
		engine.WithSettings(settingsSvc),
		engine.WithRules(rulesSvc),
		engine.WithWorkerCount(cfg.WorkerCount),
		engine.WithLogger(logger),
	}

	// Env-configured clients are bootstrap only: once the active
	// settings record names its own servers, the engine rebuilds the
	// collaborators from the record.
	var client *fhir.Client
	if cfg.FHIRServerURL != "" {
		client = fhir.NewClient(cfg.FHIRServerURL,
			fhir.WithTimeout(cfg.RequestTimeout),
			fhir.WithLogger(logger),
		)
		opts = append(opts, engine.WithFHIRClient(client))
	}
	if cfg.TerminologyURL != "" {
		term := terminology.NewCachedValidator(
			terminology.NewClient(cfg.TerminologyURL, terminology.WithLogger(logger)),
			terminology.DefaultCacheConfig(),
		)
		opts = append(opts, engine.WithTerminology(term))
	}
	if len(cfg.ProfileServerURLs) > 0 {
		servers := make([]resolver.ServerConfig, 0, len(cfg.ProfileServerURLs))
		for i, url := range cfg.ProfileServerURLs {
			servers = append(servers, resolver.ServerConfig{
				ID:       fmt.Sprintf("profile-%d", i),
				URL:      strings.TrimSpace(url),
				Priority: i,
				Enabled:  true,
			})
		}
		opts = append(opts, engine.WithProfileResolver(resolver.New(servers, resolver.WithLogger(logger))))
	}

	eng := engine.New(opts...)
	if err := eng.Initialize(ctx); err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, fmt.Errorf("initializing engine: %w", err)
	}

	return &stack{
		cfg:      cfg,
		logger:   logger,
		engine:   eng,
		settings: settingsSvc,
		client:   client,
		results:  resultStore,
		pool:     pool,
	}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate FHIR resources from files or stdin",
		Long: `Validate one or more FHIR resources. Bundles are validated entry
by entry. Use "-" to read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			failed := false
			for _, name := range args {
				ok, err := validateInput(ctx, s, name)
				if err != nil {
					return err
				}
				if !ok {
					failed = true
				}
			}
			if failed {
				os.Exit(1)
			}
			return nil
		},
	}
	return cmd
}

func validateInput(ctx context.Context, s *stack, name string) (bool, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", name, err)
	}

	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.ResourceType == "Bundle" {
		return validateBundle(ctx, s, name, data)
	}

	result := s.engine.Validate(ctx, data)
	printResult(name, result)
	return result.Valid, nil
}

func validateBundle(ctx context.Context, s *stack, name string, data []byte) (bool, error) {
	bv := stream.NewBundleValidator(s.engine)
	summary := stream.Summarize(bv.ValidateStream(ctx, bytes.NewReader(data)))
	fmt.Printf("%s: %s\n", name, summary)
	return !summary.HasFailures(), nil
}

func printResult(name string, result *fq.Result) {
	verdict := "valid"
	if !result.Valid {
		verdict = "invalid"
	}
	fmt.Printf("%s: %s %s/%s, score %d\n",
		name, verdict, result.ResourceType, result.ResourceID, result.Score)
	for _, issue := range result.Issues {
		loc := ""
		if issue.Path != "" {
			loc = " at " + issue.Path
		}
		fmt.Printf("  [%s] %s (%s)%s: %s\n",
			issue.Severity, issue.Code, issue.Aspect, loc, issue.Message)
	}
}

func bulkCmd() *cobra.Command {
	var (
		types []string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Validate every resource on the configured FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			if s.client == nil {
				return fmt.Errorf("bulk validation requires FHIR_SERVER_URL")
			}

			opts := []bulk.Option{
				bulk.WithResultStore(s.results),
				bulk.WithBatchSize(s.cfg.BatchSize),
				bulk.WithSubBatchSize(s.cfg.SubBatchSize),
				bulk.WithSkipUnchanged(s.cfg.SkipUnchanged),
				bulk.WithForce(force),
				bulk.WithLogger(s.logger),
				bulk.WithMetrics(s.engine.Metrics()),
				bulk.WithProgressCallback(printProgress),
			}
			if len(types) > 0 {
				opts = append(opts, bulk.WithResourceTypes(types))
			}

			orch := bulk.New(s.client, s.engine, opts...)

			// A signal stops the run cooperatively; the in-flight
			// sub-batch finishes first.
			go func() {
				<-ctx.Done()
				orch.Stop()
			}()

			final, err := orch.Run(ctx)
			if err != nil {
				return err
			}
			if final == nil {
				fmt.Println("bulk validation stopped")
				return nil
			}
			fmt.Printf("done: %d/%d processed, %d valid, %d errors, %d skipped\n",
				final.ProcessedResources, final.TotalResources,
				final.ValidResources, final.ErrorResources, final.SkippedResources)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "Resource types to validate (default: all)")
	cmd.Flags().BoolVar(&force, "force", false, "Revalidate resources even when unchanged")
	return cmd
}

func printProgress(p bulk.Progress) {
	fmt.Printf("\r%s: %d/%d (%d valid, %d errors, %d skipped) eta %s ",
		p.CurrentResourceType, p.ProcessedResources, p.TotalResources,
		p.ValidResources, p.ErrorResources, p.SkippedResources,
		p.EstimatedRemaining.Round(time.Second))
	if p.IsComplete {
		fmt.Println()
	}
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and switch validation settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active settings record",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			active := s.settings.Active()
			out, err := json.MarshalIndent(active, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <id>",
		Short: "Activate a settings record by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.settings.Activate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("activated settings %s\n", args[0])
			return nil
		},
	})

	return cmd
}
