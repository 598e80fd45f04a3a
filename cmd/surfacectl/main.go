// Surfacectl runs surfacer cycles and inspects items from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/surfacer/internal/postgres"
	"github.com/linnemanlabs/surfacer/internal/priority"
	"github.com/linnemanlabs/surfacer/internal/priority/memstore"
	"github.com/linnemanlabs/surfacer/internal/priority/pgstore"
	"github.com/linnemanlabs/surfacer/internal/source"
)

const appName = "surfacectl"

var (
	databaseURL   string
	recordsPath   string
	scoringConfig string
	logCfg        log.Config
)

func main() {
	// .env is optional; a present but unreadable file is reported
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          appName,
		Short:        "Run prioritization cycles and inspect surfaced items",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&databaseURL, "database-url", os.Getenv("SURFACER_DATABASE_URL"), "PostgreSQL connection URL (empty = in-memory store)")
	pf.StringVar(&recordsPath, "records", os.Getenv("SURFACER_RECORDS"), "JSON file of raw record envelopes served by a static adapter")
	pf.StringVar(&scoringConfig, "scoring-config", os.Getenv("SURFACER_SCORING_CONFIG"), "YAML scoring/surfacing tuning file")

	goFlags := flag.NewFlagSet(appName, flag.ContinueOnError)
	logCfg.RegisterFlags(goFlags)
	pf.AddGoFlagSet(goFlags)

	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(surfaceCmd())
	rootCmd.AddCommand(quadrantCmd())
	rootCmd.AddCommand(reviveCmd())
	rootCmd.AddCommand(respondCmd())
	rootCmd.AddCommand(dismissCmd())
	rootCmd.AddCommand(classifyCmd())
	return rootCmd
}

// env is the wiring shared by the commands.
type env struct {
	store   priority.Store
	engine  *priority.Engine
	svc     *priority.Service
	logger  log.Logger
	tuning  priority.Config
	cleanup func()
}

func (e *env) Close() {
	if e.cleanup != nil {
		e.cleanup()
	}
}

func loadTuning() (priority.Config, error) {
	if scoringConfig == "" {
		return priority.DefaultConfig(), nil
	}
	return priority.LoadConfig(scoringConfig)
}

func openEnv(ctx context.Context) (*env, error) {
	if err := logCfg.Validate(); err != nil {
		return nil, fmt.Errorf("log config: %w", err)
	}
	lg, err := log.New(logCfg.ToOptions(appName))
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	tuning, err := loadTuning()
	if err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}

	e := &env{logger: lg, tuning: tuning, cleanup: func() { _ = lg.Sync() }}

	if databaseURL != "" {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		st, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		e.store = st
		e.cleanup = func() {
			pool.Close()
			_ = lg.Sync()
		}
	} else {
		e.store = memstore.New()
	}

	var adapters []priority.SourceAdapter
	if recordsPath != "" {
		records, err := source.LoadFile(recordsPath)
		if err != nil {
			e.Close()
			return nil, err
		}
		adapters = append(adapters, source.NewStatic("file", records...))
	}

	e.engine = priority.NewEngine(e.store, tuning, priority.EngineOptions{Adapters: adapters}, lg, priority.EngineHooks{})
	e.svc = priority.NewService(e.store, e.engine, lg, priority.ServiceHooks{})
	return e, nil
}

// cliContext labels database queries issued by the CLI.
func cliContext(cmd *cobra.Command) context.Context {
	return postgres.WithOrigin(cmd.Context(), postgres.OriginCLI)
}
