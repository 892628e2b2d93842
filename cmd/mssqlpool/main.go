// mssqlpool runs SQL Server batches over a connection pool or one
// dedicated connection.
//
// Usage:
//
//	mssqlpool [--config cfg.yaml | --dsn URL] [--dedicated] [--read-only] [--preset name]
//	          [--format table|json|xlsx] [--output file] [--mask col=pattern]
//	          [--serve :9090]
//	          -e "SQL" [-e "SQL" ...]
//
// Environment:
//
//	MSSQLPOOL_PASSWORD  database password (fallback when config leaves it empty)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/mssqlpool/pkg/config"
	"github.com/ruslano69/mssqlpool/pkg/pool"
	"github.com/ruslano69/mssqlpool/pkg/security"
	"github.com/ruslano69/mssqlpool/pkg/session"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

func main() {
	flags, err := ParseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if *flags.Version {
		PrintVersion(os.Stdout)
		return
	}
	if !flags.HasWork() {
		PrintHelp(os.Stderr)
		os.Exit(1)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Logger = newLogger(cfg.Logging, os.Stderr)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags, nil, os.Stdout, log.Logger); err != nil {
		log.Error().Err(err).Msg("mssqlpool failed")
		stop()
		os.Exit(1)
	}
}

// loadConfig reads --config (or starts from defaults) and applies flag overrides.
func loadConfig(flags *Flags) (*config.Config, error) {
	cfg := config.Default()
	if *flags.Config != "" {
		var err error
		if cfg, err = config.Load(*flags.Config); err != nil {
			return nil, err
		}
	} else {
		cfg.ApplyEnv()
	}

	if *flags.DSN != "" {
		cfg.Database.DSN = *flags.DSN
	}
	if *flags.Dedicated {
		cfg.Mode = config.ModeDedicated
	}
	if *flags.ReadOnly {
		cfg.ReadOnly = true
	}
	for col, pattern := range flags.Mask {
		if cfg.Mask == nil {
			cfg.Mask = make(map[string]string)
		}
		cfg.Mask[col] = pattern
	}
	if *flags.Preset != "" {
		cfg.Pool.Preset = *flags.Preset
	}
	if *flags.Serve != "" {
		cfg.Metrics.Addr = *flags.Serve
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger: console for people, JSON for collectors.
func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(w)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// run opens a session, executes the statements in order, writes the
// results and, with --serve, keeps serving HTTP until ctx ends.
// A nil dialer means go-mssqldb.
func run(ctx context.Context, cfg *config.Config, flags *Flags, dialer wire.Dialer, stdout io.Writer, log zerolog.Logger) error {
	inf, err := setupInfra(ctx, cfg, dialer, *flags.Dev, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := inf.Close(); err != nil {
			log.Warn().Err(err).Msg("infrastructure close failed")
		}
	}()
	if addr, ok := inf.MiniredisAddr(); ok {
		log.Warn().Str("redis", addr).Msg("dev mode: publishing to in-process miniredis")
	}

	opts, err := inf.SessionOptions(cfg, log)
	if err != nil {
		return err
	}
	masker, err := security.NewFieldMasker(cfg.Mask)
	if err != nil {
		return err
	}
	sess := session.New(cfg.Database.BuildDSN(), opts...)

	log.Info().
		Str("dsn", cfg.Database.Redacted()).
		Str("mode", cfg.Mode).
		Msg("connecting")

	return session.Run(ctx, sess, func(s *session.Session) error {
		if cfg.Metrics.Addr != "" {
			stopServer := serve(cfg.Metrics.Addr, s, log)
			defer stopServer()
		}

		if inf.Publisher != nil && cfg.Mode == config.ModePooled {
			statsCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				inf.Publisher.RunStats(statsCtx, sessionStats{s}, cfg.Redis.StatsInterval)
			}()
			defer func() {
				cancel()
				<-done
			}()
		}

		guard := security.NewSQLValidator(cfg.ReadOnly)
		results, err := executeAll(ctx, s, guard, flags.Statements)
		for i := range results {
			results[i].Result = masker.Apply(results[i].Result)
		}
		if len(results) > 0 {
			if werr := writeOutput(stdout, *flags.Format, *flags.Output, results); werr != nil {
				return errors.Join(err, werr)
			}
		}
		if err != nil {
			return err
		}

		if cfg.Metrics.Addr != "" {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving until interrupted")
			<-ctx.Done()
		}
		return nil
	})
}

// executeAll runs statements in order and stops at the first error.
// Statements the guard rejects are never sent.
func executeAll(ctx context.Context, s *session.Session, guard *security.SQLValidator, statements []string) ([]statementResult, error) {
	results := make([]statementResult, 0, len(statements))
	for i, stmt := range statements {
		if err := guard.Validate(stmt); err != nil {
			return results, fmt.Errorf("statement %d: %w", i+1, err)
		}
		res, err := s.Execute(ctx, stmt)
		if err != nil {
			return results, fmt.Errorf("statement %d: %w", i+1, err)
		}
		results = append(results, statementResult{Statement: stmt, Result: res})
	}
	return results, nil
}

func writeOutput(stdout io.Writer, format, path string, results []statementResult) error {
	if format == FormatXLSX || path == "" {
		return writeResults(stdout, format, path, results)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeResults(f, format, path, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// serve starts the HTTP listener and returns its shutdown func.
func serve(addr string, src statusSource, log zerolog.Logger) func() {
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(src, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("http listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown error")
		}
	}
}

// sessionStats adapts a session to resultlog.StatsSource.
type sessionStats struct{ s *session.Session }

func (a sessionStats) Stats() pool.Stats {
	st, _ := a.s.PoolStats()
	return st
}
