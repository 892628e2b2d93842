package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/ruslano69/mssqlpool/pkg/audit"
	"github.com/ruslano69/mssqlpool/pkg/config"
	"github.com/ruslano69/mssqlpool/pkg/dedicated"
	"github.com/ruslano69/mssqlpool/pkg/pool"
	"github.com/ruslano69/mssqlpool/pkg/resilience"
	"github.com/ruslano69/mssqlpool/pkg/resultlog"
	"github.com/ruslano69/mssqlpool/pkg/session"
	"github.com/ruslano69/mssqlpool/pkg/wire"
)

// Infra holds everything a session is wired to.
type Infra struct {
	Dialer    wire.Dialer
	Audit     audit.Logger
	Publisher *resultlog.RedisPublisher
	Breaker   *resilience.CircuitBreaker

	auditSession *dedicated.Session
	mini         *miniredis.Miniredis
	closers      []func() error
}

// setupInfra builds the audit trail, the Redis publisher and the breaker.
// A nil dialer means a go-mssqldb dialer for cfg.Database. With dev set
// the publisher talks to an in-process miniredis.
func setupInfra(ctx context.Context, cfg *config.Config, dialer wire.Dialer, dev bool, log zerolog.Logger) (*Infra, error) {
	inf := &Infra{Dialer: dialer, Audit: audit.NewNullLogger()}

	if dialer == nil {
		d, err := wire.NewDialer(cfg.Database.BuildDSN())
		if err != nil {
			return nil, fmt.Errorf("infra: dialer: %w", err)
		}
		inf.Dialer = d
		inf.closers = append(inf.closers, d.Close)
	}

	if cfg.Audit.Enabled {
		if err := inf.setupAudit(ctx, cfg.Audit, log); err != nil {
			inf.Close()
			return nil, err
		}
	}

	if cfg.Redis.Enabled || cfg.Redis.Dev || dev {
		if err := inf.setupRedis(ctx, cfg.Redis, dev); err != nil {
			inf.Close()
			return nil, err
		}
	}

	if cfg.Breaker.Enabled {
		bcfg := cfg.Breaker
		if bcfg.Name == "" {
			bcfg.Name = "dial"
		}
		bcfg.OnStateChange = func(name string, from, to resilience.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
		}
		cb, err := resilience.New(bcfg)
		if err != nil {
			inf.Close()
			return nil, fmt.Errorf("infra: breaker: %w", err)
		}
		inf.Breaker = cb
	}

	return inf, nil
}

func (inf *Infra) setupAudit(ctx context.Context, cfg config.AuditConfig, log zerolog.Logger) error {
	level, err := audit.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("infra: audit: %w", err)
	}

	var appenders []audit.Appender
	if cfg.File != "" {
		fa, err := audit.NewFileAppender(audit.FileAppenderConfig{
			FilePath:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Level:      level,
			FormatJSON: cfg.JSON,
		})
		if err != nil {
			return fmt.Errorf("infra: audit file: %w", err)
		}
		appenders = append(appenders, fa)
	}

	if cfg.Table != "" {
		// Audit rows go over their own channel, outside any caller transaction.
		inf.auditSession = dedicated.New(inf.Dialer, dedicated.WithLogger(log))
		sa, err := audit.NewSQLAppender(ctx, audit.SQLAppenderConfig{
			Exec:            inf.auditSession,
			TableName:       cfg.Table,
			Level:           level,
			BatchSize:       cfg.BatchSize,
			AutoCreateTable: true,
		})
		if err != nil {
			for _, a := range appenders {
				a.Close()
			}
			return fmt.Errorf("infra: audit table: %w", err)
		}
		appenders = append(appenders, sa)
	}

	lcfg := audit.DefaultConfig()
	lcfg.OnError = func(err error) {
		log.Warn().Err(err).Msg("audit write failed")
	}
	inf.Audit = audit.NewLogger(lcfg, appenders...)
	return nil
}

func (inf *Infra) setupRedis(ctx context.Context, cfg config.RedisConfig, dev bool) error {
	rcfg := cfg.Config
	if dev || cfg.Dev {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("infra: miniredis: %w", err)
		}
		inf.mini = mr
		rcfg.Addr = mr.Addr()
		rcfg.Password = ""
	}

	inf.Publisher = resultlog.NewRedisPublisher(rcfg)
	if err := inf.Publisher.Ping(ctx); err != nil {
		return fmt.Errorf("infra: redis %s: %w", rcfg.Addr, err)
	}
	return nil
}

// MiniredisAddr returns the in-process Redis address in dev mode.
func (inf *Infra) MiniredisAddr() (string, bool) {
	if inf.mini == nil {
		return "", false
	}
	return inf.mini.Addr(), true
}

// SessionOptions translates the config into session options.
func (inf *Infra) SessionOptions(cfg *config.Config, log zerolog.Logger) ([]session.Option, error) {
	opts := []session.Option{
		session.WithDialer(inf.Dialer),
		session.WithAudit(inf.Audit),
		session.WithLogger(log),
	}
	if inf.Publisher != nil {
		opts = append(opts, session.WithPublisher(inf.Publisher))
	}

	if cfg.Mode == config.ModeDedicated {
		return append(opts, session.WithDedicated()), nil
	}

	pcfg, err := cfg.Pool.Build()
	if err != nil {
		return nil, err
	}
	poolOpts := []pool.Option{pool.WithRetry(cfg.Retry)}
	if inf.Breaker != nil {
		poolOpts = append(poolOpts, pool.WithBreaker(inf.Breaker))
	}
	return append(opts, session.WithPoolConfig(pcfg), session.WithPoolOptions(poolOpts...)), nil
}

// Close releases resources in reverse order of setup.
func (inf *Infra) Close() error {
	var errs []error
	if err := inf.Audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}
	if inf.auditSession != nil {
		if err := inf.auditSession.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("audit session: %w", err))
		}
	}
	if inf.Publisher != nil {
		if err := inf.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if inf.mini != nil {
		inf.mini.Close()
	}
	for i := len(inf.closers) - 1; i >= 0; i-- {
		if err := inf.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
