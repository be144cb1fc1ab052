// Package app assembles the lead CRM from configuration. cmd/api and
// cmd/leadctl share it so both run the same wiring.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"lead-crm/internal/audit"
	"lead-crm/internal/auth"
	"lead-crm/internal/calls"
	"lead-crm/internal/config"
	"lead-crm/internal/httpapi"
	"lead-crm/internal/leads"
	"lead-crm/internal/leads/migrations"
	"lead-crm/internal/metrics"
	"lead-crm/internal/qualification"
	"lead-crm/internal/reporting"
	"lead-crm/internal/voice"
	"lead-crm/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// Options selects the optional startup steps.
type Options struct {
	// Migrate applies pending goose migrations before serving.
	Migrate bool
	// Listen starts the LISTEN/NOTIFY change listener.
	Listen bool
	// Redis connects the shared call lock; otherwise a process-local lock is used.
	Redis bool
}

type App struct {
	Config config.Config
	Log    *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Auth      *auth.Manager
	Leads     *leads.Service
	Audit     *audit.Service
	Metrics   *metrics.Metrics
	Calls     *calls.Registry
	Tokens    voice.TokenIssuer
	Processor *qualification.Processor
	Simulator *qualification.Simulator
	Reports   *reporting.Service

	stopListener context.CancelFunc
}

// Open connects to postgres (and redis when requested) and assembles the app.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	if opts.Migrate {
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	var rdb *redis.Client
	var locker calls.Locker
	if opts.Redis {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		locker = calls.NewRedisLocker(rdb, cfg.Calls.LockTTL)
	}

	var listener *leads.Listener
	if opts.Listen {
		listener = leads.NewListener(cfg.PostgresDSN(), log)
	}
	repo := leads.NewPostgresRepo(db, listener)

	a, err := Assemble(cfg, log, Parts{
		Store:     repo,
		AuditRepo: audit.NewPostgresRepo(db),
		Locker:    locker,
		Model:     qualification.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model),
		Tokens:    voice.NewElevenLabsTokenIssuer(cfg.Voice.APIKey, cfg.Voice.APIBase),
		Provider:  voice.NewElevenLabsProvider(log),
	})
	if err != nil {
		_ = db.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	a.DB, a.Redis = db, rdb

	if listener != nil {
		listener.SetFetcher(repo)
		lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.stopListener = cancel
		go func() {
			if err := listener.Run(lctx); err != nil {
				log.Error("lead listener stopped", "err", err)
			}
		}()
	}
	return a, nil
}

// Parts are the storage and upstream adapters Assemble wires together.
type Parts struct {
	Store     leads.Store
	AuditRepo audit.Repository
	Locker    calls.Locker
	Model     qualification.Model
	Tokens    voice.TokenIssuer
	Provider  voice.Provider
}

// Assemble builds the services over the given parts without any I/O.
func Assemble(cfg config.Config, log *slog.Logger, p Parts) (*App, error) {
	if p.Store == nil || p.AuditRepo == nil || p.Model == nil || p.Tokens == nil || p.Provider == nil {
		return nil, errors.New("app: incomplete parts")
	}
	if log == nil {
		log = slog.Default()
	}
	am, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}

	m := metrics.New("leadcrm")
	svc := leads.NewService(p.Store)
	auditSvc := audit.NewService(p.AuditRepo)

	registry := calls.NewRegistry(calls.Config{
		AgentID:     cfg.Voice.AgentID,
		SettleDelay: cfg.Calls.SettleDelay,
	}, calls.Deps{
		Tokens:   p.Tokens,
		Provider: p.Provider,
		Leads:    svc,
		Recorder: auditSvc,
		Metrics:  m,
		Logger:   log,
	}, p.Locker)

	return &App{
		Config:    cfg,
		Log:       log,
		Auth:      am,
		Leads:     svc,
		Audit:     auditSvc,
		Metrics:   m,
		Calls:     registry,
		Tokens:    p.Tokens,
		Processor: qualification.NewProcessor(p.Model, svc, auditSvc, m, log),
		Simulator: qualification.NewSimulator(p.Model, svc, auditSvc, m, log),
		Reports:   reporting.NewService(svc),
	}, nil
}

func (a *App) Handlers() httpapi.Handlers {
	return httpapi.Handlers{
		Auth:      a.Auth,
		Leads:     a.Leads,
		Calls:     a.Calls,
		Tokens:    a.Tokens,
		Processor: a.Processor,
		Simulator: a.Simulator,
		Audit:     a.Audit,
		Reports:   a.Reports,
	}
}

func (a *App) HTTPMetrics() gin.HandlerFunc { return httpapi.Metrics(a.Metrics) }

// Ready checks the backing stores.
func (a *App) Ready(ctx context.Context) error {
	if a.DB != nil {
		if err := a.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.stopListener != nil {
		a.stopListener()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
