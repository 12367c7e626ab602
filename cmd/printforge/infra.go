package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	gomongo "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/printforge/db"
	"github.com/dmitrymomot/printforge/pkg/config"
	"github.com/dmitrymomot/printforge/pkg/email"
	"github.com/dmitrymomot/printforge/pkg/file"
	"github.com/dmitrymomot/printforge/pkg/httpserver"
	"github.com/dmitrymomot/printforge/pkg/logger"
	"github.com/dmitrymomot/printforge/pkg/mongo"
	"github.com/dmitrymomot/printforge/pkg/pg"
	"github.com/dmitrymomot/printforge/pkg/redis"
	"github.com/dmitrymomot/printforge/pkg/rbac"
	sub "github.com/dmitrymomot/printforge/pkg/subscription"
	"github.com/dmitrymomot/printforge/svc/subscription"
)

// infra owns the connections to external systems.
type infra struct {
	pool     *pgxpool.Pool
	redis    *goredis.Client
	redisCfg redis.Config
	mongo    *gomongo.Client
	mongoDB  *gomongo.Database
	storage  file.Storage
	checks   map[string]httpserver.CheckFunc
}

func connect(ctx context.Context, app appConfig, log *slog.Logger) (*infra, error) {
	in := &infra{checks: make(map[string]httpserver.CheckFunc)}
	if err := in.connectPostgres(ctx, log); err != nil {
		return nil, err
	}
	if err := in.connectRedis(ctx); err != nil {
		in.close(log)
		return nil, err
	}
	if app.AuditBackend == auditMongo {
		if err := in.connectMongo(ctx); err != nil {
			in.close(log)
			return nil, err
		}
	}
	storage, err := newStorage(ctx, app)
	if err != nil {
		in.close(log)
		return nil, err
	}
	in.storage = storage
	return in, nil
}

func (in *infra) connectPostgres(ctx context.Context, log *slog.Logger) error {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	in.pool = pool
	in.checks["postgres"] = pg.Healthcheck(pool)

	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, db.Migrations(), cfg, log); err != nil {
			pool.Close()
			return err
		}
	}
	return nil
}

func (in *infra) connectRedis(ctx context.Context) error {
	if err := config.Load(&in.redisCfg); err != nil {
		return err
	}
	client, err := redis.Connect(ctx, in.redisCfg)
	if err != nil {
		return err
	}
	in.redis = client
	in.checks["redis"] = redis.Healthcheck(client)
	return nil
}

func (in *infra) connectMongo(ctx context.Context) error {
	var cfg mongo.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	client, err := mongo.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	in.mongo = client
	in.mongoDB = client.Database(cfg.Database)
	in.checks["mongo"] = mongo.Healthcheck(client)
	return subscription.EnsureAuditIndexes(ctx, in.mongoDB)
}

func newStorage(ctx context.Context, app appConfig) (file.Storage, error) {
	if app.StorageBackend == storageS3 {
		var cfg file.S3Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return file.NewS3Storage(ctx, cfg)
	}
	return file.NewLocalStorage(app.LocalStorageDir, app.LocalStorageURL)
}

func (in *infra) grants() rbac.GrantSource {
	return subscription.NewPostgresGrants(in.pool)
}

// engineDeps assembles the collaborators shared by the engine and the sweeper.
func (in *infra) engineDeps(app appConfig, tiers sub.TierTable, log *slog.Logger) (sub.Deps, []sub.Option, error) {
	store := subscription.NewPostgresStore(in.pool)
	deps := sub.Deps{
		Store:    store,
		Audit:    store,
		Ledger:   store,
		Accounts: store,
		Images:   store,
		Objects:  subscription.NewFileObjectStore(in.storage),
	}
	if in.mongoDB != nil {
		deps.Audit = subscription.NewMongoAuditLog(in.mongoDB)
	}

	var stripeCfg subscription.StripeConfig
	if err := config.Load(&stripeCfg); err != nil {
		return sub.Deps{}, nil, err
	}
	if stripeCfg.Enabled() {
		deps.Gateway = subscription.NewStripeGateway(stripeCfg)
	} else {
		log.Warn("stripe is not configured, gateway steps will be skipped")
	}

	var emailCfg email.Config
	if err := config.Load(&emailCfg); err != nil {
		return sub.Deps{}, nil, err
	}
	var sender email.EmailSender = email.NewDevSender(emailCfg.DevOutputDir)
	if emailCfg.Enabled() {
		postmark, err := email.NewPostmarkClient(emailCfg)
		if err != nil {
			return sub.Deps{}, nil, fmt.Errorf("init postmark: %w", err)
		}
		sender = postmark
	}

	opts := []sub.Option{
		sub.WithGracePeriod(app.GracePeriod),
		sub.WithGatewayTimeout(app.GatewayTimeout),
		sub.WithPurgeConcurrency(app.PurgeConcurrency),
		sub.WithLogger(log),
		sub.WithNotifier(subscription.NewEmailNotifier(sender, store, tiers,
			subscription.WithRenewURL(app.RenewURL),
			subscription.WithSupportEmail(emailCfg.SupportEmail),
		)),
		sub.WithMilestoneGuard(subscription.NewRedisMilestoneGuard(in.redis,
			subscription.WithKeyPrefix(in.redisCfg.KeyPrefix),
		)),
	}
	return deps, opts, nil
}

func (in *infra) close(log *slog.Logger) {
	ctx := context.Background()
	if in.mongo != nil {
		if err := in.mongo.Disconnect(ctx); err != nil {
			log.Warn("failed to disconnect mongo", logger.Error(err))
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("failed to close redis", logger.Error(err))
		}
	}
	if in.pool != nil {
		in.pool.Close()
	}
}
