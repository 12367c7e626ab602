// Package pg wires PostgreSQL through pgx/v5 and goose/v3.
//
// Connect opens a *pgxpool.Pool from Config, retrying while the database comes up.
// Migrate applies goose migrations, either from an embedded fs.FS or from
// Config.MigrationsPath. Healthcheck returns a probe for readiness endpoints, and the
// Is*Error helpers classify driver errors so callers can map them to domain errors.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if cfg.AutoMigrate {
//		if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//			return err
//		}
//	}
package pg
