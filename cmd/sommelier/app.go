package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cavistelabs/sommelier/pkg/cache"
	"github.com/cavistelabs/sommelier/pkg/config"
	"github.com/cavistelabs/sommelier/pkg/database"
	"github.com/cavistelabs/sommelier/pkg/observability"
	"github.com/cavistelabs/sommelier/pkg/store"
)

// app bundles the shared wiring every subcommand needs: config, the
// database handle, the per-domain stores and the telemetry provider.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	provider *observability.Provider

	staging   *store.StagingSQL
	catalog   *store.CatalogSQL
	customers *store.CustomerSQL
	profiles  *store.ProfileSQL
	recos     *store.RecoSQL
	audits    *store.AuditSQL
	outcomes  *store.OutcomeSQL

	cache cache.Cache
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	db, err := database.Open(ctx, database.DefaultOptions(cfg.DatabaseDriver, cfg.DatabaseURL))
	if err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Enabled = true
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		provider:  provider,
		staging:   store.NewStagingSQL(db, cfg.DatabaseDriver),
		catalog:   store.NewCatalogSQL(db, cfg.DatabaseDriver),
		customers: store.NewCustomerSQL(db, cfg.DatabaseDriver),
		profiles:  store.NewProfileSQL(db, cfg.DatabaseDriver),
		recos:     store.NewRecoSQL(db, cfg.DatabaseDriver),
		audits:    store.NewAuditSQL(db, cfg.DatabaseDriver),
		outcomes:  store.NewOutcomeSQL(db, cfg.DatabaseDriver),
	}
	if cfg.RedisAddr != "" {
		a.cache = cache.NewRedis(cfg.RedisAddr, "", 0, "sommelier:")
	} else {
		a.cache = cache.NewMemory()
	}

	if err := a.migrate(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) migrate(ctx context.Context) error {
	for _, m := range []interface {
		Migrate(context.Context) error
	}{a.staging, a.catalog, a.customers, a.profiles, a.recos, a.audits, a.outcomes} {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	_ = a.provider.Shutdown(ctx)
	_ = a.db.Close()
}
