package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/config"
	"github.com/ehr/fhirindex/internal/domain/terminology"
	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/schema"
	"github.com/ehr/fhirindex/internal/platform/telemetry"
	"github.com/ehr/fhirindex/internal/searchindex"
	"github.com/ehr/fhirindex/internal/searchparam"
)

// app holds the wired collaborators shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	metrics  *telemetry.IndexMetrics
	env      *lookup.Env
	registry *lookup.Registry
	svc      *searchindex.Service
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// loadCatalog returns the built-in search parameters, extended by the
// SearchParameter bundle at path when one is configured.
func loadCatalog(path string) (*searchparam.Catalog, error) {
	catalog := searchparam.DefaultCatalog()
	if path == "" {
		return catalog, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open search parameters: %w", err)
	}
	defer f.Close()
	if _, err := catalog.LoadBundle(f); err != nil {
		return nil, fmt.Errorf("load search parameters %s: %w", path, err)
	}
	return catalog, nil
}

// loadSchema returns the built-in element table, extended by the
// StructureDefinition bundle at path when one is configured.
func loadSchema(path string) (*schema.Service, error) {
	s := schema.NewDefault()
	if path == "" {
		return s, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	if _, err := s.LoadStructureDefinitions(f); err != nil {
		return nil, fmt.Errorf("load profiles %s: %w", path, err)
	}
	return s, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	catalog, err := loadCatalog(cfg.SearchParamsFile)
	if err != nil {
		return nil, err
	}
	types, err := loadSchema(cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewIndexMetrics(registry)

	env, err := lookup.NewEnv(types, catalog, logger.With().Str("component", "lookup").Logger(), cfg.ClassifierCacheSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	env.Metrics = metrics
	env.InsertBatchSize = cfg.InsertBatchSize
	env.DeleteBatchSize = cfg.DeleteBatchSize

	importer := terminology.NewImporter(logger.With().Str("component", "terminology").Logger(), cfg.InsertBatchSize)
	reg, err := lookup.NewRegistry(env, importer, cfg.ClassifierCacheSize)
	if err != nil {
		env.Close()
		pool.Close()
		return nil, err
	}

	svc := searchindex.NewService(pool, reg, env, searchindex.Options{
		Workers:  cfg.ReindexWorkers,
		PageSize: cfg.ReindexPageSize,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		metrics:  metrics,
		env:      env,
		registry: reg,
		svc:      svc,
	}, nil
}

func (a *app) Close() {
	a.registry.Close()
	a.env.Close()
	a.pool.Close()
}

// offlineDDL renders the resource table DDL without a database connection.
func offlineDDL(searchParamsFile, profilesFile string) ([]string, error) {
	catalog, err := loadCatalog(searchParamsFile)
	if err != nil {
		return nil, err
	}
	types, err := loadSchema(profilesFile)
	if err != nil {
		return nil, err
	}
	env, err := lookup.NewEnv(types, catalog, zerolog.Nop(), 0)
	if err != nil {
		return nil, err
	}
	defer env.Close()
	reg, err := lookup.NewRegistry(env, terminology.NewImporter(zerolog.Nop(), 0), 0)
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	return searchindex.NewService(nil, reg, env, searchindex.Options{}).SchemaDDL()
}
