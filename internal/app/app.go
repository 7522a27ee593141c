package app

import (
	"fmt"

	"fabline/internal/config"
	"fabline/internal/db"
	"fabline/internal/engine"
	"fabline/internal/migrate"
	"fabline/internal/telemetry"
)

// App bundles everything a command needs after bootstrap.
type App struct {
	Engine  engine.Engine
	Config  *config.Config
	Log     *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Close releases the database handle.
func (a *App) Close() error {
	if a.Engine.DB != nil {
		return a.Engine.DB.Close()
	}
	return nil
}

// Open bootstraps a workspace: opens the database, applies pending
// migrations, loads fabline.yml (defaults when absent) and wires the engine.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)
	metrics := telemetry.NewMetrics(cfg.Telemetry.MetricsEnabled)
	return &App{
		Engine:  engine.New(conn, cfg, log, metrics),
		Config:  cfg,
		Log:     log,
		Metrics: metrics,
	}, nil
}
