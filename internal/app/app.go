// Package app wires the workspace database, config and engine together for
// the CLI and server entry points.
package app

import (
	"database/sql"
	"fmt"

	"taskpilot/internal/config"
	"taskpilot/internal/db"
	"taskpilot/internal/engine"
	"taskpilot/internal/migrate"
)

type App struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
}

// Open loads workspace config, opens the SQLite database, applies migrations
// and builds the engine. Missing config falls back to defaults.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		DB:     conn,
		Engine: engine.New(conn, cfg),
		Config: cfg,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
