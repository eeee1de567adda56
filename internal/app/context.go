package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"truelens/internal/config"
	"truelens/internal/db"
	"truelens/internal/engine"
	"truelens/internal/migrate"
)

type Options struct {
	Workspace string
	Logger    *zap.Logger
	// JWTSecret overrides auth.jwt_secret from the config file when set.
	JWTSecret string
}

// App is an opened workspace: migrated database, effective config and the
// engine built over both.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Logger    *zap.Logger
}

// Open prepares the workspace for use. A missing truelens.yml means defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if s := strings.TrimSpace(opts.JWTSecret); s != "" {
		cfg.Auth.JWTSecret = s
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	version, err := migrate.Version(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	logger.Debug("workspace opened",
		zap.String("workspace", workspace),
		zap.String("db", db.Path(workspace)),
		zap.Int("schema_version", version))
	return &App{Workspace: workspace, DB: conn, Config: cfg, Engine: e, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// InitWorkspace writes the default truelens.yml and creates the state
// directory. An existing config is kept unless force is set.
func InitWorkspace(workspace string, force bool) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists; use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
