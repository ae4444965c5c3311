package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"blockline/internal/config"
	"blockline/internal/db"
	"blockline/internal/domain"
	"blockline/internal/engine"
	"blockline/internal/migrate"
)

// Options select a workspace and how its config is resolved.
type Options struct {
	Dir string
	// ConfigPath overrides <Dir>/blockline.yml. It must exist when set.
	ConfigPath string
	// Override runs after the file is loaded and before validation.
	Override func(*config.Config)
	Logger   *slog.Logger
}

// Workspace is an opened workspace: database migrated, config resolved and
// an engine bound to both.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// LoadConfig resolves the workspace config file, falling back to the
// defaults when no file exists and no explicit path was given.
func LoadConfig(opts Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.FromFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadOptional(opts.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Override != nil {
		opts.Override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func Open(ctx context.Context, opts Options) (*Workspace, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureWorkspace(opts.Dir); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Dir})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	return &Workspace{Dir: opts.Dir, DB: conn, Config: cfg, Engine: e}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// Bootstrap creates name as the first user of an empty workspace. Once any
// user exists it only looks name up, so unknown actors stay unknown.
func (w *Workspace) Bootstrap(ctx context.Context, name string) (domain.User, bool, error) {
	users, err := w.Engine.Repo.ListUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	if len(users) > 0 {
		for _, u := range users {
			if u.Name == name {
				return u, false, nil
			}
		}
		return domain.User{}, false, nil
	}
	tz := os.Getenv("TZ")
	if tz == "" {
		tz = "UTC"
	}
	u, err := w.Engine.CreateUser(ctx, name, tz)
	var ve *engine.ViolationError
	if errors.As(err, &ve) && ve.Kind == engine.KindMalformed && tz != "UTC" {
		u, err = w.Engine.CreateUser(ctx, name, "UTC")
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}
