package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/qvarn/qvarn/internal/config"
	"github.com/qvarn/qvarn/internal/events"
	"github.com/qvarn/qvarn/internal/idgen"
	"github.com/qvarn/qvarn/internal/logging"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/resource"
	"github.com/qvarn/qvarn/internal/store/postgres"
	"github.com/qvarn/qvarn/internal/store/sqldb"
	"github.com/qvarn/qvarn/internal/store/sqlite"
	"github.com/qvarn/qvarn/internal/typespec"
)

// app holds what every database-backed command needs.
type app struct {
	cfg       *config.Config
	db        *sqldb.DB
	types     []*model.ResourceType
	publisher events.Publisher
	logs      io.Closer
}

// openApp loads the configuration, sets up logging, reads the resource
// type specifications and connects to the database. Publishing is only
// wired when publish is true and a NATS URL is configured.
func openApp(ctx context.Context, publish bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logs, err := logging.Setup(cfg.Main.Log, cfg.Main.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logs: logs, publisher: &events.NoopPublisher{}}

	if cfg.Main.SpecDir != "" {
		a.types, err = typespec.LoadDir(cfg.Main.SpecDir)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.db, err = openDB(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}

	if publish && cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		slog.Info("events enabled", "nats_url", cfg.Events.NATSURL)
	}
	return a, nil
}

func openDB(ctx context.Context, c config.Database) (*sqldb.DB, error) {
	pool := sqldb.PoolOptions{MinConn: c.MinConn, MaxConn: c.MaxConn}
	switch c.Type {
	case "postgres":
		return postgres.Open(ctx, postgres.Options{
			Host:     c.Host,
			Port:     c.Port,
			Name:     c.Name,
			User:     c.User,
			Password: c.Password,
			ReadOnly: c.ReadOnly,
		}, pool)
	case "sqlite":
		return sqlite.Open(ctx, c.File, c.ReadOnly, pool)
	}
	return nil, fmt.Errorf("unknown database type %q", c.Type)
}

// services builds one resource service per loaded type.
func (a *app) services() ([]*resource.Service, error) {
	out := make([]*resource.Service, 0, len(a.types))
	for _, rt := range a.types {
		svc, err := resource.New(a.db, rt, idgen.Random{}, resource.WithPublisher(a.publisher))
		if err != nil {
			return nil, fmt.Errorf("resource type %s: %w", rt.Type, err)
		}
		out = append(out, svc)
	}
	return out, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			slog.Error("error closing publisher", "err", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Error("error closing database", "err", err)
		}
	}
	if a.logs != nil {
		a.logs.Close()
	}
}
