package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/qvarn/qvarn/internal/config"
	"github.com/qvarn/qvarn/internal/resource"
	"github.com/qvarn/qvarn/internal/server"
	qvarnsync "github.com/qvarn/qvarn/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version is the implementation version reported by /version.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the HTTP and gRPC servers",
	GroupID: "server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	if len(a.types) == 0 {
		return fmt.Errorf("no resource types loaded; set main.specdir")
	}

	health := server.NewHealth()
	if cfg.Database.ReadOnly {
		slog.Info("read-only database, skipping storage preparation")
	} else if err := prepareAll(ctx, a); err != nil {
		return err
	}

	services, err := a.services()
	if err != nil {
		return err
	}

	opts := server.Options{
		AccessLog:          cfg.Main.EnableAccessLog,
		AccessLogChunkSize: cfg.Main.AccessLogEntryChunkSize,
		Version:            Version,
	}
	if cfg.Auth.TokenValidationKey != "" {
		opts.Auth, err = server.NewAuthenticator(cfg.Auth.TokenValidationKey, cfg.Auth.TokenIssuer)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("token validation key not set, authorization disabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.New(services, opts).NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		grpcServer := server.NewGRPCServer(health)
		g.Go(func() error {
			slog.Info("gRPC server listening", "addr", cfg.Server.GRPCAddr)
			return grpcServer.Serve(grpcLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			slog.Info("gRPC server stopped")
			return nil
		})
	}

	if sched := newScheduler(gctx, cfg, services); sched != nil {
		g.Go(func() error {
			slog.Info("export scheduler started", "interval", cfg.ExportInterval())
			return sched.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "err", err)
		}
		slog.Info("HTTP server stopped")
		return nil
	})

	server.MarkServing(health)
	slog.Info("qvarn server started",
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"types", len(services),
	)

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// newScheduler returns nil when exports are disabled or no destination is
// usable.
func newScheduler(ctx context.Context, cfg *config.Config, services []*resource.Service) *qvarnsync.Scheduler {
	if cfg.ExportInterval() <= 0 {
		return nil
	}
	var dests []qvarnsync.Destination
	if cfg.Export.S3Bucket != "" {
		s3Dest, err := qvarnsync.NewS3Destination(ctx, qvarnsync.S3Options{
			Bucket:   cfg.Export.S3Bucket,
			Key:      cfg.Export.S3Key,
			Region:   cfg.Export.S3Region,
			Endpoint: cfg.Export.S3Endpoint,
		})
		if err != nil {
			slog.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			slog.Info("export S3 destination enabled", "bucket", cfg.Export.S3Bucket, "key", cfg.Export.S3Key)
		}
	}
	if cfg.Export.File != "" {
		dests = append(dests, qvarnsync.NewFileDestination(cfg.Export.File))
		slog.Info("export file destination enabled", "file", cfg.Export.File)
	}
	if len(dests) == 0 {
		return nil
	}
	sources := make([]qvarnsync.Source, len(services))
	for i, svc := range services {
		sources[i] = svc
	}
	return qvarnsync.NewScheduler(sources, dests, cfg.ExportInterval(), slog.Default())
}
