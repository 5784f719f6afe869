package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cm4all/bengproxy/internal/accesslog"
	"github.com/cm4all/bengproxy/internal/cache"
	bengconfig "github.com/cm4all/bengproxy/internal/config"
	"github.com/cm4all/bengproxy/internal/resolver"
	"github.com/cm4all/bengproxy/internal/resolver/translationpb"
	"github.com/cm4all/bengproxy/internal/server"
	"github.com/cm4all/bengproxy/internal/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the front controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func setupLogging(cfg bengconfig.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
}

func serve(parent context.Context) error {
	cfg, err := bengconfig.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg.Log)

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	httpTimeout, err := time.ParseDuration(cfg.Timeouts.HTTPClientSocket)
	if err != nil {
		return fmt.Errorf("parse http socket timeout: %w", err)
	}

	sessionTTL, err := time.ParseDuration(cfg.Session.TTL)
	if err != nil {
		return fmt.Errorf("parse session ttl: %w", err)
	}

	translationConn, err := grpc.NewClient(cfg.Resolver.TranslationTarget, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial translation server: %w", err)
	}
	defer translationConn.Close()

	collab := resolver.Collaborator(resolver.NewGRPCCollaborator(translationpb.NewClient(translationConn)))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr, DB: cfg.Session.RedisDB})
	defer redisClient.Close()
	sessions := session.Store(session.NewRedisStore(redisClient,
		session.WithTTL(sessionTTL),
		session.WithLogger(log.Logger)))

	accessSink, err := newAccessLogSink(ctx, cfg.AccessLog)
	if err != nil {
		return fmt.Errorf("set up access log: %w", err)
	}
	defer accessSink.Close()

	invalidator, err := newCacheInvalidator(cfg.Cache)
	if err != nil {
		return fmt.Errorf("set up cache invalidator: %w", err)
	}
	defer invalidator.Close()

	srv := server.New(server.Config{
		ListenAddr:  cfg.Listener.Addr,
		ConnTimeout: httpTimeout,
		ClusterSize: cfg.Cluster.Size,
		ClusterNode: cfg.Cluster.Node,
	}, collab, sessions, accessSink, invalidator)

	started := time.Now()
	errc := make(chan error, 2)
	go func() { errc <- srv.Listen(ctx) }()
	go func() { errc <- srv.ListenAdmin(ctx, cfg.Listener.AdminAddr, started) }()

	select {
	case err := <-errc:
		cancel()
		return err
	case <-ctx.Done():
		<-errc
		return nil
	}
}

func newAccessLogSink(ctx context.Context, cfg bengconfig.AccessLog) (accesslog.Sink, error) {
	if !cfg.Enabled {
		return accesslog.NopSink{}, nil
	}
	return accesslog.NewPostgresSink(ctx, cfg.DSN, accesslog.WithLogger(log.Logger))
}

func newCacheInvalidator(cfg bengconfig.Cache) (cache.Invalidator, error) {
	if !cfg.Enabled {
		return cache.NopInvalidator{}, nil
	}
	return cache.NewNatsInvalidator(cfg.NatsURL, cfg.Subject)
}
