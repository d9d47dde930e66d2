package main

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/sync/errgroup"

	"github.com/lox/cascadeslots/cmd/cascadeslots/shared"
	"github.com/lox/cascadeslots/internal/cascadesync"
	"github.com/lox/cascadeslots/internal/review"
	"github.com/lox/cascadeslots/internal/server"
	"github.com/lox/cascadeslots/internal/validator"
)

// ServeCmd runs the WebSocket server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides the config file)"`
}

func (c *ServeCmd) Run(g *Globals) error {
	eng, cfg, logger, err := g.newEngine()
	if err != nil {
		return err
	}
	v, err := validator.New(cfg.Game, logger)
	if err != nil {
		return err
	}

	clock := quartz.NewReal()
	var queue review.Queue = review.Discard{}
	var fileQueue *review.FileQueue
	if cfg.Server.ReviewDir != "" {
		fileQueue, err = review.NewFileQueue(logger, review.Config{
			Dir:           cfg.Server.ReviewDir,
			FlushInterval: cfg.Server.ReviewFlush,
			Clock:         clock,
		})
		if err != nil {
			return err
		}
		queue = fileQueue
	}

	results := cascadesync.NewResultCache(clock, cfg.Server.ResultTTL)
	syn := cascadesync.New(results, v, logger, cascadesync.Config{
		SessionTTL:     cfg.Server.SessionTTL,
		MaxSyncLatency: cfg.Server.MaxSyncLatency,
		Clock:          clock,
		Review:         queue,
	})
	srv := server.NewServer(server.Config{
		Engine:  eng,
		Sync:    syn,
		Results: results,
		Logger:  logger,
	})

	addr := cfg.Server.Addr()
	if c.Addr != "" {
		addr = c.Addr
	}
	logger.Info().
		Str("address", addr).
		Str("game", cfg.Game.Name).
		Dur("session_ttl", cfg.Server.SessionTTL).
		Dur("result_ttl", cfg.Server.ResultTTL).
		Str("review_dir", cfg.Server.ReviewDir).
		Msg("Starting cascadeslots server")

	ctx, cancel := shared.SetupSignalHandler(logger)
	defer cancel()

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		syn.Run(gctx, cfg.Server.SweepInterval)
		return nil
	})
	grp.Go(func() error {
		return srv.ListenAndServe(addr)
	})
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = grp.Wait()

	if fileQueue != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if qerr := fileQueue.Shutdown(shutdownCtx); qerr != nil {
			logger.Error().Err(qerr).Msg("Failed to flush review queue")
		}
	}
	return err
}
