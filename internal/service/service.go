// internal/service/service.go

// Package service is the composition root: it builds every component from
// configuration, wires them into the engine, and owns graceful teardown.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/demodrive-ai/demodrive/api/schemas"
	"github.com/demodrive-ai/demodrive/internal/browser"
	"github.com/demodrive-ai/demodrive/internal/config"
	"github.com/demodrive-ai/demodrive/internal/engine"
	"github.com/demodrive-ai/demodrive/internal/events"
	"github.com/demodrive-ai/demodrive/internal/plan"
	"github.com/demodrive-ai/demodrive/internal/store"
	"github.com/demodrive-ai/demodrive/internal/stream"
	"github.com/demodrive-ai/demodrive/internal/vision"
)

// Components holds the wired application graph.
type Components struct {
	Config *config.Config
	Logger *zap.Logger

	Engine         *engine.Engine
	BrowserManager *browser.Manager
	PlanStore      *plan.FileStore
	Hub            *events.Hub
	RedisSink      *events.RedisSink
	Store          *store.Store
	Streamer       *stream.Streamer

	dbPool    *pgxpool.Pool
	hubCancel context.CancelFunc
}

// Build wires the full component graph. Optional pieces (vision oracle,
// Redis, Postgres, streaming) activate only when configured; the engine runs
// degraded without them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Components{Config: cfg, Logger: logger}

	planStore, err := plan.NewFileStore(cfg.Plans.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing plan store: %w", err)
	}
	c.PlanStore = planStore

	browserManager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing browser manager: %w", err)
	}
	c.BrowserManager = browserManager

	var oracle schemas.VisionOracle
	if cfg.LLM.APIKey != "" {
		client, err := vision.NewGeminiClient(cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini client: %w", err)
		}
		oracle, err = vision.NewOracle(client, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing vision oracle: %w", err)
		}
		logger.Debug("Vision oracle initialized.", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Warn("No LLM API key configured; running without step verification.")
	}

	sinks := []schemas.EventSink{events.NewLogSink(logger)}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	c.hubCancel = hubCancel
	c.Hub = events.NewHub(logger, cfg.Events.WebSocketLimit)
	go c.Hub.Run(hubCtx)
	sinks = append(sinks, c.Hub)

	if cfg.Events.RedisURL != "" {
		redisSink, err := events.NewRedisSink(ctx, cfg.Events, logger)
		if err != nil {
			hubCancel()
			return nil, fmt.Errorf("initializing redis sink: %w", err)
		}
		c.RedisSink = redisSink
		sinks = append(sinks, redisSink)
		logger.Debug("Redis event sink initialized.")
	}

	fanout, err := events.NewFanout(logger, sinks...)
	if err != nil {
		hubCancel()
		return nil, err
	}

	if cfg.Database.DSN != "" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()
		pool, err := pgxpool.New(connectCtx, cfg.Database.DSN)
		if err != nil {
			hubCancel()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		dbStore, err := store.New(connectCtx, pool, logger)
		if err != nil {
			pool.Close()
			hubCancel()
			return nil, fmt.Errorf("initializing archival store: %w", err)
		}
		if err := dbStore.EnsureSchema(connectCtx); err != nil {
			pool.Close()
			hubCancel()
			return nil, fmt.Errorf("applying database schema: %w", err)
		}
		c.dbPool = pool
		c.Store = dbStore
		logger.Debug("Archival store initialized.")
	}

	eng, err := engine.New(browserManager, planStore, oracle, fanout, logger, sessionDefaults(cfg.Agent))
	if err != nil {
		hubCancel()
		return nil, fmt.Errorf("initializing engine: %w", err)
	}
	c.Engine = eng

	if cfg.Stream.Enabled {
		streamer, err := stream.NewStreamer(ctx, cfg.Stream, fanout, logger)
		if err != nil {
			hubCancel()
			return nil, fmt.Errorf("initializing frame streamer: %w", err)
		}
		c.Streamer = streamer
		logger.Debug("Frame streamer initialized.", zap.Float64("fps", cfg.Stream.FPS))
	}

	logger.Info("Service components initialized.")
	return c, nil
}

// RunSession creates a session for the plan, runs it to completion, and
// archives the outcome when a database is configured. Blocks until the
// session reaches a terminal state.
func (c *Components) RunSession(ctx context.Context, projectID, planID string, override *schemas.SessionConfig) (schemas.SessionSnapshot, error) {
	sess, err := c.Engine.CreateSession(ctx, projectID, planID, override)
	if err != nil {
		return schemas.SessionSnapshot{}, err
	}

	if c.Streamer != nil {
		c.Streamer.Follow(sess.ID, sess)
	}

	c.Engine.Run(ctx, sess)
	snap := sess.Snapshot()
	c.Archive(ctx, snap, sess.Events())
	return snap, nil
}

// Archive persists a finished session when a database is configured. Failures
// are logged, not returned; archival must never mask the execution outcome.
func (c *Components) Archive(ctx context.Context, snap schemas.SessionSnapshot, events []schemas.Event) {
	if c.Store == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.Store.ArchiveSession(archiveCtx, snap, events); err != nil {
		c.Logger.Error("Session archival failed.",
			zap.String("session_id", snap.ID), zap.Error(err))
	}
}

// Shutdown tears components down in reverse dependency order.
func (c *Components) Shutdown(ctx context.Context) {
	if c.Streamer != nil {
		if err := c.Streamer.Wait(); err != nil {
			c.Logger.Warn("Frame streamer reported an error on shutdown.", zap.Error(err))
		}
	}
	if c.BrowserManager != nil {
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			c.Logger.Warn("Browser manager shutdown failed.", zap.Error(err))
		}
	}
	if c.hubCancel != nil {
		c.hubCancel()
	}
	if c.RedisSink != nil {
		if err := c.RedisSink.Close(); err != nil {
			c.Logger.Warn("Redis sink close failed.", zap.Error(err))
		}
	}
	if c.dbPool != nil {
		c.dbPool.Close()
	}
	c.Logger.Info("Service components shut down.")
}

// SessionDefaults exposes the configured per-session defaults so callers can
// layer overrides on top of them.
func SessionDefaults(cfg *config.Config) schemas.SessionConfig {
	return sessionDefaults(cfg.Agent)
}

// sessionDefaults projects the agent config section onto the per-session
// execution knobs.
func sessionDefaults(cfg config.AgentConfig) schemas.SessionConfig {
	return schemas.SessionConfig{
		MaxSteps:          cfg.MaxSteps,
		MaxRetriesPerStep: cfg.MaxRetriesPerStep,
		StepTimeout:       cfg.StepTimeout,
		InterStepPause:    cfg.InterStepPause,
		AutoScreenshot:    cfg.AutoScreenshot,
		EnableRecovery:    cfg.EnableRecovery,
		FailFast:          cfg.FailFast,
	}
}
