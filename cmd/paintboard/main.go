// The paintboard server: authenticated clients paint pixels over
// WebSocket, everyone sees the deltas, background workers persist the
// board and the action log to SQLite.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/actionlog"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/auth"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/canvas"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/config"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/hub"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/logging"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/metrics"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pace"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/server"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/snapshot"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/store"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/worker"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		bootstrapLogger := zerolog.New(os.Stderr)
		bootstrapLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pin the SSO public key; rotation requires a restart.
	keyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	key, err := auth.FetchKey(keyCtx, cfg.PubkeyURL)
	if err != nil {
		return err
	}
	logger.Info().Str("url", cfg.PubkeyURL).Msg("public key pinned")

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Init(ctx); err != nil {
		return err
	}

	cv, err := loadCanvas(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	enc, err := snapshot.NewEncoder(cfg.SnapshotZstdLevel)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	deps := server.Deps{
		Canvas:   cv,
		Hub:      hub.New(cfg.BroadcastBuffer, reg),
		Pace:     pace.NewTable(cfg.MinInterval),
		Actions:  actionlog.NewBuffer(),
		Verifier: auth.NewVerifier(key),
		Encoder:  enc,
		Metrics:  reg,
	}

	board := worker.NewBoard(cv, db, cfg.BoardFlush, cfg.ChunkSize, logger, reg)
	actions := worker.NewActions(deps.Actions, db, cfg.ActionFlush, cfg.ChunkSize, logger, reg)

	go board.Run(ctx)
	go actions.Run(ctx)
	go reg.CollectSystem(ctx, cfg.MetricsInterval, logger)

	srv := server.New(cfg, logger, deps)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info().Msg("shut down cleanly")
	return nil
}

// loadCanvas builds the full grid: default-colored everywhere, overlaid
// with whatever the store holds.
func loadCanvas(ctx context.Context, cfg *config.Config, db *store.Store, logger zerolog.Logger) (*canvas.Canvas, error) {
	cv := canvas.New(cfg.Width, cfg.Height, cfg.Default(), time.Now())

	rows, err := db.LoadBoard(ctx)
	if err != nil {
		return nil, err
	}

	loaded := 0
	for _, r := range rows {
		if r.X < 0 || r.X >= cfg.Width || r.Y < 0 || r.Y >= cfg.Height {
			continue // persisted under different dimensions
		}
		color, err := pixel.HexToColor(r.Color)
		if err != nil {
			logger.Warn().Str("color", r.Color).Int("x", r.X).Int("y", r.Y).Msg("skipping unparseable cell")
			continue
		}
		cv.Set(uint16(r.X), uint16(r.Y), canvas.Cell{Color: color, UID: r.UID, Time: r.Time})
		loaded++
	}

	logger.Info().
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("persisted", loaded).
		Msg("canvas loaded")

	return cv, nil
}
