package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/DoyleJ11/drawsync/internal/config"
	"github.com/DoyleJ11/drawsync/internal/host"
	"github.com/DoyleJ11/drawsync/internal/judge"
	"github.com/DoyleJ11/drawsync/internal/prompts"
	"github.com/DoyleJ11/drawsync/internal/transport"
	"github.com/DoyleJ11/drawsync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	_ = logger.Sync()
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.RoomCode == "" {
		return errors.New("ROOM_CODE is required")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	room, err := ws.Dial(dialCtx, cfg.RelayURL, ws.DialOptions{
		Code:         cfg.RoomCode,
		Identity:     cfg.HostIdentity,
		Name:         "Game Host",
		Kind:         transport.KindAgent,
		PingInterval: cfg.ConnectTimeout,
		RPCTimeout:   cfg.RPCTimeout,
		Logger:       logger,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("join room %s: %w", cfg.RoomCode, err)
	}
	defer room.Close()

	h := host.New(room, logger, host.Options{
		ParticipantLimit: cfg.ParticipantLimit,
		JudgeInterval:    cfg.JudgeInterval,
		RPCTimeout:       cfg.RPCTimeout,
		Prompts:          prompts.NewGenerator(prompts.Default, nil),
		// No recognizer ships with this binary, so rounds end through
		// host.end_game only.
		Guesser:          judge.Abstain{},
		Referee:          judge.MatchReferee{},
	})

	logger.Info("starting game host agent", zap.String("room", cfg.RoomCode))
	if err := h.Run(ctx); err != nil {
		return err
	}
	logger.Info("host stopped")
	return nil
}
