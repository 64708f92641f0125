package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// relay
	RelayAddr string

	// host agent
	RelayURL         string
	RoomCode         string
	HostIdentity     string
	ConnectTimeout   time.Duration
	RPCTimeout       time.Duration
	JudgeInterval    time.Duration
	ParticipantLimit int

	LogLevel string
	LogDev   bool
}

func Default() Config {
	return Config{
		RelayAddr:        ":8080",
		RelayURL:         "ws://localhost:8080/ws",
		HostIdentity:     "host",
		ConnectTimeout:   15 * time.Second,
		RPCTimeout:       5 * time.Second,
		JudgeInterval:    time.Second,
		ParticipantLimit: 12,
		LogLevel:         "info",
	}
}

// Load reads a .env file from the working directory when one exists, then
// overlays the process environment on the defaults.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	str("RELAY_ADDR", &cfg.RelayAddr)
	str("RELAY_URL", &cfg.RelayURL)
	str("ROOM_CODE", &cfg.RoomCode)
	str("HOST_IDENTITY", &cfg.HostIdentity)
	str("LOG_LEVEL", &cfg.LogLevel)
	dur("CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	dur("RPC_TIMEOUT", &cfg.RPCTimeout)
	dur("JUDGE_INTERVAL", &cfg.JudgeInterval)

	if v, ok := lookup("PARTICIPANT_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("PARTICIPANT_LIMIT: invalid value %q", v))
		} else {
			cfg.ParticipantLimit = n
		}
	}
	if v, ok := lookup("LOG_DEV"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_DEV: invalid value %q", v))
		} else {
			cfg.LogDev = b
		}
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the process logger: JSON in production, console output
// when dev is set.
func NewLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = lvl
	return zc.Build()
}
