// Command copybot mirrors the trades of watched Polymarket addresses. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/xunboo/polymarket-copy-bot/internal/app"
	"github.com/xunboo/polymarket-copy-bot/internal/config"
	"github.com/xunboo/polymarket-copy-bot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "", "write an encrypted keystore for COPYBOT_WALLET_PRIVATE_KEY to this path (password from COPYBOT_WALLET_KEY_PASSWORD) and exit")
	flag.Parse()

	if *encryptKey != "" {
		if err := writeKeystore(*encryptKey); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("keystore written to %s\n", *encryptKey)
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("copy bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		application.Close()
		os.Exit(1)
	}

	logger.Info("copy bot stopped")
}

// writeKeystore seals the private key from the environment into path.
func writeKeystore(path string) error {
	key := os.Getenv("COPYBOT_WALLET_PRIVATE_KEY")
	password := os.Getenv("COPYBOT_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("COPYBOT_WALLET_PRIVATE_KEY and COPYBOT_WALLET_KEY_PASSWORD must be set")
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
