package main

import (
	"log/slog"
	"os"

	"github.com/dwizi/rapport/internal/cli"
	"github.com/dwizi/rapport/internal/config"
)

func main() {
	level := cli.ParseLevel(config.FromEnv().LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
