package main

import (
	"log/slog"
	"os"

	"github.com/virtqa/pool-create-check/cmd/pool-create-check/commands"
)

func main() {
	// Initialize structured logger with text format for readability
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
