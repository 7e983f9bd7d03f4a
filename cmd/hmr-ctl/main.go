package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/haidra-org/horde-model-reference/internal/client/commands"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	commands.Version = version
	if err := commands.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
