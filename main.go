package main

//go:generate swag init -g internal/server/docs.go -o docs

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"appmanager/internal/app"
	"appmanager/internal/cli/commands"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	application := app.New()
	if err := application.RunWithContext(ctx, os.Args[1:]); err != nil {
		cancel()
		commands.ExitOnError(err)
	}
}
