package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) ExitCode {
	// .env fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("Failed to load .env", "error", err)
		return exitCodeError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.teardown(context.WithoutCancel(ctx))
	if err != nil {
		log := a.log
		if log == nil {
			log = slog.Default()
		}
		log.Error("Command failed", "error", err)
		return exitCodeError
	}
	return exitCodeSuccess
}
