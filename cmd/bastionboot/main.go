package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eniac111/bastionboot/internal/ui"
)

var AppVersion string

const (
	exitReady   = 0
	exitFailed  = 1
	exitPartial = 2
)

// errPartial ends a run whose fleet is only partially ready.
var errPartial = errors.New("fleet partially ready")

// reportedError marks an error whose diagnostic was already printed.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitReady
	case errors.Is(err, errPartial):
		return exitPartial
	default:
		return exitFailed
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	var rerr *reportedError
	if err != nil && !errors.Is(err, errPartial) && !errors.As(err, &rerr) {
		fmt.Fprint(os.Stderr, ui.FormatError("bastionboot", err.Error(), "run 'bastionboot --help' for usage"))
	}
	os.Exit(exitCode(err))
}
