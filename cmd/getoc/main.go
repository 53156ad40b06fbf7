// Package main provides the getoc command line tool, which finds and downloads
// ocean color satellite images matching points of interest.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
