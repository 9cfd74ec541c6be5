package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if cerr := a.close(); cerr != nil {
		fmt.Fprintln(os.Stderr, "failed to close logger:", cerr)
	}
	if err != nil {
		os.Exit(1)
	}
}
