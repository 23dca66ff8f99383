// Package main 启动应用程序
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/yeisme/bucketdrain/pkg/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
