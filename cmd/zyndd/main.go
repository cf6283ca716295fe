package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// main 是 zyndd 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "zyndd 运行失败: %v\n", err)
		stop()
		os.Exit(1)
	}
}
