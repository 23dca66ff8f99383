package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yeisme/bucketdrain/pkg/configs"
	appctx "github.com/yeisme/bucketdrain/pkg/context"
	"github.com/yeisme/bucketdrain/pkg/internal/state"
	"github.com/yeisme/bucketdrain/pkg/internal/storage"
	"github.com/yeisme/bucketdrain/pkg/log"
	"github.com/yeisme/bucketdrain/pkg/metrics"
)

// initApp 加载配置并初始化日志，所有子命令共用.
func initApp() error {
	if err := configs.InitConfig(configPath); err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	if debug {
		configs.GetConfig().Log.Debug = true
	}

	log.Init()

	return metrics.InitMetrics(configs.GetConfig().Metrics)
}

// initRuntime 初始化存储层并打开状态存储，返回携带 Manager 的 ctx.
func initRuntime(ctx context.Context) (context.Context, *state.Store, error) {
	mgr, err := storage.Init(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("init storage: %w", err)
	}

	store, err := state.NewStore(mgr.GetDBClient().GetDB())
	if err != nil {
		return ctx, nil, err
	}

	if configs.GetConfig().Migrate.BatchUpdates {
		store = store.WithBatchUpdates()
	}

	return appctx.WithStorageManager(ctx, mgr), store, nil
}

// confirm 读取 y/N 确认. assumeYes 为 true 时直接通过.
func confirm(in io.Reader, out io.Writer, prompt string, assumeYes bool) bool {
	if assumeYes {
		return true
	}

	fmt.Fprintf(out, "%s [y/N]: ", prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}
