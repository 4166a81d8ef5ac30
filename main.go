package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pan115strm/internal/config"
	"pan115strm/internal/database"
	"pan115strm/internal/mediaserver"
	"pan115strm/internal/pan115"
	"pan115strm/internal/pathmap"
	"pan115strm/internal/server"
	"pan115strm/internal/strm"
	"pan115strm/internal/syncer"
	"pan115strm/pkg/logger"
)

func main() {

	// 1. 加载配置
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic("配置加载失败: " + err.Error())
	}

	// 2. 初始化日志系统
	if err := logger.Setup(cfg.System.LogLevel, cfg.System.LogFile); err != nil {
		panic("日志初始化失败: " + err.Error())
	}

	slog.Info("pan115strm 启动中",
		"listen", cfg.Server.Listen,
		"address", cfg.Server.Address,
		"log_level", cfg.System.LogLevel,
	)

	// 3. 初始化数据库
	db, err := database.Open(cfg.System.DBPath)
	if err != nil {
		slog.Error("无法打开数据库", "err", err, "path", cfg.System.DBPath)
		panic("数据库初始化失败: " + err.Error())
	}
	defer db.Close()

	// 4. 初始化网盘客户端
	client := pan115.NewClient(&pan115.Options{
		Cookies:   cfg.Pan.Cookies,
		UserAgent: cfg.Pan.UserAgent,
	})

	// 5. 装配同步组件
	writer := strm.NewWriter(strm.ParseMediaExts(cfg.Sync.MediaExts))
	mapper := pathmap.ParseRules(cfg.Sync.Paths)

	fullSyncer := syncer.NewFullSyncer(&syncer.FullOptions{
		API:           client,
		DB:            db,
		Writer:        writer,
		Mapper:        mapper,
		ServerAddress: cfg.Server.Address,
		APIToken:      cfg.Server.APIToken,
		RemoveOrphans: cfg.Sync.RemoveOrphans,
		Refresher:     mediaserver.Noop{},
	})

	// 6. 设置优雅退出
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	var isSyncing atomic.Bool

	runFullSync := func(appCtx context.Context) {
		if !isSyncing.CompareAndSwap(false, true) {
			slog.Info("上一轮全量同步尚未结束，跳过本次触发")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer isSyncing.Store(false)

			slog.Info(">>> 开始全量同步")
			if _, err := fullSyncer.Run(appCtx); err != nil {
				if appCtx.Err() != nil {
					slog.Warn("全量同步被中断")
				} else {
					slog.Error("全量同步错误", "error", err)
				}
			}
			slog.Info("<<< 全量同步结束")
		}()
	}

	// 7. 启动 302 跳转服务
	srv := server.New(&server.Options{
		API:      client,
		Listen:   cfg.Server.Listen,
		APIToken: cfg.Server.APIToken,
		App:      cfg.Pan.App,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			slog.Error("302 跳转服务异常退出", "err", err)
			cancel()
		}
	}()

	// 8. 生活事件监控 (独立长生命周期任务，异常退出后冷却重启)
	if cfg.Monitor.Enabled && cfg.Monitor.Paths != "" {
		monitor := syncer.NewLifeMonitor(&syncer.LifeOptions{
			API:           client,
			DB:            db,
			Writer:        writer,
			Mapper:        pathmap.ParseRules(cfg.Monitor.Paths),
			ServerAddress: cfg.Server.Address,
			APIToken:      cfg.Server.APIToken,
			Cooldown:      cfg.Monitor.CooldownDuration,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncer.Supervise(ctx, cfg.Monitor.RestartCooldownDuration, monitor.Run)
		}()
	}

	// 9. 分享同步 (一次性任务)
	if cfg.Share.Enabled {
		shareSyncer := syncer.NewShareSyncer(&syncer.ShareOptions{
			API:           client,
			DB:            db,
			Writer:        writer,
			ServerAddress: cfg.Server.Address,
			APIToken:      cfg.Server.APIToken,
			ShareCode:     cfg.Share.ShareCode,
			ReceiveCode:   cfg.Share.ReceiveCode,
			PanPath:       cfg.Share.PanPath,
			LocalPath:     cfg.Share.LocalPath,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info(">>> 开始分享同步")
			if _, err := shareSyncer.Run(ctx); err != nil {
				slog.Error("分享同步错误", "error", err)
			}
			slog.Info("<<< 分享同步结束")
		}()
	}

	if cfg.Sync.RunOnStart {
		runFullSync(ctx)
	}

	// 主循环：定时全量同步 + 信号处理
	var tickerC <-chan time.Time
	if cfg.Sync.IntervalDuration > 0 {
		ticker := time.NewTicker(cfg.Sync.IntervalDuration)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	for {
		select {
		case <-tickerC:
			runFullSync(ctx)
		case sig := <-sigChan:
			slog.Info("接收到信号，准备优雅退出...", "signal", sig)
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := srv.Stop(shutdownCtx); err != nil {
				slog.Warn("302 跳转服务停止失败", "err", err)
			}
			shutdownCancel()

			wg.Wait()
			slog.Info("所有任务已完成，程序退出")
			return
		case <-ctx.Done():
			slog.Info("主上下文被取消，程序退出")
			wg.Wait()
			return
		}
	}
}
