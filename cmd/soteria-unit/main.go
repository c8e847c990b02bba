package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"soteria-unit/internal/alarm"
	"soteria-unit/internal/cloud"
	"soteria-unit/internal/config"
	"soteria-unit/internal/heartbeat"
	"soteria-unit/internal/httpapi"
	"soteria-unit/internal/logger"
	"soteria-unit/internal/netlink"
	"soteria-unit/internal/orchestrator"
	"soteria-unit/internal/provision"
	"soteria-unit/internal/store"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "soteria-unit")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting soteria-unit")

	// 配置存储：开机先校验主/备一致性
	st := store.New(cfg.Store.Dir, cfg.Store.ConfigFile, cfg.Store.BackupFile, cfg.Store.VersionFile, log)
	if err := st.Verify(); err != nil {
		log.Error("Configuration verify failed at boot", zap.Error(err))
	}
	if space, err := st.FreeSpace(); err == nil {
		log.Info("Storage space",
			zap.Uint64("total_bytes", space.TotalBytes),
			zap.Uint64("free_bytes", space.FreeBytes),
		)
	}

	// 硬件协作方：射频/警笛/显示屏由具体驱动绑定，这里接日志替身
	radio := newDevRadio(log)
	siren := &logSiren{logger: log}
	display := &logDisplay{logger: log}

	// 网络与云端
	link := netlink.New(cfg, st, radio, &logAccessPoint{logger: log}, log)
	cloudClient := cloud.NewClient(cfg.Cloud.BaseURL, time.Duration(cfg.Cloud.Timeout)*time.Second, log)
	alarms := alarm.NewProtocol(st, cloudClient, link.Online, time.Duration(cfg.Alarm.MotherTimeout)*time.Second, log)
	beat := heartbeat.New(st, cloudClient, alarms, link.Online, link.MAC, time.Duration(cfg.Heartbeat.Interval)*time.Second, log)

	// 控制 API（独立 goroutine 上服务；消音钩子由编排器提供）
	var orch *orchestrator.Orchestrator
	api := httpapi.NewAPI(st, alarms, func() {
		if orch != nil {
			orch.Silence()
		}
	}, log)
	router := httpapi.NewRouter(log)
	router.RegisterAPIRoutes(api)
	server := httpapi.NewServer(cfg.HTTP.Addr, router, log)

	// 编排器
	queue := orchestrator.NewButtonQueue(
		time.Duration(cfg.Buttons.DebounceMs)*time.Millisecond,
		cfg.Buttons.QueueSize,
		log,
	)
	orch = orchestrator.New(cfg, st, alarms, link, beat, server, siren, display, queue, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 近场配网：文档落盘后立即尝试联网
	prov := provision.New(st, display, func() {
		if err := link.Connect(ctx); err != nil {
			log.Warn("Connect after provisioning failed", zap.Error(err))
		}
	}, log)
	if cfg.Provision.SourcePath != "" {
		go feedProvisioning(ctx, cfg.Provision.SourcePath, prov, log)
	}

	// 按键输入：GPIO 中断回调注册到 orch.Queue().Press；
	// 无按键硬件的构建可从外部字节源按行注入
	if cfg.Buttons.SourcePath != "" {
		go feedButtons(ctx, cfg.Buttons.SourcePath, orch.Queue(), log)
	}

	// 开机联网（尽力而为，监控循环会持续重试）
	go func() {
		if err := link.Connect(ctx); err != nil {
			log.Warn("Initial connect failed", zap.Error(err))
		}
	}()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := orch.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Orchestrator error", zap.Error(err))
		cancel()
	}

	log.Info("soteria-unit stopped")
}

// feedButtons 从外部字节源按行读按键输入名喂给按键队列（去抖在队列里做）
func feedButtons(ctx context.Context, path string, queue *orchestrator.ButtonQueue, log *zap.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Error("Failed to open button source", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		queue.Press(input)
	}
	if err := scanner.Err(); err != nil {
		log.Error("Button source read failed", zap.Error(err))
	}
}

// feedProvisioning 从外部字节源（FIFO/串口桥）读分片喂给配网链路
func feedProvisioning(ctx context.Context, path string, prov *provision.Link, log *zap.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Error("Failed to open provisioning source", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := f.Read(buf)
		if n > 0 {
			prov.Receive(buf[:n])
		}
		if err == io.EOF {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err != nil {
			log.Error("Provisioning source read failed", zap.Error(err))
			return
		}
	}
}
