package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"soteria-unit/internal/alarm"
	"soteria-unit/internal/cloud"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"go.uber.org/zap"
)

// Runner 周期性云端心跳：
// 上报设备元数据，顺带完成两件事——
// 母机地址的自动发现（200 应答体即地址），以及报警积压的机会性云同步。
type Runner struct {
	store    *store.Store
	cloud    *cloud.Client
	alarms   *alarm.Protocol
	online   func() bool
	mac      func() string
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// New 创建心跳任务
func New(st *store.Store, cloudClient *cloud.Client, alarms *alarm.Protocol, online func() bool, mac func() string, interval time.Duration, logger *zap.Logger) *Runner {
	return &Runner{
		store:    st,
		cloud:    cloudClient,
		alarms:   alarms,
		online:   online,
		mac:      mac,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run 心跳循环（启动即执行一次，然后按周期重复）
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Heartbeat started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Heartbeat stopped")
			return nil
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle 执行一个心跳周期。
// 离线直接跳过；失败把报警积压当作比心跳本身更要紧的事，尽力同步一次。
func (r *Runner) Cycle(ctx context.Context) {
	if !r.online() {
		r.logger.Debug("Offline, skipping heartbeat cycle")
		return
	}

	doc := r.store.Load()
	if doc.MachineCode == "" || doc.MachineToken == "" {
		r.logger.Warn("Machine code or token missing, skipping heartbeat")
		return
	}

	req := &cloud.PingRequest{
		IPAddress:       doc.IPAddress,
		MACAddress:      r.mac(),
		RoomCount:       len(doc.RoomLabels()),
		FirmwareVersion: r.store.FirmwareVersion(),
		Mode:            doc.Mode(),
		DeviceTime:      r.now().Format(models.TimeLayout),
	}

	body, err := r.cloud.Ping(ctx, doc.MachineCode, doc.MachineToken, req)
	if err != nil {
		r.logger.Warn("Heartbeat failed", zap.Error(err))
		r.recordPing(fmt.Sprintf("ping failed: %v", err))
		r.syncBacklog(ctx)
		return
	}

	r.recordPing("ping ok")

	if addr := strings.TrimSpace(body); addr != "" && !doc.IsMother {
		r.adoptMotherAddress(doc, addr)
	}

	r.syncBacklog(ctx)
}

// adoptMotherAddress 心跳应答携带的母机地址覆盖本机配置。
// 注意：这是整表覆盖——多地址配置会被收敛成单个发现地址。
func (r *Runner) adoptMotherAddress(doc *models.Document, addr string) {
	if doc.MotherAddresses == addr {
		return
	}
	if len(doc.MotherAddressList()) > 1 {
		r.logger.Warn("Discovered mother address collapses multi-address configuration",
			zap.String("configured", doc.MotherAddresses),
			zap.String("discovered", addr),
		)
	}
	if err := r.store.Update(func(doc *models.Document) {
		doc.MotherAddresses = addr
	}); err != nil {
		r.logger.Error("Failed to adopt discovered mother address", zap.Error(err))
		return
	}
	r.logger.Info("Mother address updated from heartbeat", zap.String("address", addr))
}

// recordPing 每个结果都更新 last_ping（带回滚保护）
func (r *Runner) recordPing(status string) {
	stamp := fmt.Sprintf("%s at %s", status, r.now().Format(models.TimeLayout))
	if err := r.store.Update(func(doc *models.Document) {
		doc.LastPing = stamp
	}); err != nil {
		r.logger.Error("Failed to record ping status", zap.Error(err))
	}
}

func (r *Runner) syncBacklog(ctx context.Context) {
	if err := r.alarms.SyncToCloud(ctx); err != nil {
		r.logger.Warn("Backlog sync failed, will retry next cycle", zap.Error(err))
	}
}
