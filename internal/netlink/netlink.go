package netlink

import (
	"context"
	"errors"
	"time"

	"soteria-unit/internal/config"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"go.uber.org/zap"
)

// Radio 站点模式 Wi-Fi 硬件抽象（驱动细节不在本层）
type Radio interface {
	// SetActive 打开/关闭射频
	SetActive(on bool)
	// Associate 发起关联（非阻塞，结果通过 Associated 轮询）
	Associate(ssid, password string) error
	// Associated 当前是否已关联
	Associated() bool
	// IP 已关联时的站点地址，否则为空
	IP() string
	// MAC 射频 MAC 地址
	MAC() string
}

// AccessPoint 本地配网热点的回退通道（页面渲染不在本层）。
// 未配网或重连进入冷却时由监控循环拉起，关联成功后关闭。
type AccessPoint interface {
	Start(ctx context.Context) (string, error) // 返回 AP 地址
	Stop()
}

var (
	// ErrNoCredentials 文档中没有 ssid/password
	ErrNoCredentials = errors.New("wifi credentials missing in configuration")
	// ErrConnectTimeout 关联在限定时间内未完成
	ErrConnectTimeout = errors.New("wifi connect timed out")
)

// Link 站点连接管理：限时连接 + 后台监控（失败计数、冷却）
type Link struct {
	store  *store.Store
	radio  Radio
	ap     AccessPoint
	logger *zap.Logger

	monitorInterval time.Duration
	connectTimeout  time.Duration
	connectPoll     time.Duration
	maxFailures     int
	cooldown        time.Duration

	failures int  // 连续重连失败计数，只被监控循环访问
	apActive bool // 配网热点是否已拉起，只被监控循环访问
}

// New 创建连接管理器。ap 可为 nil（无热点硬件的构建）。
func New(cfg *config.Config, st *store.Store, radio Radio, ap AccessPoint, logger *zap.Logger) *Link {
	return &Link{
		store:           st,
		radio:           radio,
		ap:              ap,
		logger:          logger,
		monitorInterval: time.Duration(cfg.Network.MonitorInterval) * time.Second,
		connectTimeout:  time.Duration(cfg.Network.ConnectTimeout) * time.Second,
		connectPoll:     time.Duration(cfg.Network.ConnectPoll) * time.Second,
		maxFailures:     cfg.Network.MaxFailures,
		cooldown:        time.Duration(cfg.Network.Cooldown) * time.Second,
	}
}

// Online 当前是否在线
func (l *Link) Online() bool {
	return l.radio.Associated()
}

// MAC 射频 MAC 地址（心跳载荷使用）
func (l *Link) MAC() string {
	return l.radio.MAC()
}

// Connect 限时连接：
// 已关联则直接成功；否则重置射频、发起关联，按固定间隔轮询直到超时。
// 成功时把获得的地址写入 ip_address（save→verify→rollback），超时不改配置。
func (l *Link) Connect(ctx context.Context) error {
	doc := l.store.Load()
	if doc.SSID == "" || doc.Password == "" {
		return ErrNoCredentials
	}

	if l.radio.Associated() {
		return nil
	}

	l.logger.Info("Connecting to Wi-Fi", zap.String("ssid", doc.SSID))
	l.radio.SetActive(false)
	l.radio.SetActive(true)
	if err := l.radio.Associate(doc.SSID, doc.Password); err != nil {
		l.logger.Warn("Failed to start association", zap.Error(err))
	}

	deadline := time.Now().Add(l.connectTimeout)
	for time.Now().Before(deadline) {
		if l.radio.Associated() {
			ip := l.radio.IP()
			if err := l.store.Update(func(doc *models.Document) {
				doc.IPAddress = ip
			}); err != nil {
				l.logger.Error("Failed to persist IP address", zap.Error(err))
			}
			l.logger.Info("Wi-Fi connected", zap.String("ip", ip))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.connectPoll):
		}
	}

	l.logger.Warn("Wi-Fi connect timed out", zap.String("ssid", doc.SSID))
	return ErrConnectTimeout
}

// Monitor 后台监控循环，设备生命周期内常驻：
// 每个周期检查关联状态；掉线时清空 ip_address、重置射频并限时重连。
// 连续重连超时达到阈值后进入冷却，冷却结束清零计数；任何一次成功也清零。
func (l *Link) Monitor(ctx context.Context) error {
	l.logger.Info("Wi-Fi monitor started",
		zap.Duration("interval", l.monitorInterval),
		zap.Int("max_failures", l.maxFailures),
	)

	ticker := time.NewTicker(l.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Wi-Fi monitor stopped")
			return nil
		case <-ticker.C:
		}

		if l.monitorCycle(ctx) {
			// AP 长时间不在：冷却避免射频空转耗电
			l.logger.Warn("Max reconnect failures reached, cooling down",
				zap.Duration("cooldown", l.cooldown),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.cooldown):
			}
			l.failures = 0
		}
	}
}

// monitorCycle 执行一次监控检查，返回是否应进入冷却。
// 热点生命周期也在这里管理：未配网或达到失败阈值时拉起，关联成功后关闭。
func (l *Link) monitorCycle(ctx context.Context) bool {
	if l.radio.Associated() {
		l.failures = 0
		l.stopAccessPoint()
		return false
	}

	doc := l.store.Load()
	if doc.SSID == "" || doc.Password == "" {
		// 尚未配网：不算失败，拉起热点等现场配置
		l.logger.Debug("No Wi-Fi credentials yet, skipping reconnect")
		l.startAccessPoint(ctx)
		return false
	}

	l.logger.Warn("Wi-Fi connection lost, reconnecting")
	if err := l.store.Update(func(doc *models.Document) {
		doc.IPAddress = ""
	}); err != nil {
		l.logger.Error("Failed to clear IP address", zap.Error(err))
	}

	l.radio.SetActive(false)
	l.radio.SetActive(true)

	if err := l.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		l.failures++
		l.logger.Warn("Reconnect failed",
			zap.Int("failure_count", l.failures),
			zap.Error(err),
		)
		if l.failures >= l.maxFailures {
			// 冷却期间开放本地配置通道
			l.startAccessPoint(ctx)
			return true
		}
		return false
	}

	l.failures = 0
	l.stopAccessPoint()
	return false
}

// startAccessPoint 拉起配网热点（幂等；无热点硬件时为空操作）
func (l *Link) startAccessPoint(ctx context.Context) {
	if l.ap == nil || l.apActive {
		return
	}
	addr, err := l.ap.Start(ctx)
	if err != nil {
		l.logger.Error("Failed to start access point", zap.Error(err))
		return
	}
	l.apActive = true
	l.logger.Info("Access point started for local configuration", zap.String("addr", addr))
}

// stopAccessPoint 关闭配网热点（幂等）
func (l *Link) stopAccessPoint() {
	if l.ap == nil || !l.apActive {
		return
	}
	l.ap.Stop()
	l.apActive = false
	l.logger.Info("Access point stopped")
}
