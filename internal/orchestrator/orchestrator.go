package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"soteria-unit/internal/alarm"
	"soteria-unit/internal/config"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"go.uber.org/zap"
)

// SharedButton 公共按键输入名（确认/查看连接）；其余输入名即房间标签
const SharedButton = "shared"

// 维护模式报警自动消音延迟
const maintenanceSilence = 2 * time.Second

// Network 连接管理（由 netlink.Link 实现）
type Network interface {
	Monitor(ctx context.Context) error
	Online() bool
}

// Heartbeat 心跳任务（由 heartbeat.Runner 实现）
type Heartbeat interface {
	Run(ctx context.Context) error
}

// APIServer 控制 API 服务（由 httpapi.Server 实现）
type APIServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Siren 警笛（硬件协作方）
type Siren interface {
	On()
	Off()
}

// Display 显示屏（硬件协作方）
type Display interface {
	Show(message string)
	ShowDefault()
}

// Orchestrator 设备主循环：
// 启动网络监控、心跳、控制 API 和（母机）响铃轮询，
// 消费按键队列并分发到报警触发/消音/查看连接。
type Orchestrator struct {
	store   *store.Store
	alarms  *alarm.Protocol
	network Network
	beat    Heartbeat
	server  APIServer
	siren   Siren
	display Display
	queue   *ButtonQueue
	logger  *zap.Logger

	ringPoll    time.Duration
	alarmActive atomic.Bool
	ringing     bool // 仅响铃轮询 goroutine 访问
}

// New 创建编排器
func New(cfg *config.Config, st *store.Store, alarms *alarm.Protocol, network Network, beat Heartbeat, server APIServer, siren Siren, display Display, queue *ButtonQueue, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		alarms:   alarms,
		network:  network,
		beat:     beat,
		server:   server,
		siren:    siren,
		display:  display,
		queue:    queue,
		logger:   logger,
		ringPoll: time.Duration(cfg.Buttons.RingPollMs) * time.Millisecond,
	}
}

// Queue 按键队列（中断回调注册用）
func (o *Orchestrator) Queue() *ButtonQueue {
	return o.queue
}

// Run 启动所有后台任务并消费按键事件，直到 ctx 取消
func (o *Orchestrator) Run(ctx context.Context) error {
	o.display.ShowDefault()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.network.Monitor(ctx); err != nil {
			o.logger.Error("Network monitor exited", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.beat.Run(ctx); err != nil {
			o.logger.Error("Heartbeat exited", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.server.Start(); err != nil {
			o.logger.Error("Control API server exited", zap.Error(err))
		}
	}()

	if o.store.Load().IsMother {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.ringLoop(ctx)
		}()
	}

	o.logger.Info("Orchestrator started")

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := o.server.Stop(shutdownCtx); err != nil {
				o.logger.Error("Failed to stop control API server", zap.Error(err))
			}
			cancel()
			wg.Wait()
			o.logger.Info("Orchestrator stopped")
			return nil
		case ev := <-o.queue.Events():
			o.dispatch(ctx, ev.Input)
		}
	}
}

// dispatch 单消费者按键分发
func (o *Orchestrator) dispatch(ctx context.Context, input string) {
	if input == SharedButton {
		if o.alarmActive.Load() {
			o.acknowledge()
		} else {
			o.showConnection()
		}
		return
	}
	o.triggerRoom(ctx, input)
}

// triggerRoom 房间按键：警笛 + 显示 + 协议触发。
// 维护模式照常扇出，但延时后自动消音（演练不打扰整栋楼）。
func (o *Orchestrator) triggerRoom(ctx context.Context, room string) {
	o.alarmActive.Store(true)
	o.siren.On()
	o.display.Show(fmt.Sprintf("ALARM %s", room))

	event, err := o.alarms.Trigger(ctx, room)
	if err != nil {
		o.logger.Error("Alarm trigger failed", zap.String("room", room), zap.Error(err))
		return
	}

	if event.Mode == models.ModeMaintenance {
		time.AfterFunc(maintenanceSilence, func() {
			if o.alarmActive.Load() {
				o.Silence()
			}
		})
	}
}

// acknowledge 报警激活时的公共按键：消音并清掉母机响铃标志
func (o *Orchestrator) acknowledge() {
	if err := o.alarms.ResetRings(); err != nil {
		o.logger.Error("Failed to reset ring flags", zap.Error(err))
	}
	o.Silence()
}

// showConnection 空闲时的公共按键：显示连接状态
func (o *Orchestrator) showConnection() {
	doc := o.store.Load()
	status := "offline"
	if o.network.Online() {
		status = "online"
	}
	o.display.Show(fmt.Sprintf("%s %s %s", status, doc.IPAddress, doc.Mode()))
}

// Silence 消音：关警笛、恢复默认显示。控制 API 的 /api/alarm/off 也走这里。
func (o *Orchestrator) Silence() {
	o.alarmActive.Store(false)
	o.siren.Off()
	o.display.ShowDefault()
	o.logger.Info("Alarm silenced")
}

// ringLoop 母机响铃轮询：任一 ring 标志置位就驱动警笛和显示，
// 标志清空（确认键或控制 API）后停笛并恢复默认显示。
func (o *Orchestrator) ringLoop(ctx context.Context) {
	ticker := time.NewTicker(o.ringPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.ringCycle()
		}
	}
}

func (o *Orchestrator) ringCycle() {
	doc := o.store.Load()

	var active *models.MotherAlarmEntry
	for i := range doc.MotherAlarms {
		if doc.MotherAlarms[i].Ring {
			active = &doc.MotherAlarms[i]
			break
		}
	}

	if active != nil {
		if !o.ringing {
			o.ringing = true
			o.alarmActive.Store(true)
			o.siren.On()
			o.display.Show(fmt.Sprintf("ALARM %s %s", active.BlockName, active.Room))
		}
		return
	}

	if o.ringing {
		o.ringing = false
		o.Silence()
	}
}
