package alarm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"soteria-unit/internal/cloud"
	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// motherAlarmRequest 子机 → 母机的报警载荷
type motherAlarmRequest struct {
	BlockName string `json:"block_name"`
	Room      string `json:"room"`
	Date      string `json:"date"`
	Reference string `json:"reference"`
	Mode      string `json:"mode"`
}

// motherAlarmResponse 母机应答（machine_code 用于记录哪个站点接收了报警）
type motherAlarmResponse struct {
	MachineCode string `json:"machine_code"`
}

// Protocol 报警分发协议：
// 子机侧负责 组装 → 母机扇出 → 记录 → 云端升级，母机侧负责接收入账。
type Protocol struct {
	store   *store.Store
	cloud   *cloud.Client
	mothers *resty.Client
	online  func() bool
	now     func() time.Time
	newRef  func() string
	logger  *zap.Logger
}

// NewProtocol 创建报警协议
func NewProtocol(st *store.Store, cloudClient *cloud.Client, online func() bool, motherTimeout time.Duration, logger *zap.Logger) *Protocol {
	mothers := resty.New().
		SetTimeout(motherTimeout).
		SetRetryCount(0). // 每个地址只发一次，最终一致性靠心跳驱动的云同步
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Protocol{
		store:   st,
		cloud:   cloudClient,
		mothers: mothers,
		online:  online,
		now:     time.Now,
		newRef:  models.NewReference,
		logger:  logger,
	}
}

// Trigger 子机物理按键触发的完整状态机：
//  1. 组装：新 reference、当前模式和时间戳；
//  2. 扇出：对每个母机地址发一次 HTTP PUT，200 应答解析 machine_code；
//  3. 记录：经回滚保护的保存追加到 last_alarm，is_sent = 至少一个地址成功；
//  4. 升级：在线时立刻尝试云同步，不等下一个心跳。
func (p *Protocol) Trigger(ctx context.Context, room string) (*models.AlarmEvent, error) {
	doc := p.store.Load()

	event := models.AlarmEvent{
		Room:              room,
		Timestamp:         p.now().Format(models.TimeLayout),
		Reference:         p.freshReference(doc),
		Mode:              doc.Mode(),
		SuccessfulMothers: []string{},
	}

	req := &motherAlarmRequest{
		BlockName: doc.BlockName,
		Room:      room,
		Date:      event.Timestamp,
		Reference: event.Reference,
		Mode:      event.Mode,
	}

	for _, addr := range doc.MotherAddressList() {
		code, err := p.notifyMother(ctx, addr, req)
		if err != nil {
			// 非 200/超时/拒连都按该地址失败处理，协议层不再暴露
			p.logger.Warn("Failed to notify mother station",
				zap.String("address", addr),
				zap.String("reference", event.Reference),
				zap.Error(err),
			)
			continue
		}
		event.SuccessfulMothers = append(event.SuccessfulMothers, code)
	}
	event.IsSent = len(event.SuccessfulMothers) > 0

	if err := p.store.Update(func(doc *models.Document) {
		doc.LastAlarm = append(doc.LastAlarm, event)
	}); err != nil {
		return nil, fmt.Errorf("failed to record alarm: %w", err)
	}

	p.logger.Info("Alarm recorded",
		zap.String("room", room),
		zap.String("reference", event.Reference),
		zap.Bool("is_sent", event.IsSent),
		zap.Int("mothers_reached", len(event.SuccessfulMothers)),
	)

	if p.online != nil && p.online() {
		if err := p.SyncToCloud(ctx); err != nil {
			p.logger.Warn("Immediate cloud sync failed, heartbeat will retry", zap.Error(err))
		}
	}

	return &event, nil
}

// freshReference 生成在未同步积压内唯一的 reference（撞上已有记录就重新生成）
func (p *Protocol) freshReference(doc *models.Document) string {
	for {
		ref := p.newRef()
		taken := false
		for _, a := range doc.LastAlarm {
			if !a.Synced && a.Reference == ref {
				taken = true
				break
			}
		}
		if !taken {
			return ref
		}
	}
}

// notifyMother 单次（无重试）推送到一个母机地址
func (p *Protocol) notifyMother(ctx context.Context, addr string, req *motherAlarmRequest) (string, error) {
	var out motherAlarmResponse
	resp, err := p.mothers.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Put(fmt.Sprintf("http://%s/api/mother/alarm", addr))
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("mother rejected alarm: status %d", resp.StatusCode())
	}
	return out.MachineCode, nil
}

// SyncToCloud 云端批量同步（仅子机）：
// 选出所有 synced=false 的记录，布尔值按字符串编码上报；
// 云端 200 应答是已入账 reference 列表，命中的记录标记 synced=true。
// 标记保存不走回滚保护：失败只记录，下个周期重来。
func (p *Protocol) SyncToCloud(ctx context.Context) error {
	doc := p.store.Load()
	if doc.IsMother {
		return nil
	}

	var batch []cloud.EmergencyRecord
	for _, a := range doc.LastAlarm {
		if a.Synced {
			continue
		}
		batch = append(batch, cloud.EmergencyRecord{
			RoomName:  a.Room,
			AlarmTime: a.Timestamp,
			Reference: a.Reference,
			IsSent:    strconv.FormatBool(a.IsSent),
			Mode:      a.Mode,
			Synced:    strconv.FormatBool(a.Synced),
		})
	}
	if len(batch) == 0 {
		p.logger.Debug("No unsynced alarms")
		return nil
	}

	if doc.MachineCode == "" || doc.MachineToken == "" {
		return fmt.Errorf("machine credentials missing in configuration")
	}

	references, err := p.cloud.SyncEmergencies(ctx, doc.MachineCode, doc.MachineToken, batch)
	if err != nil {
		return err
	}

	acked := make(map[string]bool, len(references))
	for _, ref := range references {
		acked[ref] = true
	}

	if err := p.store.Commit(func(doc *models.Document) {
		for i := range doc.LastAlarm {
			if acked[doc.LastAlarm[i].Reference] {
				doc.LastAlarm[i].Synced = true
			}
		}
	}); err != nil {
		p.logger.Error("Failed to record synced references", zap.Error(err))
	}

	p.logger.Info("Alarm backlog synced",
		zap.Int("sent", len(batch)),
		zap.Int("acknowledged", len(references)),
	)
	return nil
}

// IngestMotherAlarm 母机接收子机报警：
// ring 只有非 Maintenance 模式才置位（维护模式只记录，不提醒）。
// 同一 reference 重复送达只入账一次（至少一次送达 + 按 reference 去重）。
func (p *Protocol) IngestMotherAlarm(blockName, room, date, reference, mode string) (string, error) {
	if date == "" {
		date = p.now().Format(models.TimeLayout)
	}
	entry := models.MotherAlarmEntry{
		BlockName: blockName,
		Room:      room,
		Timestamp: date,
		Reference: reference,
		Mode:      mode,
		Ring:      mode != models.ModeMaintenance,
	}

	var machineCode string
	err := p.store.Update(func(doc *models.Document) {
		machineCode = doc.MachineCode
		if reference != "" {
			for _, existing := range doc.MotherAlarms {
				if existing.Reference == reference {
					return
				}
			}
		}
		doc.MotherAlarms = append(doc.MotherAlarms, entry)
	})
	if err != nil {
		return "", fmt.Errorf("failed to record mother alarm: %w", err)
	}

	p.logger.Info("Mother alarm ingested",
		zap.String("block_name", blockName),
		zap.String("room", room),
		zap.Bool("ring", entry.Ring),
	)
	return machineCode, nil
}

// ResetRings 清掉所有 ring 标志；条目保留，完整清单只有恢复出厂才清空
func (p *Protocol) ResetRings() error {
	return p.store.Update(func(doc *models.Document) {
		for i := range doc.MotherAlarms {
			doc.MotherAlarms[i].Ring = false
		}
	})
}
