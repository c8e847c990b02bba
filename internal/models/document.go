package models

import (
	"strings"
)

// 设备运行模式（由 test_mode 推导）
const (
	ModeProduction  = "Production"
	ModeMaintenance = "Maintenance"
)

// TimeLayout 设备时间戳格式（12 小时制，与云端约定一致）
const TimeLayout = "2006-01-02 03:04:05 PM"

// Document 设备配置文档（单根记录，整体持久化到主/备两个文件）
// 字段为固定 schema：缺失的键按零值处理，未知键忽略。
type Document struct {
	// 身份
	SSID         string `json:"ssid"`
	Password     string `json:"password"`
	MachineCode  string `json:"machine_code"`
	MachineToken string `json:"machine_token"`
	IPAddress    string `json:"ip_address"`

	// 拓扑
	BlockName     string `json:"block_name"`
	CenterName    string `json:"center_name"`
	NumberOfRooms string `json:"number_of_rooms"` // 逗号分隔的房间标签列表
	IsMother      bool   `json:"is_mother"`

	// 角色相关的报警列表
	// 子机：last_alarm；母机：mother_alarms。由 is_mother 门控，二者只有一个生效。
	MotherAddresses string             `json:"mother_addresses"` // 逗号分隔的母机地址
	MotherAlarms    []MotherAlarmEntry `json:"mother_alarms"`
	LastAlarm       []AlarmEvent       `json:"last_alarm"`

	// 运行标志
	TestMode bool   `json:"test_mode"`
	LastPing string `json:"last_ping"`
}

// Default 首次启动/恢复出厂的默认文档（列表字段永远非 nil）
func Default() *Document {
	return &Document{
		MotherAlarms: []MotherAlarmEntry{},
		LastAlarm:    []AlarmEvent{},
	}
}

// Clone 深拷贝（写路径必须保留变更前副本用于回滚）
func (d *Document) Clone() *Document {
	c := *d
	c.MotherAlarms = make([]MotherAlarmEntry, len(d.MotherAlarms))
	copy(c.MotherAlarms, d.MotherAlarms)
	c.LastAlarm = make([]AlarmEvent, len(d.LastAlarm))
	for i, a := range d.LastAlarm {
		c.LastAlarm[i] = a
		c.LastAlarm[i].SuccessfulMothers = append([]string(nil), a.SuccessfulMothers...)
	}
	return &c
}

// Normalize 加载后修复不变量：列表字段不允许为 nil
func (d *Document) Normalize() {
	if d.MotherAlarms == nil {
		d.MotherAlarms = []MotherAlarmEntry{}
	}
	if d.LastAlarm == nil {
		d.LastAlarm = []AlarmEvent{}
	}
}

// Mode 返回设备模式：test_mode=true 为 Maintenance，否则 Production
func (d *Document) Mode() string {
	if d.TestMode {
		return ModeMaintenance
	}
	return ModeProduction
}

// RoomLabels 拆分 number_of_rooms 为有序房间标签列表
func (d *Document) RoomLabels() []string {
	return splitList(d.NumberOfRooms)
}

// MotherAddressList 拆分 mother_addresses 为地址列表
func (d *Document) MotherAddressList() []string {
	return splitList(d.MotherAddresses)
}

func splitList(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
