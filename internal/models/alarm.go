package models

import (
	"crypto/rand"
	"math/big"
)

// AlarmEvent 子机报警事件（last_alarm 列表成员）
// reference 是云端同步的幂等键；synced 只有在云端确认该 reference 后才为 true。
type AlarmEvent struct {
	Room              string   `json:"room"`
	Timestamp         string   `json:"timestamp"`
	Reference         string   `json:"reference"`
	IsSent            bool     `json:"is_sent"`
	Mode              string   `json:"mode"`
	Synced            bool     `json:"synced"`
	SuccessfulMothers []string `json:"successful_mothers"`
}

// MotherAlarmEntry 母机报警条目（mother_alarms 列表成员）
// ring 为活跃提醒标志：母机确认后清零，条目本身保留。
type MotherAlarmEntry struct {
	BlockName string `json:"block_name"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
	Reference string `json:"reference"`
	Mode      string `json:"mode"`
	Ring      bool   `json:"ring"`
}

const referenceChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference 生成报警引用：8~10 位随机字母数字
func NewReference() string {
	length := 8 + randInt(3) // 8, 9 或 10
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = referenceChars[randInt(len(referenceChars))]
	}
	return string(buf)
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand 不可用时退化为固定值，引用仍然合法
		return 0
	}
	return int(v.Int64())
}
