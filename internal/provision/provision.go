package provision

import (
	"fmt"
	"strings"
	"sync"

	"soteria-unit/internal/models"
	"soteria-unit/internal/store"

	"go.uber.org/zap"
)

// 配网消息前缀 → 字段
const (
	fieldSSID     = "1"
	fieldPassword = "2"
	fieldBlock    = "3"
	fieldRooms    = "4"
)

// Reporter 把配网进度反馈给现场操作员（通常是设备显示屏）
type Reporter interface {
	Show(message string)
}

// Link 近场配网链路：
// 字节分片按到达顺序累积，换行符切出完整消息，剩余字节留在缓冲区。
// 四个字段各到齐一次即完成：写入全新默认文档并触发一次联网。
type Link struct {
	mu         sync.Mutex
	store      *store.Store
	reporter   Reporter
	onComplete func()
	logger     *zap.Logger

	buf    []byte
	fields map[string]string
	done   bool
}

// New 创建配网链路。onComplete 在文档落盘成功后被调用一次（触发联网尝试）。
func New(st *store.Store, reporter Reporter, onComplete func(), logger *zap.Logger) *Link {
	return &Link{
		store:      st,
		reporter:   reporter,
		onComplete: onComplete,
		logger:     logger,
		fields:     make(map[string]string, 4),
	}
}

// Receive 接收一个字节分片。
// 分片可以在任意位置切断消息；只有看到换行符才解析。
func (l *Link) Receive(fragment []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, fragment...)

	for {
		idx := -1
		for i, b := range l.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		message := string(l.buf[:idx])
		l.buf = l.buf[idx+1:]
		l.handleMessage(message)
	}
}

// handleMessage 解析单条 <prefix>;<value> 消息。
// 畸形或未知前缀：反馈给操作员后丢弃，不影响已收字段。
func (l *Link) handleMessage(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}

	prefix, value, ok := strings.Cut(message, ";")
	if !ok {
		l.report(fmt.Sprintf("Invalid provisioning message: %s", message))
		return
	}

	switch prefix {
	case fieldSSID, fieldPassword, fieldBlock, fieldRooms:
		l.fields[prefix] = value
		l.logger.Info("Provisioning field received",
			zap.String("prefix", prefix),
			zap.Int("pending", 4-len(l.fields)),
		)
	default:
		l.report(fmt.Sprintf("Unknown provisioning prefix: %s", prefix))
		return
	}

	if len(l.fields) == 4 && !l.done {
		l.complete()
	}
}

// complete 四字段齐备：全新默认文档 + 四个配网字段，整体替换落盘
func (l *Link) complete() {
	doc := models.Default()
	doc.SSID = l.fields[fieldSSID]
	doc.Password = l.fields[fieldPassword]
	doc.BlockName = l.fields[fieldBlock]
	doc.NumberOfRooms = l.fields[fieldRooms]

	if err := l.store.Reset(doc); err != nil {
		l.logger.Error("Failed to persist provisioned configuration", zap.Error(err))
		l.report("Failed to save configuration")
		return
	}

	l.done = true
	l.logger.Info("Provisioning complete",
		zap.String("ssid", doc.SSID),
		zap.String("block_name", doc.BlockName),
	)
	l.report("Configuration saved")

	if l.onComplete != nil {
		go l.onComplete()
	}
}

// Pending 还缺哪些字段（调试/显示用）。完成后恒为空，直到下次上电。
func (l *Link) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pending []string
	for _, p := range []string{fieldSSID, fieldPassword, fieldBlock, fieldRooms} {
		if _, ok := l.fields[p]; !ok {
			pending = append(pending, p)
		}
	}
	return pending
}

// Done 配网是否已完成
func (l *Link) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Link) report(message string) {
	l.logger.Warn("Provisioning feedback", zap.String("message", message))
	if l.reporter != nil {
		l.reporter.Show(message)
	}
}
