package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ButtonEvent 一次被接受的按键
type ButtonEvent struct {
	Input string
	At    time.Time
}

// ButtonQueue 多生产者/单消费者按键队列。
// 生产者是按键中断回调：只做去抖和非阻塞入队，绝不碰配置文档。
// 队满丢弃（按键可以重按，丢事件好过卡中断）。
type ButtonQueue struct {
	mu       sync.Mutex
	last     map[string]time.Time
	debounce time.Duration
	events   chan ButtonEvent
	now      func() time.Time
	logger   *zap.Logger
}

// NewButtonQueue 创建按键队列
func NewButtonQueue(debounce time.Duration, capacity int, logger *zap.Logger) *ButtonQueue {
	return &ButtonQueue{
		last:     make(map[string]time.Time),
		debounce: debounce,
		events:   make(chan ButtonEvent, capacity),
		now:      time.Now,
		logger:   logger,
	}
}

// Press 按键回调入口。去抖窗口内的重复按压被吞掉；返回事件是否入队。
func (q *ButtonQueue) Press(input string) bool {
	q.mu.Lock()
	now := q.now()
	if prev, ok := q.last[input]; ok && now.Sub(prev) < q.debounce {
		q.mu.Unlock()
		return false
	}
	q.last[input] = now
	q.mu.Unlock()

	select {
	case q.events <- ButtonEvent{Input: input, At: now}:
		return true
	default:
		q.logger.Warn("Button queue full, event dropped", zap.String("input", input))
		return false
	}
}

// Events 消费端通道
func (q *ButtonQueue) Events() <-chan ButtonEvent {
	return q.events
}
