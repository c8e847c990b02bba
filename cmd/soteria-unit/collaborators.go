package main

import (
	"context"

	"go.uber.org/zap"
)

// 硬件协作方的日志替身：射频/警笛/显示屏驱动在目标板构建中替换这些实现。

// devRadio 无真实射频时的替身：Associate 即视为关联成功
type devRadio struct {
	associated bool
	ssid       string
	logger     *zap.Logger
}

func newDevRadio(logger *zap.Logger) *devRadio {
	return &devRadio{logger: logger}
}

func (r *devRadio) SetActive(on bool) {
	if !on {
		r.associated = false
	}
	r.logger.Debug("Radio active state changed", zap.Bool("on", on))
}

func (r *devRadio) Associate(ssid, password string) error {
	r.ssid = ssid
	r.associated = true
	r.logger.Info("Radio associated", zap.String("ssid", ssid))
	return nil
}

func (r *devRadio) Associated() bool {
	return r.associated
}

func (r *devRadio) IP() string {
	if !r.associated {
		return ""
	}
	return "127.0.0.1"
}

func (r *devRadio) MAC() string {
	return "02:00:00:00:00:01"
}

// logAccessPoint 配网热点替身：目标板构建换成真实 softAP 驱动
type logAccessPoint struct {
	logger *zap.Logger
}

func (a *logAccessPoint) Start(ctx context.Context) (string, error) {
	a.logger.Info("Access point up", zap.String("addr", "192.168.4.1"))
	return "192.168.4.1", nil
}

func (a *logAccessPoint) Stop() {
	a.logger.Info("Access point down")
}

type logSiren struct {
	logger *zap.Logger
}

func (s *logSiren) On()  { s.logger.Info("Siren on") }
func (s *logSiren) Off() { s.logger.Info("Siren off") }

type logDisplay struct {
	logger *zap.Logger
}

func (d *logDisplay) Show(message string) {
	d.logger.Info("Display", zap.String("message", message))
}

func (d *logDisplay) ShowDefault() {
	d.Show("Soteria ready")
}
