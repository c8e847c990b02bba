package config

import (
	"os"
	"strconv"
)

// Config 设备启动配置（从环境变量加载）
// 注意：这里只有启动参数（路径、端点、周期等）；
// 设备的业务配置文档保存在 store 中，不在这里。
type Config struct {
	Store struct {
		Dir         string // 数据目录（flash 文件系统挂载点）
		ConfigFile  string // 主配置文件名
		BackupFile  string // 备份配置文件名
		VersionFile string // 固件版本标记文件名（由升级机制写入）
	}

	Cloud struct {
		BaseURL string // 云端 API 基地址
		Timeout int    // 出站请求超时（秒）
	}

	HTTP struct {
		Addr string // 控制 API 监听地址
	}

	Network struct {
		MonitorInterval int // 连接监控周期（秒），默认 5
		ConnectTimeout  int // 单次关联超时（秒），默认 15
		ConnectPoll     int // 关联状态轮询间隔（秒），默认 1
		MaxFailures     int // 连续重连失败阈值，默认 2
		Cooldown        int // 达到阈值后的冷却时间（秒），默认 2 小时
	}

	Heartbeat struct {
		Interval int // 心跳周期（秒），默认 120
	}

	Alarm struct {
		MotherTimeout int // 单个母机推送超时（秒）
	}

	Buttons struct {
		DebounceMs int    // 按键去抖窗口（毫秒），默认 500
		QueueSize  int    // 按键事件队列容量
		RingPollMs int    // 母机 ring 轮询间隔（毫秒），默认 500
		SourcePath string // 按行读入按键输入名的来源（如 FIFO）；为空则只由 GPIO 回调注入
	}

	Provision struct {
		SourcePath string // 短距配网字节流来源（如 FIFO）；为空则只由外部协议栈注入
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Store.Dir = getEnv("DATA_DIR", "/data")
	cfg.Store.ConfigFile = getEnv("CONFIG_FILE", "wifi_config.json")
	cfg.Store.BackupFile = getEnv("CONFIG_BACKUP_FILE", "wifi_config.bak.json")
	cfg.Store.VersionFile = getEnv("VERSION_FILE", "version.txt")

	cfg.Cloud.BaseURL = getEnv("CLOUD_BASE_URL", "https://erp.arxcess.com/arxcess-erp-api")
	cfg.Cloud.Timeout = getEnvInt("CLOUD_TIMEOUT", 10)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":80")

	cfg.Network.MonitorInterval = getEnvInt("NET_MONITOR_INTERVAL", 5)
	cfg.Network.ConnectTimeout = getEnvInt("NET_CONNECT_TIMEOUT", 15)
	cfg.Network.ConnectPoll = getEnvInt("NET_CONNECT_POLL", 1)
	cfg.Network.MaxFailures = getEnvInt("NET_MAX_FAILURES", 2)
	cfg.Network.Cooldown = getEnvInt("NET_COOLDOWN", 2*60*60)

	cfg.Heartbeat.Interval = getEnvInt("HEARTBEAT_INTERVAL", 120)

	cfg.Alarm.MotherTimeout = getEnvInt("ALARM_MOTHER_TIMEOUT", 5)

	cfg.Buttons.DebounceMs = getEnvInt("BUTTON_DEBOUNCE_MS", 500)
	cfg.Buttons.QueueSize = getEnvInt("BUTTON_QUEUE_SIZE", 16)
	cfg.Buttons.RingPollMs = getEnvInt("RING_POLL_MS", 500)
	cfg.Buttons.SourcePath = getEnv("BUTTON_SOURCE", "")

	cfg.Provision.SourcePath = getEnv("PROVISION_SOURCE", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
