package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker           string
	ClientID         string
	Username         string
	Password         string
	QoS              byte
	ConnectTimeout   int // 连接超时（秒）
	PublishTimeout   int // 单次发布超时（秒）
	PublishRetries   int // 发布重试次数
	ReconnectWindow  int // 连接丢失后允许的恢复窗口（秒），超过则视为总线故障
}

// Config 报警引擎配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 节点标识（留空时启动用随机 UUID）
	NodeID string

	Alert struct {
		// 主题配置
		Topics struct {
			Telemetry         string // 遥测订阅主题（通配）
			HeartbeatPrefix   string // 心跳主题前缀，后接节点 ID
			HeartbeatFilter   string // 心跳订阅主题（通配）
			WarningPrefix     string // 报警主题前缀，后接 authority
			TestWarningPrefix string // 测试规则报警主题前缀，后接 authority
			BrokenSensor      string // 传感器故障管理员主题
		}

		// 时间参数（秒），来源常量无更强语义，保持可配置
		HeartbeatInterval int // 活跃节点心跳间隔，默认 60
		SilenceThreshold  int // 心跳静默多久后开始竞选，默认 60
		LeaderDelayMinMs  int // 竞选随机延迟下界（毫秒），默认 1000
		LeaderDelayMaxMs  int // 竞选随机延迟上界（毫秒），默认 5000
		Cooldown          int // 同一规则两次报警的最小间隔，默认 180
		PresenceTTL       int // 设备静默视为消失的时长，默认 120
		SweepInterval     int // 过期清理周期，默认 60

		// 数据库访问重试
		StoreRetries   int // 重试次数，默认 3
		StoreBackoffMs int // 固定退避（毫秒），默认 500

		// Redis 快照镜像
		Cache struct {
			RoomKeyPrefix  string // 房间环境快照键前缀
			AlertKeyPrefix string // 规则最近报警键前缀
			TTL            int    // 快照 TTL（秒），默认 300
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "picowatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "picowatch-alert")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.ConnectTimeout = getEnvInt("MQTT_CONNECT_TIMEOUT", 10)
	cfg.MQTT.PublishTimeout = getEnvInt("MQTT_PUBLISH_TIMEOUT", 5)
	cfg.MQTT.PublishRetries = getEnvInt("MQTT_PUBLISH_RETRIES", 3)
	cfg.MQTT.ReconnectWindow = getEnvInt("MQTT_RECONNECT_WINDOW", 60)

	cfg.NodeID = getEnv("NODE_ID", "")

	cfg.Alert.Topics.Telemetry = getEnv("TOPIC_TELEMETRY", "telemetry/#")
	cfg.Alert.Topics.HeartbeatPrefix = "heartbeat/"
	cfg.Alert.Topics.HeartbeatFilter = getEnv("TOPIC_HEARTBEAT", "heartbeat/#")
	cfg.Alert.Topics.WarningPrefix = "warnings/"
	cfg.Alert.Topics.TestWarningPrefix = "test-warnings/"
	cfg.Alert.Topics.BrokenSensor = getEnv("TOPIC_BROKEN_SENSOR", "broken-sensor/admin")

	cfg.Alert.HeartbeatInterval = getEnvInt("HEARTBEAT_INTERVAL", 60)
	cfg.Alert.SilenceThreshold = getEnvInt("SILENCE_THRESHOLD", 60)
	cfg.Alert.LeaderDelayMinMs = getEnvInt("LEADER_DELAY_MIN_MS", 1000)
	cfg.Alert.LeaderDelayMaxMs = getEnvInt("LEADER_DELAY_MAX_MS", 5000)
	cfg.Alert.Cooldown = getEnvInt("ALERT_COOLDOWN", 180)
	cfg.Alert.PresenceTTL = getEnvInt("PRESENCE_TTL", 120)
	cfg.Alert.SweepInterval = getEnvInt("SWEEP_INTERVAL", 60)

	cfg.Alert.StoreRetries = getEnvInt("STORE_RETRIES", 3)
	cfg.Alert.StoreBackoffMs = getEnvInt("STORE_BACKOFF_MS", 500)

	cfg.Alert.Cache.RoomKeyPrefix = getEnv("CACHE_ROOM_PREFIX", "picowatch:room:")
	cfg.Alert.Cache.AlertKeyPrefix = getEnv("CACHE_ALERT_PREFIX", "picowatch:rule:")
	cfg.Alert.Cache.TTL = getEnvInt("CACHE_TTL", 300)

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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
