package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
//
// 注意：配置对象不做成包级单例，加载后由 main 显式传入各组件构造函数，
// 避免隐式共享可变状态。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Members MembersConfig `mapstructure:"members"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

// LedgerConfig 账务域业务配置
type LedgerConfig struct {
	// 当前会计年度，会员费交易未指定年度时默认归入该年度
	FiscalYear int `mapstructure:"fiscal_year"`
	// 余额序列缓存有效期（秒）
	BalanceCacheTTLSeconds int `mapstructure:"balance_cache_ttl_seconds"`
	// 对账防抖锁有效期（秒），同一台账键在窗口内只触发一次全量对账
	ReconcileDebounceSeconds int `mapstructure:"reconcile_debounce_seconds"`
	// 定时对账巡检间隔（秒）
	ReconcileSweepSeconds int `mapstructure:"reconcile_sweep_seconds"`
	// Outbox 消息最大重试次数
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

// MembersConfig 会员目录服务（外部系统，仅用于补全台账展示字段）
type MembersConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	return config
}
