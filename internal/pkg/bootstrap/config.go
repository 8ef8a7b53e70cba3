// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是整个服务的配置根。
// 通过 CONFIG_PATH 环境变量指定 YAML 文件路径，未指定时使用默认值启动。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	ServiceName string `yaml:"serviceName"`
	Port        int    `yaml:"port"`

	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Reconcile ReconcileConfig `yaml:"reconcile"`

	// Gateways 是支付网关编码到共享密钥的映射，回调验签时使用。
	Gateways map[string]GatewayConfig `yaml:"gateways"`

	// Providers 是履约供应商的静态配置，组装根据此构建 ProviderClient 实例。
	Providers []ProviderConfig `yaml:"providers"`
}

type DispatchConfig struct {
	// CallTimeout 是单次供应商调用的超时上限。
	CallTimeout time.Duration `yaml:"callTimeout"`
	// InterCallDelay 是同一订单相邻两次供应商调用之间的固定间隔。
	InterCallDelay time.Duration `yaml:"interCallDelay"`
}

type ReconcileConfig struct {
	// SweepInterval 是对账扫描的周期。
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// MinPollInterval 是订单派发完成后到首次被扫描之间的最短间隔。
	MinPollInterval time.Duration `yaml:"minPollInterval"`
	// MaxProcessingAge 超过该时长仍未全部终态的订单，未决单元按失败归约。
	// 零值表示不启用。
	MaxProcessingAge time.Duration `yaml:"maxProcessingAge"`
	// BatchSize 是单次扫描最多处理的订单数。
	BatchSize int `yaml:"batchSize"`
}

type GatewayConfig struct {
	Secret string `yaml:"secret"`
}

type ProviderConfig struct {
	Code   string `yaml:"code"`
	APIURL string `yaml:"apiUrl"`
	APIKey string `yaml:"apiKey"`
	// Mode 取值 per_call 或 quantity_native。
	Mode string `yaml:"mode"`
}

type InfraConfig struct {
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers string `yaml:"brokers"`
	} `yaml:"kafka"`
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Zookeeper struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"zookeeper"`
	Nacos struct {
		ServerAddrs string `yaml:"serverAddrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

// GetCurrentConfig 返回已加载的全局配置；首次调用时完成加载。
func GetCurrentConfig() *Config {
	configOnce.Do(func() {
		cfg, err := loadConfig(os.Getenv("CONFIG_PATH"))
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
		currentConfig = cfg
	})
	return currentConfig
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.ServiceName = "fulfillment-service"
	cfg.App.Port = 8084
	cfg.App.Dispatch.CallTimeout = 10 * time.Second
	cfg.App.Dispatch.InterCallDelay = 500 * time.Millisecond
	cfg.App.Reconcile.SweepInterval = 30 * time.Second
	cfg.App.Reconcile.MinPollInterval = time.Minute
	cfg.App.Reconcile.BatchSize = 100
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/fulcrum?charset=utf8mb4&parseTime=True&loc=Local")
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", "localhost:6379")
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Zookeeper.Addrs = getEnv("ZOOKEEPER_ADDRS", "localhost:2181")
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", "localhost:8848")
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", "")
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", "DEFAULT_GROUP")
	return cfg
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
