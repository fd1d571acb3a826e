package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置，来源优先级: 环境变量 > yaml 文件 > 默认值
type Config struct {
	App     AppConfig     `yaml:"app"`
	Seckill SeckillConfig `yaml:"seckill"`
	Infra   InfraConfig   `yaml:"infra"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	NodeID   int64  `yaml:"node_id"`
	LogLevel string `yaml:"log_level"`
}

type SeckillConfig struct {
	RequestTimeout time.Duration       `yaml:"request_timeout"`
	GracePeriod    time.Duration       `yaml:"grace_period"`
	Limiter        LimiterConfig       `yaml:"limiter"`
	Eligibility    EligibilityConfig   `yaml:"eligibility"`
	Ledger         LedgerConfig        `yaml:"ledger"`
	Pipeline       PipelineConfig      `yaml:"pipeline"`
	ReleasePolicy  ReleasePolicyConfig `yaml:"release_policy"`
	Maintenance    MaintenanceConfig   `yaml:"maintenance"`
}

type LimiterConfig struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

type EligibilityConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MissWindow  time.Duration `yaml:"miss_window"`
	SoldOutTTL  time.Duration `yaml:"sold_out_ttl"`
	MaxProducts int64         `yaml:"max_products"`
}

type LedgerConfig struct {
	MaxRetries     uint64        `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type PipelineConfig struct {
	QueueSize          int           `yaml:"queue_size"`
	Workers            int           `yaml:"workers"`
	EnqueueTimeout     time.Duration `yaml:"enqueue_timeout"`
	MaterializeTimeout time.Duration `yaml:"materialize_timeout"`
}

type ReleasePolicyConfig struct {
	OnTransientFailure bool `yaml:"on_transient_failure"`
	OnBusinessFailure  bool `yaml:"on_business_failure"`
	OnSoldOut          bool `yaml:"on_sold_out"`
	OnQueueFull        bool `yaml:"on_queue_full"`
}

type MaintenanceConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	WarmUp        []string      `yaml:"warm_up"`
	LockResource  string        `yaml:"lock_resource"`
}

type InfraConfig struct {
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Payment   PaymentConfig   `yaml:"payment"`
}

type StoreConfig struct {
	// Driver 取值 redis | memory
	Driver string `yaml:"driver"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN 通过驱动自身的配置结构拼接，避免手写转义
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

type KafkaConfig struct {
	Brokers            string `yaml:"brokers"`
	OrderEventsTopic   string `yaml:"order_events_topic"`
	ProductEventsTopic string `yaml:"product_events_topic"`
	GroupID            string `yaml:"group_id"`
}

func (c KafkaConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

// InstanceGroupID 为每个实例生成独立的消费组，使每条商品事件都能到达所有实例的缓存
func (c KafkaConfig) InstanceGroupID(host string, nodeID int64) string {
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", c.GroupID, host, nodeID)
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

func (c ZookeeperConfig) ServerList() []string {
	return splitList(c.Servers)
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
}

// PaymentConfig base_url 为空且启用了 Nacos 时，按 service_name 从注册中心发现支付服务
type PaymentConfig struct {
	BaseURL     string        `yaml:"base_url"`
	ServiceName string        `yaml:"service_name"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig 返回单机可运行的默认配置
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: "seckill-service", Port: 8090, NodeID: 1, LogLevel: "info"},
		Seckill: SeckillConfig{
			RequestTimeout: 300 * time.Millisecond,
			GracePeriod:    10 * time.Minute,
			Limiter:        LimiterConfig{Capacity: 1000, RefillPerSecond: 1000},
			Eligibility:    EligibilityConfig{TTL: time.Hour, MissWindow: 2 * time.Second, SoldOutTTL: 2 * time.Second, MaxProducts: 10000},
			Ledger:         LedgerConfig{MaxRetries: 3, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
			Pipeline: PipelineConfig{
				QueueSize:          10000,
				Workers:            16,
				EnqueueTimeout:     50 * time.Millisecond,
				MaterializeTimeout: 5 * time.Second,
			},
			ReleasePolicy: ReleasePolicyConfig{
				OnTransientFailure: true,
				OnBusinessFailure:  false,
				OnSoldOut:          true,
				OnQueueFull:        true,
			},
			Maintenance: MaintenanceConfig{SweepInterval: time.Minute, LockResource: "seckill-sweeper"},
		},
		Infra: InfraConfig{
			Store:     StoreConfig{Driver: "redis"},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			MySQL:     MySQLConfig{Host: "localhost", Port: 3306, User: "root", Database: "seckill"},
			Kafka:     KafkaConfig{Brokers: "localhost:9092", OrderEventsTopic: "seckill-order-events", ProductEventsTopic: "seckill-product-events", GroupID: "seckill-service"},
			Jaeger:    JaegerConfig{SampleRatio: 0.1},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{Addrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Payment:   PaymentConfig{BaseURL: "http://localhost:8095", ServiceName: "payment-service", Timeout: 2 * time.Second},
		},
	}
}

// LoadConfig 读取 yaml 文件 (path 为空时只用默认值)，再叠加环境变量
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	s := c.Seckill
	switch {
	case s.Limiter.Capacity <= 0:
		return fmt.Errorf("config: seckill.limiter.capacity must be positive")
	case s.Limiter.RefillPerSecond < 0:
		return fmt.Errorf("config: seckill.limiter.refill_per_second must not be negative")
	case s.Pipeline.QueueSize <= 0 || s.Pipeline.Workers <= 0:
		return fmt.Errorf("config: seckill.pipeline queue_size and workers must be positive")
	case s.Eligibility.TTL <= 0:
		return fmt.Errorf("config: seckill.eligibility.ttl must be positive")
	case s.Eligibility.SoldOutTTL < 0:
		return fmt.Errorf("config: seckill.eligibility.sold_out_ttl must not be negative")
	case s.Maintenance.SweepInterval <= 0:
		return fmt.Errorf("config: seckill.maintenance.sweep_interval must be positive")
	case c.Infra.Store.Driver != "redis" && c.Infra.Store.Driver != "memory":
		return fmt.Errorf("config: unknown store driver %q", c.Infra.Store.Driver)
	case c.Infra.Payment.BaseURL == "" && (!c.Infra.Nacos.Enabled || c.Infra.Payment.ServiceName == ""):
		return fmt.Errorf("config: infra.payment needs base_url, or nacos with service_name")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.App.Port = getEnvInt("PORT", cfg.App.Port)
	cfg.App.NodeID = int64(getEnvInt("NODE_ID", int(cfg.App.NodeID)))
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.Infra.Store.Driver = getEnv("STORE_DRIVER", cfg.Infra.Store.Driver)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	cfg.Infra.MySQL.Host = getEnv("MYSQL_HOST", cfg.Infra.MySQL.Host)
	cfg.Infra.MySQL.Port = getEnvInt("MYSQL_PORT", cfg.Infra.MySQL.Port)
	cfg.Infra.MySQL.User = getEnv("MYSQL_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Infra.MySQL.Database)
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Zookeeper.Servers = getEnv("ZK_SERVERS", cfg.Infra.Zookeeper.Servers)
	cfg.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.Addrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	cfg.Infra.Nacos.Enabled = getEnv("NACOS_ENABLED", strconv.FormatBool(cfg.Infra.Nacos.Enabled)) == "true"
	cfg.Infra.Payment.BaseURL = getEnv("PAYMENT_BASE_URL", cfg.Infra.Payment.BaseURL)
}

var current atomic.Pointer[Config]

// Init 从 SECKILL_CONFIG 指向的文件加载配置并设为当前配置
func Init() (Config, error) {
	cfg, err := LoadConfig(getEnv("SECKILL_CONFIG", ""))
	if err != nil {
		return cfg, err
	}
	current.Store(&cfg)
	return cfg, nil
}

// GetCurrentConfig 返回 Init 之后的配置；未初始化时返回默认值
func GetCurrentConfig() Config {
	if cfg := current.Load(); cfg != nil {
		return *cfg
	}
	return DefaultConfig()
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
