package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// ServicePolicy is the resilience tuning for one external service.
type ServicePolicy struct {
	RetryMaxAttempts   int           `yaml:"retry_max_attempts" default:"3"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay" default:"1s"`
	RetryMultiplier    float64       `yaml:"retry_multiplier" default:"2.0"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay" default:"60s"`
	BreakerThreshold   int           `yaml:"breaker_threshold" default:"5"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" default:"60s"`
	RateCapacity       float64       `yaml:"rate_capacity" default:"5"`
	RateRefillPerSec   float64       `yaml:"rate_refill_per_sec" default:"1"`
	RateMaxWait        time.Duration `yaml:"rate_max_wait" default:"2s"`
}

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		SignalsTopic string   `yaml:"signals_topic" default:"narratrade.signals.scored"`
		CycleTopic   string   `yaml:"cycle_topic" default:"narratrade.cycles"`
		BreakerTopic string   `yaml:"breaker_topic" default:"narratrade.breaker.transitions"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"narratrade-pipeline"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"narratrade"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	SignalFeed struct {
		Enabled        bool          `yaml:"enabled"`
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxRPS         int           `yaml:"max_rps" default:"50"`
		BufferSize     int           `yaml:"buffer_size" default:"1000"`
	} `yaml:"signal_feed"`
	MarketData struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"market_data"`
	Execution struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"execution"`
	Aggregator struct {
		Window       time.Duration `yaml:"window" default:"5m"`
		NoveltyBonus float64       `yaml:"novelty_bonus" default:"1.5"`
		MaxSealed    int           `yaml:"max_sealed_per_asset" default:"288"`
	} `yaml:"aggregator"`
	Prediction struct {
		LabelThreshold  float64 `yaml:"label_threshold" default:"0.005"`
		MinTrainSamples int     `yaml:"min_train_samples" default:"50"`
		FamilySwitchAt  int     `yaml:"family_switch_at" default:"200"`
		MaxSamples      int     `yaml:"max_samples" default:"4000"`
	} `yaml:"prediction"`
	Portfolio struct {
		Owners        []string      `yaml:"owners"`
		Assets        []string      `yaml:"assets"`
		TopN          int           `yaml:"top_n" default:"10"`
		MaxWeight     float64       `yaml:"max_weight" default:"0.30"`
		MinNotional   float64       `yaml:"min_notional_usd" default:"10"`
		Tolerance     float64       `yaml:"tolerance" default:"0.005"`
		Interval      time.Duration `yaml:"rebalance_interval" default:"5m"`
		DeviationBand float64       `yaml:"deviation_band" default:"0.05"`
		AutoStart     bool          `yaml:"auto_start" default:"true"`
	} `yaml:"portfolio"`
	Resilience struct {
		Services map[string]ServicePolicy `yaml:"services"`
	} `yaml:"resilience"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("SIGNAL_FEED_API_KEY"); v != "" {
		c.SignalFeed.APIKey = v
	}
	if v := os.Getenv("MARKET_DATA_API_KEY"); v != "" {
		c.MarketData.APIKey = v
	}
	if v := os.Getenv("EXECUTION_API_KEY"); v != "" {
		c.Execution.APIKey = v
	}
	if v := os.Getenv("ASSETS"); v != "" {
		c.Portfolio.Assets = strings.Split(v, ",")
	}
	if v := os.Getenv("OWNERS"); v != "" {
		c.Portfolio.Owners = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Portfolio.Assets) == 0 {
		return fmt.Errorf("portfolio.assets cannot be empty")
	}
	if len(c.Portfolio.Owners) == 0 {
		return fmt.Errorf("portfolio.owners cannot be empty")
	}
	if c.Execution.BaseURL == "" {
		return fmt.Errorf("execution.base_url is required")
	}
	if c.Portfolio.MaxWeight <= 0 || c.Portfolio.MaxWeight > 1 {
		return fmt.Errorf("portfolio.max_weight must be in (0, 1], got %v", c.Portfolio.MaxWeight)
	}
	if c.Prediction.LabelThreshold <= 0 {
		return fmt.Errorf("prediction.label_threshold must be positive")
	}
	if c.SignalFeed.Enabled && c.SignalFeed.WebSocketURL == "" {
		return fmt.Errorf("signal_feed.websocket_url is required when the feed is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}
