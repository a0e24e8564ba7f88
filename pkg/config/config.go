package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Oracle struct {
		Symbols         []string      `yaml:"symbols"`
		UpdateInterval  time.Duration `yaml:"update_interval"`
		PairRefresh     time.Duration `yaml:"pair_refresh"`
		BatchSize       int           `yaml:"batch_size"`
		BatchDelay      time.Duration `yaml:"batch_delay"`
		FetchTimeout    time.Duration `yaml:"fetch_timeout"`
		HistoryLimit    int           `yaml:"history_limit"`
		OutlierStdDevs  float64       `yaml:"outlier_std_devs"`
		TightSpreadFrac float64       `yaml:"tight_spread_frac"`
	} `yaml:"oracle"`
	Consensus struct {
		MinNodes              int     `yaml:"min_nodes"`
		VerificationThreshold float64 `yaml:"verification_threshold"`
		MinStake              float64 `yaml:"min_stake"`
		SlashThreshold        float64 `yaml:"slash_threshold"`
		SlashFraction         float64 `yaml:"slash_fraction"`
		MaxPriceDeviation     float64 `yaml:"max_price_deviation"`
	} `yaml:"consensus"`
	Staking struct {
		Enabled           bool          `yaml:"enabled"`
		ScanInterval      time.Duration `yaml:"scan_interval"`
		NodeTimeout       time.Duration `yaml:"node_timeout"`
		Threshold         float64       `yaml:"threshold"`
		FeeReserve        float64       `yaml:"fee_reserve"`
		CompoundEnabled   bool          `yaml:"compound_enabled"`
		CompoundThreshold float64       `yaml:"compound_threshold"`
		UnstakeEnabled    bool          `yaml:"unstake_enabled"`
		MinAPY            float64       `yaml:"min_apy"`
		MaxStakeDuration  time.Duration `yaml:"max_stake_duration"`
		DefaultPool       string        `yaml:"default_pool"`
		RewardRate        float64       `yaml:"reward_rate"`
	} `yaml:"staking"`
	Registry struct {
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		HealthInterval   time.Duration `yaml:"health_interval"`
		OnlineWindow     time.Duration `yaml:"online_window"`
		ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	} `yaml:"registry"`
	Settlement struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"settlement"`
	Sources struct {
		CoinGecko struct {
			Enabled bool    `yaml:"enabled"`
			BaseURL string  `yaml:"base_url"`
			APIKey  string  `yaml:"api_key"`
			MaxRPS  float64 `yaml:"max_rps"`
		} `yaml:"coingecko"`
		Binance struct {
			Enabled bool    `yaml:"enabled"`
			BaseURL string  `yaml:"base_url"`
			MaxRPS  float64 `yaml:"max_rps"`
		} `yaml:"binance"`
		Coinbase struct {
			Enabled bool    `yaml:"enabled"`
			BaseURL string  `yaml:"base_url"`
			MaxRPS  float64 `yaml:"max_rps"`
		} `yaml:"coinbase"`
		ExchangeWS struct {
			Enabled        bool          `yaml:"enabled"`
			URL            string        `yaml:"url"`
			Symbols        []string      `yaml:"symbols"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay"`
			PingInterval   time.Duration `yaml:"ping_interval"`
			StaleAfter     time.Duration `yaml:"stale_after"`
		} `yaml:"exchange_ws"`
	} `yaml:"sources"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		PriceTopic     string   `yaml:"price_topic"`
		ConsensusTopic string   `yaml:"consensus_topic"`
		SubmitTopic    string   `yaml:"submit_topic"`
		LogsTopic      string   `yaml:"logs_topic"`
		RequiredAcks   int      `yaml:"required_acks"`
		Compression    string   `yaml:"compression"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

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
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Oracle.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		c.Sources.CoinGecko.APIKey = v
	}
	if v := os.Getenv("SETTLEMENT_URL"); v != "" {
		c.Settlement.BaseURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Oracle.UpdateInterval == 0 {
		c.Oracle.UpdateInterval = 30 * time.Second
	}
	if c.Oracle.PairRefresh == 0 {
		c.Oracle.PairRefresh = 5 * time.Minute
	}
	if c.Oracle.BatchSize == 0 {
		c.Oracle.BatchSize = 10
	}
	if c.Oracle.BatchDelay == 0 {
		c.Oracle.BatchDelay = 500 * time.Millisecond
	}
	if c.Oracle.FetchTimeout == 0 {
		c.Oracle.FetchTimeout = 10 * time.Second
	}
	if c.Oracle.HistoryLimit == 0 {
		c.Oracle.HistoryLimit = 10000
	}
	if c.Oracle.OutlierStdDevs == 0 {
		c.Oracle.OutlierStdDevs = 2
	}
	if c.Oracle.TightSpreadFrac == 0 {
		c.Oracle.TightSpreadFrac = 0.01
	}
	if c.Consensus.MinNodes == 0 {
		c.Consensus.MinNodes = 3
	}
	if c.Consensus.VerificationThreshold == 0 {
		c.Consensus.VerificationThreshold = 0.51
	}
	if c.Consensus.MinStake == 0 {
		c.Consensus.MinStake = 0.1
	}
	if c.Consensus.SlashThreshold == 0 {
		c.Consensus.SlashThreshold = 0.1
	}
	if c.Consensus.SlashFraction == 0 {
		c.Consensus.SlashFraction = 0.1
	}
	if c.Consensus.MaxPriceDeviation == 0 {
		c.Consensus.MaxPriceDeviation = 0.05
	}
	if c.Staking.ScanInterval == 0 {
		c.Staking.ScanInterval = 5 * time.Minute
	}
	if c.Staking.NodeTimeout == 0 {
		c.Staking.NodeTimeout = 30 * time.Second
	}
	if c.Staking.Threshold == 0 {
		c.Staking.Threshold = 0.1
	}
	if c.Staking.FeeReserve == 0 {
		c.Staking.FeeReserve = 0.01
	}
	if c.Staking.CompoundThreshold == 0 {
		c.Staking.CompoundThreshold = 0.01
	}
	if c.Staking.MinAPY == 0 {
		c.Staking.MinAPY = 0.03
	}
	if c.Staking.DefaultPool == "" {
		c.Staking.DefaultPool = "marinade"
	}
	if c.Staking.RewardRate == 0 {
		c.Staking.RewardRate = 0.05
	}
	if c.Registry.SnapshotInterval == 0 {
		c.Registry.SnapshotInterval = time.Minute
	}
	if c.Registry.HealthInterval == 0 {
		c.Registry.HealthInterval = time.Minute
	}
	if c.Registry.OnlineWindow == 0 {
		c.Registry.OnlineWindow = 5 * time.Minute
	}
	if c.Registry.ProbeTimeout == 0 {
		c.Registry.ProbeTimeout = 3 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Oracle.Symbols) == 0 {
		return fmt.Errorf("oracle.symbols cannot be empty")
	}
	if c.Consensus.VerificationThreshold <= 0 || c.Consensus.VerificationThreshold > 1 {
		return fmt.Errorf("consensus.verification_threshold must be in (0,1], got %v", c.Consensus.VerificationThreshold)
	}
	if c.Consensus.MinNodes < 1 {
		return fmt.Errorf("consensus.min_nodes must be >= 1")
	}
	if c.Staking.Enabled && c.Settlement.BaseURL == "" {
		return fmt.Errorf("settlement.base_url is required when staking is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
