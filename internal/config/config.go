package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration, loaded once at startup and
// treated as immutable afterwards. The credential seed file is the only
// hot-reloaded input (see internal/auth).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Search    SearchConfig    `mapstructure:"search"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	AdminAddr        string        `mapstructure:"admin_addr"`
	MaxSessions      int           `mapstructure:"max_sessions"`
	ReadLimitBytes   int64         `mapstructure:"read_limit_bytes"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongTimeout      time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	ServerName       string        `mapstructure:"server_name"`
	ServerVendor     string        `mapstructure:"server_vendor"`
	ServerVersion    string        `mapstructure:"server_version"`
	ProtocolVersions []string      `mapstructure:"protocol_versions"`
}

type UpstreamConfig struct {
	Endpoint           string               `mapstructure:"endpoint"`
	Timeout            time.Duration        `mapstructure:"timeout"`
	MaxRetries         int                  `mapstructure:"max_retries"`
	RetryDelay         time.Duration        `mapstructure:"retry_delay"`
	RateLimitPerHour   int                  `mapstructure:"rate_limit_per_hour"`
	ConcurrentRequests int                  `mapstructure:"concurrent_requests"`
	AuthType           string               `mapstructure:"auth_type"`
	APIKey             string               `mapstructure:"api_key"`
	OAuthToken         string               `mapstructure:"oauth_token"`
	CircuitBreaker     CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	MaxRequests      int           `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	Timeout      time.Duration   `mapstructure:"timeout"`
	DefaultLimit int             `mapstructure:"default_limit"`
	Cache        CacheConfig     `mapstructure:"cache"`
	Optimizer    OptimizerConfig `mapstructure:"optimizer"`
}

type CacheConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	TTL            time.Duration `mapstructure:"ttl"`
	MaxSize        int           `mapstructure:"max_size"`
	MinAccessCount int           `mapstructure:"min_access_count"`
}

type OptimizerConfig struct {
	Enabled              bool            `mapstructure:"enabled"`
	MaxResultsPerType    int             `mapstructure:"max_results_per_type"`
	MaxTotalResults      int             `mapstructure:"max_total_results"`
	MaxDescriptionLength int             `mapstructure:"max_description_length"`
	TitleWeight          float64         `mapstructure:"title_weight"`
	DescriptionWeight    float64         `mapstructure:"description_weight"`
	IdentifierWeight     float64         `mapstructure:"identifier_weight"`
	RecencyWeight        float64         `mapstructure:"recency_weight"`
	ExactBoost           float64         `mapstructure:"exact_boost"`
	PartialBoost         float64         `mapstructure:"partial_boost"`
	MinScore             float64         `mapstructure:"min_score"`
	MaxScore             float64         `mapstructure:"max_score"`
	RecencyDecayDays     float64         `mapstructure:"recency_decay_days"`
	Highlight            HighlightConfig `mapstructure:"highlight"`
	ResultsPerPage       int             `mapstructure:"results_per_page"`
	CompressionThreshold int             `mapstructure:"compression_threshold"`
	MaxBatchSize         int             `mapstructure:"max_batch_size"`
	StreamChunkSize      int             `mapstructure:"stream_chunk_size"`
}

type HighlightConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TagOpen      string `mapstructure:"tag_open"`
	TagClose     string `mapstructure:"tag_close"`
	FragmentSize int    `mapstructure:"fragment_size"`
	MaxFragments int    `mapstructure:"max_fragments"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SeedFile  string `mapstructure:"seed_file"`
	StorePath string `mapstructure:"store_path"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type PolicyConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Path        string `mapstructure:"path"`
	Mode        string `mapstructure:"mode"`
	FailClosed  bool   `mapstructure:"fail_closed"`
	Environment string `mapstructure:"environment"`
}

type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads the config file (CONFIG_PATH, then ./config/gantry.yaml, then
// /app/config/gantry.yaml), applies GANTRY_* environment overrides, and
// validates the result. A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("config/gantry.yaml"); err == nil {
			cfgPath = "config/gantry.yaml"
		} else {
			cfgPath = "/app/config/gantry.yaml"
		}
	}
	v.SetConfigFile(cfgPath)

	v.SetEnvPrefix("GANTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Only fail when the file exists but cannot be parsed.
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8088")
	v.SetDefault("server.admin_addr", ":9098")
	v.SetDefault("server.max_sessions", 256)
	v.SetDefault("server.read_limit_bytes", 1<<20)
	v.SetDefault("server.ping_interval", "20s")
	v.SetDefault("server.pong_timeout", "60s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_grace", "15s")
	v.SetDefault("server.server_name", "gantry")
	v.SetDefault("server.server_vendor", "Gantry")
	v.SetDefault("server.server_version", "0.1.0")
	v.SetDefault("server.protocol_versions", []string{"1.0", "1.1", "2.0"})

	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("upstream.endpoint", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.oauth_token", "")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.retry_delay", "1s")
	v.SetDefault("upstream.rate_limit_per_hour", 1500)
	v.SetDefault("upstream.concurrent_requests", 10)
	v.SetDefault("upstream.auth_type", "apiKey")
	v.SetDefault("upstream.circuit_breaker.enabled", true)
	v.SetDefault("upstream.circuit_breaker.failure_threshold", 5)
	v.SetDefault("upstream.circuit_breaker.success_threshold", 2)
	v.SetDefault("upstream.circuit_breaker.max_requests", 3)
	v.SetDefault("upstream.circuit_breaker.interval", "60s")
	v.SetDefault("upstream.circuit_breaker.timeout", "30s")

	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.default_limit", 50)
	v.SetDefault("search.cache.enabled", true)
	v.SetDefault("search.cache.ttl", "300s")
	v.SetDefault("search.cache.max_size", 100)
	v.SetDefault("search.cache.min_access_count", 2)
	v.SetDefault("search.optimizer.enabled", true)
	v.SetDefault("search.optimizer.max_results_per_type", 20)
	v.SetDefault("search.optimizer.max_total_results", 50)
	v.SetDefault("search.optimizer.max_description_length", 500)
	v.SetDefault("search.optimizer.title_weight", 2.0)
	v.SetDefault("search.optimizer.description_weight", 1.0)
	v.SetDefault("search.optimizer.identifier_weight", 1.5)
	v.SetDefault("search.optimizer.recency_weight", 1.0)
	v.SetDefault("search.optimizer.exact_boost", 1.5)
	v.SetDefault("search.optimizer.partial_boost", 1.2)
	v.SetDefault("search.optimizer.min_score", 0.1)
	v.SetDefault("search.optimizer.max_score", 1.0)
	v.SetDefault("search.optimizer.recency_decay_days", 30.0)
	v.SetDefault("search.optimizer.highlight.enabled", false)
	v.SetDefault("search.optimizer.highlight.tag_open", "<em>")
	v.SetDefault("search.optimizer.highlight.tag_close", "</em>")
	v.SetDefault("search.optimizer.highlight.fragment_size", 150)
	v.SetDefault("search.optimizer.highlight.max_fragments", 3)
	v.SetDefault("search.optimizer.results_per_page", 20)
	v.SetDefault("search.optimizer.compression_threshold", 10240)
	v.SetDefault("search.optimizer.max_batch_size", 20)
	v.SetDefault("search.optimizer.stream_chunk_size", 25)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.seed_file", "config/credentials.yaml")
	v.SetDefault("auth.store_path", "data/credentials.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "gantry")

	v.SetDefault("policy.enabled", false)
	v.SetDefault("policy.path", "config/policies")
	v.SetDefault("policy.mode", "off")
	v.SetDefault("policy.fail_closed", false)
	v.SetDefault("policy.environment", "dev")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.driver", "")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("audit.buffer_size", 256)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 120)
	v.SetDefault("rate_limit.redis_addr", "")
	v.SetDefault("rate_limit.redis_password", "")
	v.SetDefault("rate_limit.redis_db", 0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "gantry")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Upstream.Endpoint == "" {
		return fmt.Errorf("upstream.endpoint is required")
	}
	switch c.Upstream.AuthType {
	case "apiKey":
		if c.Upstream.APIKey == "" {
			return fmt.Errorf("upstream.api_key is required when auth_type is apiKey")
		}
	case "oauth":
		if c.Upstream.OAuthToken == "" {
			return fmt.Errorf("upstream.oauth_token is required when auth_type is oauth")
		}
	default:
		return fmt.Errorf("upstream.auth_type must be apiKey or oauth, got %q", c.Upstream.AuthType)
	}
	if c.Upstream.ConcurrentRequests < 1 || c.Upstream.ConcurrentRequests > 100 {
		return fmt.Errorf("upstream.concurrent_requests must be in 1..100, got %d", c.Upstream.ConcurrentRequests)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must be >= 0, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > 100 {
		return fmt.Errorf("search.default_limit must be in 1..100, got %d", c.Search.DefaultLimit)
	}
	if c.Search.Cache.MaxSize < 20 {
		return fmt.Errorf("search.cache.max_size must be >= 20, got %d", c.Search.Cache.MaxSize)
	}
	switch c.Policy.Mode {
	case "off", "dry-run", "enforce":
	default:
		return fmt.Errorf("policy.mode must be off, dry-run or enforce, got %q", c.Policy.Mode)
	}
	switch c.Audit.Driver {
	case "", "postgres", "sqlite3":
	default:
		return fmt.Errorf("audit.driver must be empty, postgres or sqlite3, got %q", c.Audit.Driver)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.SeedFile == "" {
		return fmt.Errorf("auth.enabled requires a seed_file or jwt_secret")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// AuthHeader returns the Authorization header value for upstream calls.
func (u *UpstreamConfig) AuthHeader() string {
	if u.AuthType == "oauth" {
		return "Bearer " + u.OAuthToken
	}
	return u.APIKey
}
