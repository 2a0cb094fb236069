// Package config loads service configuration from environment variables with
// an optional YAML file underneath. Environment always wins; defaults apply
// last. Load validates once and the result is treated as immutable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the wraith service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Agent   AgentConfig   `yaml:"agent"`
	LLM     LLMConfig     `yaml:"llm"`
	Browser BrowserConfig `yaml:"browser"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Mesh    MeshConfig    `yaml:"mesh"`
	Trace   TraceConfig   `yaml:"trace"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AgentConfig struct {
	MaxSteps           int   `yaml:"max_steps"`
	MaxWallTimeMS      int64 `yaml:"max_wall_time_ms"`
	MaxFailures        int   `yaml:"max_failures"`
	BlockPrivateRanges bool  `yaml:"block_private_ranges"`
	RedactSecrets      bool  `yaml:"redact_secrets"`
	ToolTimeoutMS      int64 `yaml:"tool_timeout_ms"`
	ToolRetryBackoffMS int64 `yaml:"tool_retry_backoff_ms"`
	MaxConcurrency     int   `yaml:"max_concurrency"`
}

type LLMConfig struct {
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIModel     string `yaml:"openai_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	VisionDetail    string `yaml:"vision_detail"`
}

type BrowserConfig struct {
	Headless        bool   `yaml:"headless"`
	PoolSize        int    `yaml:"pool_size"`
	MaxLeaseSeconds int    `yaml:"max_lease_seconds"`
	StreamQuality   int    `yaml:"stream_quality"`
	StreamMaxWidth  int    `yaml:"stream_max_width"`
	CapsolverAPIKey string `yaml:"capsolver_api_key"`
	CapsolverURL    string `yaml:"capsolver_url"`
	ChallengeWaitS  int    `yaml:"challenge_wait_s"`
}

type CrawlConfig struct {
	MaxConcurrent      int     `yaml:"max_concurrent"`
	PrecheckEnabled    bool    `yaml:"precheck_enabled"`
	PrecheckTimeoutS   int     `yaml:"precheck_timeout_s"`
	GhostEnabled       bool    `yaml:"ghost_enabled"`
	PerHostRatePerSec  float64 `yaml:"per_host_rate_per_sec"`
	CookieTTLMinutes   int     `yaml:"cookie_ttl_minutes"`
	BlockPrivateRanges bool    `yaml:"block_private_ranges"`
}

type MeshConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Secret              string   `yaml:"secret"`
	NodeName            string   `yaml:"node_name"`
	AdvertiseURL        string   `yaml:"advertise_url"`
	Seeds               []string `yaml:"seeds"`
	HeartbeatIntervalS  int      `yaml:"heartbeat_interval_s"`
	PeerUnhealthyAfterS int      `yaml:"peer_timeout_s"`
	PeerRemoveAfterS    int      `yaml:"peer_remove_s"`
}

type TraceConfig struct {
	Dir         string `yaml:"dir"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8000},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Agent: AgentConfig{
			MaxSteps:           12,
			MaxWallTimeMS:      90_000,
			MaxFailures:        3,
			BlockPrivateRanges: true,
			RedactSecrets:      true,
			ToolTimeoutMS:      30_000,
			ToolRetryBackoffMS: 250,
			MaxConcurrency:     5,
		},
		LLM: LLMConfig{
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-sonnet-4-20250514",
			VisionDetail:   "low",
		},
		Browser: BrowserConfig{
			Headless:        true,
			PoolSize:        1,
			MaxLeaseSeconds: 300,
			StreamQuality:   25,
			StreamMaxWidth:  854,
			CapsolverURL:    "https://api.capsolver.com",
			ChallengeWaitS:  15,
		},
		Crawl: CrawlConfig{
			MaxConcurrent:      5,
			PrecheckEnabled:    false,
			PrecheckTimeoutS:   15,
			GhostEnabled:       true,
			PerHostRatePerSec:  1,
			CookieTTLMinutes:   25,
			BlockPrivateRanges: true,
		},
		Mesh: MeshConfig{
			HeartbeatIntervalS:  15,
			PeerUnhealthyAfterS: 45,
			PeerRemoveAfterS:    120,
		},
		Trace: TraceConfig{
			Dir:      "./data/traces",
			S3Region: "us-east-1",
		},
	}
}

// Load builds the config: defaults, then the YAML file named by
// WRAITH_CONFIG_FILE (if any), then WRAITH_* environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("WRAITH_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("WRAITH_HOST", &cfg.Server.Host)
	envInt("WRAITH_PORT", &cfg.Server.Port)
	envStr("WRAITH_LOG_LEVEL", &cfg.Logging.Level)
	envStr("WRAITH_LOG_FORMAT", &cfg.Logging.Format)

	envInt("WRAITH_AGENT_MAX_STEPS", &cfg.Agent.MaxSteps)
	envInt64("WRAITH_AGENT_MAX_WALL_TIME_MS", &cfg.Agent.MaxWallTimeMS)
	envInt("WRAITH_AGENT_MAX_FAILURES", &cfg.Agent.MaxFailures)
	envBool("WRAITH_AGENT_BLOCK_PRIVATE_RANGES", &cfg.Agent.BlockPrivateRanges)
	envBool("WRAITH_AGENT_REDACT_SECRETS", &cfg.Agent.RedactSecrets)
	envInt64("WRAITH_TOOL_TIMEOUT_MS", &cfg.Agent.ToolTimeoutMS)
	envInt64("WRAITH_TOOL_RETRY_BACKOFF_MS", &cfg.Agent.ToolRetryBackoffMS)
	envInt("WRAITH_TOOL_MAX_CONCURRENCY", &cfg.Agent.MaxConcurrency)

	envStr("WRAITH_OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey)
	envStr("WRAITH_OPENAI_BASE_URL", &cfg.LLM.OpenAIBaseURL)
	envStr("WRAITH_OPENAI_MODEL", &cfg.LLM.OpenAIModel)
	envStr("WRAITH_ANTHROPIC_API_KEY", &cfg.LLM.AnthropicAPIKey)
	envStr("WRAITH_ANTHROPIC_MODEL", &cfg.LLM.AnthropicModel)
	envStr("WRAITH_VISION_DETAIL", &cfg.LLM.VisionDetail)

	envBool("WRAITH_BROWSER_HEADLESS", &cfg.Browser.Headless)
	envInt("WRAITH_BROWSER_POOL_SIZE", &cfg.Browser.PoolSize)
	envInt("WRAITH_BROWSER_STREAM_MAX_LEASE_SECONDS", &cfg.Browser.MaxLeaseSeconds)
	envInt("WRAITH_BROWSER_STREAM_QUALITY", &cfg.Browser.StreamQuality)
	envInt("WRAITH_BROWSER_STREAM_MAX_WIDTH", &cfg.Browser.StreamMaxWidth)
	envStr("WRAITH_CAPSOLVER_API_KEY", &cfg.Browser.CapsolverAPIKey)
	envStr("WRAITH_CAPSOLVER_URL", &cfg.Browser.CapsolverURL)
	envInt("WRAITH_CHALLENGE_WAIT_S", &cfg.Browser.ChallengeWaitS)

	envInt("WRAITH_MAX_CONCURRENT_CRAWLS", &cfg.Crawl.MaxConcurrent)
	envBool("WRAITH_HTTP_PRECHECK_ENABLED", &cfg.Crawl.PrecheckEnabled)
	envInt("WRAITH_HTTP_PRECHECK_TIMEOUT", &cfg.Crawl.PrecheckTimeoutS)
	envBool("WRAITH_GHOST_ENABLED", &cfg.Crawl.GhostEnabled)
	envFloat("WRAITH_PER_HOST_RATE", &cfg.Crawl.PerHostRatePerSec)
	envInt("WRAITH_COOKIE_TTL_MINUTES", &cfg.Crawl.CookieTTLMinutes)
	envBool("WRAITH_CRAWL_BLOCK_PRIVATE_RANGES", &cfg.Crawl.BlockPrivateRanges)

	envBool("WRAITH_MESH_ENABLED", &cfg.Mesh.Enabled)
	envStr("WRAITH_MESH_SECRET", &cfg.Mesh.Secret)
	envStr("WRAITH_MESH_NODE_NAME", &cfg.Mesh.NodeName)
	envStr("WRAITH_MESH_ADVERTISE_URL", &cfg.Mesh.AdvertiseURL)
	envList("WRAITH_MESH_SEEDS", &cfg.Mesh.Seeds)
	envInt("WRAITH_MESH_HEARTBEAT_INTERVAL_S", &cfg.Mesh.HeartbeatIntervalS)
	envInt("WRAITH_MESH_PEER_TIMEOUT_S", &cfg.Mesh.PeerUnhealthyAfterS)
	envInt("WRAITH_MESH_PEER_REMOVE_S", &cfg.Mesh.PeerRemoveAfterS)

	envStr("WRAITH_TRACE_DIR", &cfg.Trace.Dir)
	envStr("WRAITH_TRACE_S3_BUCKET", &cfg.Trace.S3Bucket)
	envStr("WRAITH_TRACE_S3_REGION", &cfg.Trace.S3Region)
	envStr("WRAITH_TRACE_S3_ENDPOINT", &cfg.Trace.S3Endpoint)
	envBool("WRAITH_TRACE_S3_PATH_STYLE", &cfg.Trace.S3PathStyle)
	envStr("WRAITH_TRACE_S3_ACCESS_KEY", &cfg.Trace.S3AccessKey)
	envStr("WRAITH_TRACE_S3_SECRET_KEY", &cfg.Trace.S3SecretKey)
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent max_steps must be positive")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser pool_size must be positive")
	}
	if c.Mesh.Enabled && c.Mesh.Secret == "" {
		return fmt.Errorf("mesh enabled without WRAITH_MESH_SECRET")
	}
	if c.Mesh.Enabled && c.Mesh.AdvertiseURL == "" {
		return fmt.Errorf("mesh enabled without WRAITH_MESH_ADVERTISE_URL")
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
