package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 项目配置结构体，启动时加载一次，运行期间只读
type Config struct {
	LLM         LLMConfig               `yaml:"llm"`
	Concurrency ConcurrencyConfig       `yaml:"concurrency"`
	Retry       RetryConfig             `yaml:"retry"`
	Run         RunConfig               `yaml:"run"`
	Cache       CacheConfig             `yaml:"cache"`
	Sources     map[string]SourceConfig `yaml:"sources"`
	Providers   ProvidersConfig         `yaml:"providers"`
	Tasks       TasksConfig             `yaml:"tasks"`
	Rules       []RuleConfig            `yaml:"rules"`
	DB          DBConfig                `yaml:"db"`
	Archive     ArchiveConfig           `yaml:"archive"`
	Output      OutputConfig            `yaml:"output"`
	Log         LogConfig               `yaml:"log"`
	Tracing     TracingConfig           `yaml:"tracing"`
}

// LLMConfig LLM 相关配置，Provider 为空时分析任务使用确定性规则判断
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai / gemini
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Temperature       float32 `yaml:"temperature"`
	EditorTemperature float32 `yaml:"editor_temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
}

// Enabled 是否配置了 LLM
func (c LLMConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

// ConcurrencyConfig 并发控制配置
type ConcurrencyConfig struct {
	QPS int `yaml:"qps"`
	RPM int `yaml:"rpm"`
}

// RetryConfig 重试与退避配置
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

// RunConfig 单次运行的时间预算
type RunConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	TaskTimeout      time.Duration `yaml:"task_timeout"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
}

// CacheConfig 缓存后端配置
type CacheConfig struct {
	Backend string `yaml:"backend"` // file / sqlite / badger / postgres
	Dir     string `yaml:"dir"`
	DSN     string `yaml:"dsn"`
}

// SourceConfig 单个数据源类别的层级配置
type SourceConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	Primary   string        `yaml:"primary"`
	Secondary string        `yaml:"secondary"`
}

// ProvidersConfig 各数据提供方配置
type ProvidersConfig struct {
	FRED       FREDConfig       `yaml:"fred"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
	Yahoo      YahooConfig      `yaml:"yahoo"`
	Stooq      StooqConfig      `yaml:"stooq"`
	FedPress   FedPressConfig   `yaml:"fedpress"`
}

// FREDConfig FRED 配置
type FREDConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Limit   int           `yaml:"limit"`
	Timeout time.Duration `yaml:"timeout"`
}

// PolymarketConfig Polymarket 配置
type PolymarketConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Limit     int           `yaml:"limit"`
	MinVolume float64       `yaml:"min_volume"`
	Timeout   time.Duration `yaml:"timeout"`
}

// YahooConfig Yahoo Finance 配置
type YahooConfig struct {
	BaseURL string        `yaml:"base_url"`
	Range   string        `yaml:"range"`
	Timeout time.Duration `yaml:"timeout"`
}

// StooqConfig Stooq 配置
type StooqConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// FedPressConfig 美联储新闻稿 RSS 配置
type FedPressConfig struct {
	FeedURL string        `yaml:"feed_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TasksConfig 分析任务配置
type TasksConfig struct {
	FREDSeries      []string        `yaml:"fred_series"`
	TreasurySymbols []string        `yaml:"treasury_symbols"`
	Assets          []string        `yaml:"assets"`
	CorrelationDays int             `yaml:"correlation_days"`
	Portfolio       []PortfolioItem `yaml:"portfolio"`
}

// PortfolioItem 用户持仓
type PortfolioItem struct {
	Symbol   string  `yaml:"symbol"`
	Quantity float64 `yaml:"quantity"`
}

// RuleConfig 冲突规则，配置后替换默认规则集
type RuleConfig struct {
	ID      string          `yaml:"id"`
	Left    ConditionConfig `yaml:"left"`
	Right   ConditionConfig `yaml:"right"`
	Message string          `yaml:"message"`
}

// ConditionConfig 规则一侧的条件
type ConditionConfig struct {
	Task  string `yaml:"task"`
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

// DBConfig 数据库相关配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Enabled 是否配置了报告归档数据库
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// DSN 连接串
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// ArchiveConfig 对象存储归档配置
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// OutputConfig 报告输出配置
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig 日志相关配置
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none / stdout
}

// LoadConfig 从指定路径加载配置，填充默认值并校验
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate 校验配置，只在启动时调用一次
func (c *Config) Validate() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 1"))
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, errors.New("retry.backoff_factor must be >= 1"))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, errors.New("retry.max_delay must be >= retry.initial_delay"))
	}
	if c.Run.Timeout <= 0 || c.Run.TaskTimeout <= 0 {
		errs = append(errs, errors.New("run.timeout and run.task_timeout must be positive"))
	}
	if c.Run.FetchConcurrency < 1 {
		errs = append(errs, errors.New("run.fetch_concurrency must be >= 1"))
	}
	switch c.Cache.Backend {
	case "file", "sqlite", "badger":
	case "postgres":
		if c.Cache.DSN == "" && !c.DB.Enabled() {
			errs = append(errs, errors.New("cache.dsn or db is required for postgres cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend: %s", c.Cache.Backend))
	}
	for key, src := range c.Sources {
		if src.Primary == "" {
			errs = append(errs, fmt.Errorf("sources.%s.primary is required", key))
		}
		if src.TTL <= 0 {
			errs = append(errs, fmt.Errorf("sources.%s.ttl must be positive", key))
		}
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "", "none":
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	for i, r := range c.Rules {
		if r.ID == "" || r.Left.Task == "" || r.Right.Task == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: id, left.task and right.task are required", i))
		}
	}
	return errors.Join(errs...)
}
