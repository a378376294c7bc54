package config

import "time"

// 数据源类别
const (
	SourceFRED         = "fred"
	SourceTreasury     = "treasury"
	SourceMarket       = "market"
	SourcePolymarket   = "polymarket"
	SourceFedStatement = "fed_statement"
)

// DefaultSources 默认数据源层级与 TTL
func DefaultSources() map[string]SourceConfig {
	return map[string]SourceConfig{
		SourceFRED:         {TTL: 24 * time.Hour, Primary: "fred"},
		SourceTreasury:     {TTL: 15 * time.Minute, Primary: "yahoo", Secondary: "fred_yield"},
		SourceMarket:       {TTL: 15 * time.Minute, Primary: "yahoo", Secondary: "stooq"},
		SourcePolymarket:   {TTL: time.Hour, Primary: "polymarket"},
		SourceFedStatement: {TTL: 24 * time.Hour, Primary: "fedpress"},
	}
}

// Default 返回填充好默认值的配置
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 为未设置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.Model = "gemini-2.0-flash"
		case "openai":
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.EditorTemperature == 0 {
		c.LLM.EditorTemperature = 0.5
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4000
	}

	if c.Concurrency.QPS == 0 {
		c.Concurrency.QPS = 1
	}
	if c.Concurrency.RPM == 0 {
		c.Concurrency.RPM = 30
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = 2.0
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 60 * time.Second
	}

	if c.Run.Timeout == 0 {
		c.Run.Timeout = 5 * time.Minute
	}
	if c.Run.TaskTimeout == 0 {
		c.Run.TaskTimeout = 2 * time.Minute
	}
	if c.Run.FetchConcurrency == 0 {
		c.Run.FetchConcurrency = 8
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "file"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "./data_cache"
	}

	if c.Sources == nil {
		c.Sources = map[string]SourceConfig{}
	}
	for key, def := range DefaultSources() {
		src, ok := c.Sources[key]
		if !ok {
			c.Sources[key] = def
			continue
		}
		if src.TTL == 0 {
			src.TTL = def.TTL
		}
		if src.Primary == "" {
			src.Primary = def.Primary
			if src.Secondary == "" {
				src.Secondary = def.Secondary
			}
		}
		c.Sources[key] = src
	}

	p := &c.Providers
	if p.FRED.BaseURL == "" {
		p.FRED.BaseURL = "https://api.stlouisfed.org/fred"
	}
	if p.FRED.Limit == 0 {
		p.FRED.Limit = 100
	}
	if p.Polymarket.BaseURL == "" {
		p.Polymarket.BaseURL = "https://gamma-api.polymarket.com"
	}
	if p.Polymarket.Limit == 0 {
		p.Polymarket.Limit = 50
	}
	if p.Polymarket.MinVolume == 0 {
		p.Polymarket.MinVolume = 100000
	}
	if p.Yahoo.BaseURL == "" {
		p.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if p.Yahoo.Range == "" {
		p.Yahoo.Range = "7d"
	}
	if p.Stooq.BaseURL == "" {
		p.Stooq.BaseURL = "https://stooq.com"
	}
	if p.FedPress.FeedURL == "" {
		p.FedPress.FeedURL = "https://www.federalreserve.gov/feeds/press_monetary.xml"
	}

	t := &c.Tasks
	if len(t.FREDSeries) == 0 {
		t.FREDSeries = []string{"CPIAUCSL", "UNRATE", "PAYEMS", "PCEPI", "DGS10", "DGS2"}
	}
	if len(t.TreasurySymbols) == 0 {
		t.TreasurySymbols = []string{"^IRX", "^FVX", "^TNX", "^TYX"}
	}
	if len(t.Assets) == 0 {
		t.Assets = []string{"BTC-USD", "ETH-USD", "SPY", "QQQ", "DX-Y.NYB"}
	}
	if t.CorrelationDays == 0 {
		t.CorrelationDays = 7
	}

	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.Archive.Bucket == "" {
		c.Archive.Bucket = "macro-pulse-reports"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "./outputs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
}
