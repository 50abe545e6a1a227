// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Collector CollectorConfig `mapstructure:"collector"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Sources   SourcesConfig   `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures upstream HTTP client behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// CollectorConfig governs run execution behavior.
type CollectorConfig struct {
	Workers           int  `mapstructure:"workers"`
	QueueDepth        int  `mapstructure:"queue_depth"`
	SampleFallback    bool `mapstructure:"sample_fallback"`
	DedupLookbackDays int  `mapstructure:"dedup_lookback_days"`
	RunTimeoutSeconds int  `mapstructure:"run_timeout_seconds"`
	DedupBatchMaxKeys int  `mapstructure:"dedup_batch_max_keys"`
}

// WarehouseConfig identifies the BigQuery destination and GCS staging area.
type WarehouseConfig struct {
	ProjectID     string `mapstructure:"project_id"`
	DatasetID     string `mapstructure:"dataset_id"`
	Location      string `mapstructure:"location"`
	StagingBucket string `mapstructure:"staging_bucket"`
	StagingPrefix string `mapstructure:"staging_prefix"`
}

// LedgerConfig controls access to the Postgres run ledger.
type LedgerConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SourcesConfig groups per-source settings.
type SourcesConfig struct {
	Census  CensusConfig  `mapstructure:"census"`
	BLS     BLSConfig     `mapstructure:"bls"`
	SBA     SBAConfig     `mapstructure:"sba"`
	Places  PlacesConfig  `mapstructure:"places"`
	Traffic TrafficConfig `mapstructure:"traffic"`
	DFI     DFIConfig     `mapstructure:"dfi"`
	FCC     FCCConfig     `mapstructure:"fcc"`
}

// CensusConfig configures the ACS demographics collector.
type CensusConfig struct {
	BaseURL string  `mapstructure:"base_url"`
	APIKey  string  `mapstructure:"api_key"`
	Year    int     `mapstructure:"year"`
	RPS     float64 `mapstructure:"rps"`
}

// BLSConfig configures the BLS timeseries collector.
type BLSConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	APIKey    string   `mapstructure:"api_key"`
	SeriesIDs []string `mapstructure:"series_ids"`
	YearsBack int      `mapstructure:"years_back"`
	RPS       float64  `mapstructure:"rps"`
}

// SBAConfig configures the SBA FOIA loan collector.
type SBAConfig struct {
	CSVURL string  `mapstructure:"csv_url"`
	State  string  `mapstructure:"state"`
	RPS    float64 `mapstructure:"rps"`
}

// PlacesConfig configures the Google Places collector.
type PlacesConfig struct {
	BaseURL      string   `mapstructure:"base_url"`
	APIKey       string   `mapstructure:"api_key"`
	Queries      []string `mapstructure:"queries"`
	PageDelayMs  int      `mapstructure:"page_delay_ms"`
	RequestDelay int      `mapstructure:"request_delay_ms"`
	RPS          float64  `mapstructure:"rps"`
}

// TrafficConfig configures the WisDOT AADT collector.
type TrafficConfig struct {
	ServiceURL string  `mapstructure:"service_url"`
	RPS        float64 `mapstructure:"rps"`
}

// DFIConfig configures the DFI business-registration collector.
type DFIConfig struct {
	BaseURL  string  `mapstructure:"base_url"`
	DaysBack int     `mapstructure:"days_back"`
	RPS      float64 `mapstructure:"rps"`
}

// FCCConfig configures the FCC broadband availability collector.
type FCCConfig struct {
	BaseURL string  `mapstructure:"base_url"`
	RPS     float64 `mapstructure:"rps"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("collector.workers", 2)
	v.SetDefault("collector.queue_depth", 32)
	v.SetDefault("collector.sample_fallback", true)
	v.SetDefault("collector.dedup_lookback_days", 90)
	v.SetDefault("collector.run_timeout_seconds", 1800)
	v.SetDefault("collector.dedup_batch_max_keys", 5000)
	v.SetDefault("warehouse.dataset_id", "wi_market")
	v.SetDefault("warehouse.location", "US")
	v.SetDefault("warehouse.staging_prefix", "staging")
	v.SetDefault("ledger.table", "collection_runs")
	v.SetDefault("sources.census.base_url", "https://api.census.gov/data")
	v.SetDefault("sources.census.year", 2022)
	v.SetDefault("sources.census.rps", 2)
	v.SetDefault("sources.bls.base_url", "https://api.bls.gov/publicAPI/v2")
	v.SetDefault("sources.bls.years_back", 3)
	v.SetDefault("sources.bls.rps", 1)
	v.SetDefault("sources.sba.state", "WI")
	v.SetDefault("sources.sba.rps", 1)
	v.SetDefault("sources.places.base_url", "https://maps.googleapis.com/maps/api/place")
	// Documented pacing: half a second between Places requests, two seconds
	// before a next_page_token becomes valid.
	v.SetDefault("sources.places.request_delay_ms", 500)
	v.SetDefault("sources.places.page_delay_ms", 2000)
	v.SetDefault("sources.places.rps", 2)
	v.SetDefault("sources.traffic.rps", 2)
	v.SetDefault("sources.dfi.days_back", 7)
	v.SetDefault("sources.dfi.rps", 1)
	v.SetDefault("sources.fcc.base_url", "https://broadbandmap.fcc.gov/api/public")
	v.SetDefault("sources.fcc.rps", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("collector.workers must be > 0")
	}
	if c.Collector.QueueDepth <= 0 {
		return fmt.Errorf("collector.queue_depth must be > 0")
	}
	if c.Collector.DedupLookbackDays < 0 {
		return fmt.Errorf("collector.dedup_lookback_days must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Warehouse.ProjectID != "" && c.Warehouse.DatasetID == "" {
		return fmt.Errorf("warehouse.dataset_id is required when project_id is set")
	}
	return nil
}

// ClientTimeout converts the HTTP timeout config into a duration.
func (c Config) ClientTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RunTimeout bounds the wall time of a single collection run.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Collector.RunTimeoutSeconds) * time.Second
}
