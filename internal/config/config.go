// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Convert ConvertConfig `mapstructure:"convert"`
	Export  ExportConfig  `mapstructure:"export"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CatalogConfig governs access to the upstream procurement API.
type CatalogConfig struct {
	SearchURL      string  `mapstructure:"search_url"`
	OrgBase        string  `mapstructure:"org_base"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxConcurrent  int     `mapstructure:"max_concurrent"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// IngestConfig shapes the main ingestion loop.
type IngestConfig struct {
	StartPage           int      `mapstructure:"start_page"`
	EndPage             int      `mapstructure:"end_page"`
	PageSize            int      `mapstructure:"page_size"`
	PageBatchSize       int      `mapstructure:"page_batch_size"`
	ConversionBatchSize int      `mapstructure:"conversion_batch_size"`
	Sorts               []string `mapstructure:"sorts"`
	DocumentTypes       []string `mapstructure:"document_types"`
	BackfillBatchSize   int      `mapstructure:"backfill_batch_size"`
}

// ConvertConfig controls the markdown conversion pool.
type ConvertConfig struct {
	Workers        int     `mapstructure:"workers"`
	QueueDepth     int     `mapstructure:"queue_depth"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	HostRPS        float64 `mapstructure:"host_rps"`
}

// ExportConfig sets where rendered markdown files land.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConns       int    `mapstructure:"max_conns"`
	MinConns       int    `mapstructure:"min_conns"`
	SkipMigrations bool   `mapstructure:"skip_migrations"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("catalog.search_url", "https://pncp.gov.br/api/search/")
	v.SetDefault("catalog.org_base", "https://pncp.gov.br/api/pncp/v1/orgaos/")
	v.SetDefault("catalog.user_agent", "pncp-harvester/0.1")
	v.SetDefault("catalog.timeout_seconds", 10)
	v.SetDefault("catalog.max_concurrent", 5)
	v.SetDefault("catalog.requests_per_sec", 0)
	v.SetDefault("ingest.start_page", 1)
	v.SetDefault("ingest.end_page", 10)
	v.SetDefault("ingest.page_size", 20)
	v.SetDefault("ingest.page_batch_size", 5)
	v.SetDefault("ingest.conversion_batch_size", 50)
	v.SetDefault("ingest.sorts", []string{"data", "relevancia"})
	v.SetDefault("ingest.document_types", []string{"edital", "ata"})
	v.SetDefault("ingest.backfill_batch_size", 500)
	v.SetDefault("convert.queue_depth", 256)
	v.SetDefault("convert.timeout_seconds", 10)
	v.SetDefault("convert.host_rps", 4)
	v.SetDefault("export.dir", "markdown")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Catalog.MaxConcurrent <= 0 {
		return fmt.Errorf("catalog.max_concurrent must be > 0")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return fmt.Errorf("catalog.timeout_seconds must be > 0")
	}
	if c.Ingest.StartPage <= 0 || c.Ingest.EndPage < c.Ingest.StartPage {
		return fmt.Errorf("ingest.start_page/end_page must form a positive range")
	}
	if c.Ingest.PageSize <= 0 {
		return fmt.Errorf("ingest.page_size must be > 0")
	}
	return nil
}

// Pages expands the configured page range into an explicit list.
func (c IngestConfig) Pages() []int {
	pages := make([]int, 0, c.EndPage-c.StartPage+1)
	for p := c.StartPage; p <= c.EndPage; p++ {
		pages = append(pages, p)
	}
	return pages
}

// RequestTimeout converts the catalog timeout into a duration.
func (c CatalogConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
