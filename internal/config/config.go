package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	RunLog   RunLogConfig   `yaml:"runlog" mapstructure:"runlog"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Harvest  HarvestConfig  `yaml:"harvest" mapstructure:"harvest"`
	RBI      RBIConfig      `yaml:"rbi" mapstructure:"rbi"`
	MPPolice MPPoliceConfig `yaml:"mppolice" mapstructure:"mppolice"`
	SOICORS  SOICORSConfig  `yaml:"soicors" mapstructure:"soicors"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the on-disk harvest cache.
type CacheConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// ExportConfig configures collated output files.
type ExportConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// RunLogConfig configures the harvest run log backend.
type RunLogConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// HTTPConfig configures outbound HTTP behavior shared by all sources.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// HarvestConfig configures run orchestration.
type HarvestConfig struct {
	// Concurrency bounds how many sources run at once. Keys within a
	// source are always processed sequentially.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// RBIConfig configures the RBI bank branch locator source.
type RBIConfig struct {
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	ServiceBaseURL string   `yaml:"service_base_url" mapstructure:"service_base_url"`
	ChannelKey     string   `yaml:"channel_key" mapstructure:"channel_key"`
	PageSize       int      `yaml:"page_size" mapstructure:"page_size"`
	BranchTypes    []string `yaml:"branch_types" mapstructure:"branch_types"`
}

// MPPoliceConfig configures the MP Police station map source.
type MPPoliceConfig struct {
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	KMLURL       string   `yaml:"kml_url" mapstructure:"kml_url"`
	SkipPrefixes []string `yaml:"skip_prefixes" mapstructure:"skip_prefixes"`
	SpecialStyle string   `yaml:"special_style" mapstructure:"special_style"`
}

// SOICORSConfig configures the Survey of India CORS station source.
type SOICORSConfig struct {
	EmbedURL string `yaml:"embed_url" mapstructure:"embed_url"`
	APIURL   string `yaml:"api_url" mapstructure:"api_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures deep inside a harvest run.
func (c *Config) Validate() error {
	var problems []string

	if c.Cache.Root == "" {
		problems = append(problems, "cache.root is required")
	}
	if c.Export.Root == "" {
		problems = append(problems, "export.root is required")
	}
	switch c.RunLog.Driver {
	case "sqlite":
	case "postgres":
		if c.RunLog.DatabaseURL == "" {
			problems = append(problems, "runlog.database_url is required when runlog.driver is postgres")
		}
	default:
		problems = append(problems, "runlog.driver must be sqlite or postgres")
	}
	if c.Harvest.Concurrency < 1 || c.Harvest.Concurrency > 16 {
		problems = append(problems, "harvest.concurrency must be between 1 and 16")
	}
	if c.RBI.PageSize < 1 || c.RBI.PageSize > 10000 {
		problems = append(problems, "rbi.page_size must be between 1 and 10000")
	}
	if len(c.RBI.BranchTypes) == 0 {
		problems = append(problems, "rbi.branch_types must not be empty")
	}
	if !strings.Contains(c.MPPolice.KMLURL, "%s") {
		problems = append(problems, "mppolice.kml_url must contain a %s placeholder for the map id")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.harvest-cli")

	// Environment
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.root", "./data/cache")
	v.SetDefault("export.root", "./data/export")
	v.SetDefault("runlog.driver", "sqlite")
	v.SetDefault("runlog.path", "")
	v.SetDefault("http.user_agent", "harvest-cli/1.0 (+https://github.com/india-geodata/harvest-cli)")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("harvest.concurrency", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("rbi.base_url", "https://data.rbi.org.in/DBIE/")
	v.SetDefault("rbi.service_base_url", "https://data.rbi.org.in/CIMS_Gateway_DBIE/GATEWAY/SERVICES/")
	v.SetDefault("rbi.channel_key", "key2")
	v.SetDefault("rbi.page_size", 1000)
	v.SetDefault("rbi.branch_types", []string{"BRANCH", "BC", "CSP", "OFFICE", "DBU"})
	v.SetDefault("mppolice.base_url", "https://www.mppolice.gov.in/en")
	v.SetDefault("mppolice.kml_url", "https://www.google.com/maps/d/kml?mid=%s")
	v.SetDefault("mppolice.skip_prefixes", []string{"PTC", "PTS", "ITI", "JNPA", "GRP"})
	v.SetDefault("mppolice.special_style", "#icon-1899-0288D1")
	v.SetDefault("soicors.embed_url", "https://corswebmap.surveyofindia.gov.in/?output=embed")
	v.SetDefault("soicors.api_url", "https://corswebmap.surveyofindia.gov.in/get_stations_soi_api/?state=")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
