package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Storage
	DataBackend  string
	SQLiteDBPath string
	SeedDir      string

	// Rates
	RatesAPIURL           string
	RatesTimeout          time.Duration
	RatesCacheTTL         time.Duration
	DefaultReportCurrency string
	RateRefreshBases      []string

	// Scheduler
	RateRefreshSchedule   string
	MonthlyReportSchedule string
	ExportSchedule        string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Export
	ExportBackend          string
	ExportBatchSize        int
	GoogleSpreadsheetID    string
	GoogleReportsSheetName string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledger.db"),
		SeedDir:      getEnv("DATA_SEED_DIR", "./data"),

		RatesAPIURL:           getEnv("RATES_API_URL", "https://api.exchangerate-api.com/v4/latest"),
		RatesTimeout:          getEnvDuration("RATES_TIMEOUT", 10*time.Second),
		RatesCacheTTL:         getEnvDuration("RATES_CACHE_TTL", time.Hour),
		DefaultReportCurrency: core.NormalizeCurrency(getEnv("DEFAULT_REPORT_CURRENCY", "USD")),
		RateRefreshBases:      getEnvList("RATE_REFRESH_BASES", []string{"USD"}),

		RateRefreshSchedule:   getEnv("RATE_REFRESH_SCHEDULE", "@hourly"),
		MonthlyReportSchedule: getEnv("MONTHLY_REPORT_SCHEDULE", "0 0 6 1 * *"),
		ExportSchedule:        getEnv("EXPORT_SCHEDULE", "@every 15m"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "report_exports"),

		ExportBackend:          getEnv("EXPORT_BACKEND", "none"),
		ExportBatchSize:        getEnvInt("EXPORT_BATCH_SIZE", 10),
		GoogleSpreadsheetID:    getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleReportsSheetName: getEnv("GOOGLE_REPORTS_SHEET_NAME", "Reports"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
	for i, base := range cfg.RateRefreshBases {
		cfg.RateRefreshBases[i] = core.NormalizeCurrency(base)
	}
	return cfg
}

// LoggerConfig maps the logging settings onto log.Config.
func (c *Config) LoggerConfig(component string) log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(c.LogLevel)
	cfg.Format = c.LogFormat
	cfg.Component = component
	return cfg
}

var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !oneOf(c.DataBackend, "memory", "sqlite") {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.DataBackend))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if u, err := url.Parse(c.RatesAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid rates API URL '%s': must be an http(s) URL", c.RatesAPIURL))
	}
	if c.RatesTimeout <= 0 || c.RatesTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates timeout %v: must be between 0 and 1 minute", c.RatesTimeout))
	}
	if c.RatesCacheTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rates cache TTL %v: must be at least 1 minute", c.RatesCacheTTL))
	}
	if err := core.ValidateCurrency(c.DefaultReportCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default report currency '%s'", c.DefaultReportCurrency))
	}
	for _, base := range c.RateRefreshBases {
		if err := core.ValidateCurrency(base); err != nil {
			errors = append(errors, fmt.Sprintf("invalid rate refresh base '%s'", base))
		}
	}

	for name, spec := range map[string]string{
		"rate refresh":   c.RateRefreshSchedule,
		"monthly report": c.MonthlyReportSchedule,
		"export":         c.ExportSchedule,
	} {
		if _, err := scheduleParser.Parse(spec); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s schedule '%s': %v", name, spec, err))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if !oneOf(c.ExportBackend, "none", "memory", "sheets") {
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be one of [none memory sheets]", c.ExportBackend))
	}
	if c.ExportBackend == "sheets" && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when using sheets export backend")
	}
	if c.ExportBatchSize < 1 || c.ExportBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid export batch size %d: must be between 1 and 1000", c.ExportBatchSize))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if !oneOf(c.LogFormat, "text", "json") {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
