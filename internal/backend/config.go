package backend

import (
	"fmt"
	"strings"

	"ledgerbook/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:          BackendType(appConfig.DataBackend),
		SQLiteDBPath:  appConfig.SQLiteDBPath,
		DataDirectory: appConfig.SeedDir,
		Export:        ExportType(appConfig.ExportBackend),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type %q (want one of %s)", c.Type, strings.Join(GetBackendTypeStrings(), ", "))
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}
	if c.Export != "" && !c.Export.IsValid() {
		return fmt.Errorf("invalid export backend: %s", c.Export)
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, MemoryBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
