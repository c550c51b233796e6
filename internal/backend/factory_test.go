package backend

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"ledgerbook/internal/config"
	"ledgerbook/internal/log"
	sheetsmem "ledgerbook/internal/sheets/memory"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Output: io.Discard})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite with path", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"memory", Config{Type: MemoryBackend, Export: ExportMemory}, false},
		{"unknown type", Config{Type: "sheets"}, true},
		{"unknown export", Config{Type: MemoryBackend, Export: "s3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:   "memory",
		SeedDir:       "seed",
		ExportBackend: "memory",
	})
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if cfg.Type != MemoryBackend || cfg.DataDirectory != "seed" || cfg.Export != ExportMemory {
		t.Errorf("unexpected backend config %+v", cfg)
	}
}

func TestFactory_CreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(testLogger())

	t.Run("memory store with memory exporter", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend, DataDirectory: t.TempDir(), Export: ExportMemory})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		defer res.Cleanup()

		currencies, err := res.Store.ListCurrencies(ctx)
		if err != nil || len(currencies) == 0 {
			t.Errorf("expected seeded currencies, got %v (err %v)", currencies, err)
		}
		if _, ok := res.Exporter.(*sheetsmem.Exporter); !ok {
			t.Errorf("expected memory exporter, got %T", res.Exporter)
		}
	})

	t.Run("sqlite store without exporter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledger.db")
		res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path, Export: ExportNone})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		defer res.Cleanup()

		if err := res.Store.Ping(ctx); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
		if res.Exporter != nil {
			t.Errorf("expected no exporter, got %T", res.Exporter)
		}
	})

	t.Run("sheets exporter requires spreadsheet id", func(t *testing.T) {
		t.Setenv("GOOGLE_SPREADSHEET_ID", "")
		_, err := f.CreateBackend(ctx, Config{Type: MemoryBackend, DataDirectory: t.TempDir(), Export: ExportSheets})
		if err == nil {
			t.Error("expected error without GOOGLE_SPREADSHEET_ID")
		}
	})
}
