package backend

import (
	"context"
	"fmt"

	"ledgerbook/internal/log"
	"ledgerbook/internal/sheets"
	gsheet "ledgerbook/internal/sheets/google"
	sheetsmem "ledgerbook/internal/sheets/memory"
	"ledgerbook/internal/storage"
	"ledgerbook/internal/storage/memory"
)

var (
	_ Store = (*storage.SQLiteRepository)(nil)
	_ Store = (*memory.Store)(nil)
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store Store
		err   error
	)
	switch config.Type {
	case SQLiteBackend:
		store, err = f.createSQLiteStore(config)
	case MemoryBackend:
		store = f.createMemoryStore(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	exporter, err := f.createExporter(ctx, config.Export)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Result{
		Store:    store,
		Exporter: exporter,
		Cleanup:  store.Close,
	}, nil
}

func (f *DefaultFactory) createSQLiteStore(config Config) (Store, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

func (f *DefaultFactory) createMemoryStore(config Config) Store {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}
	store := memory.NewFromFiles(dataDir)
	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return store
}

func (f *DefaultFactory) createExporter(ctx context.Context, export ExportType) (sheets.ReportExporter, error) {
	switch export {
	case ExportSheets:
		cli, err := gsheet.NewFromEnv(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		f.logger.Info("Initialized Google Sheets exporter")
		return cli, nil
	case ExportMemory:
		f.logger.Info("Initialized in-memory exporter")
		return sheetsmem.New(), nil
	default:
		return nil, nil
	}
}
