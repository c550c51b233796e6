package rates

import (
	"context"

	"ledgerbook/internal/core"
)

// Ports the resolver depends on.
type (
	// Feed fetches a full remote rate table for one base currency.
	Feed interface {
		FetchRates(ctx context.Context, base string) (core.RateTable, error)
	}

	// ManualRates exposes user-entered overrides. GetManualRate returns
	// core.ErrNotFound when the exact pair has no row.
	ManualRates interface {
		ListManualRates(ctx context.Context) ([]core.ManualExchangeRate, error)
		GetManualRate(ctx context.Context, from, to string) (core.ManualExchangeRate, error)
	}

	// TableStore persists fetched tables across restarts. LoadRateTable
	// returns core.ErrNotFound when nothing is stored for base.
	TableStore interface {
		LoadRateTable(ctx context.Context, base string) (core.RateTable, error)
		SaveRateTable(ctx context.Context, t core.RateTable) error
		DeleteRateTable(ctx context.Context, base string) error
	}
)
