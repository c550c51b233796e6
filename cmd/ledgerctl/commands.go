package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/ledger"
	"ledgerbook/internal/report"
	"ledgerbook/internal/storage"
)

type CheckCmd struct {
	Account int64 `help:"Only check this account ID." default:"0"`
	Fix     bool  `help:"Overwrite drifted balances with the replayed value."`
}

func (cmd *CheckCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g)
}

func (cmd *CheckCmd) run(ctx context.Context, out io.Writer, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}

	var ids []int64
	if cmd.Account > 0 {
		ids = []int64{cmd.Account}
	} else {
		accounts, err := a.store.ListAccounts(ctx)
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for _, acct := range accounts {
			ids = append(ids, acct.ID)
		}
	}

	check := a.engine.RecomputeBalance
	if cmd.Fix {
		check = a.engine.RepairBalance
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tSTORED\tREPLAYED\tDRIFT\tEVENTS\tSTATUS")
	drifted := 0
	for _, id := range ids {
		rec, err := check(ctx, id)
		if err != nil {
			return fmt.Errorf("account %d: %w", id, err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			rec.AccountID, rec.Stored, rec.Replayed, rec.Drift, rec.Events, checkStatus(rec, cmd.Fix))
		if !rec.InSync() {
			drifted++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if drifted > 0 && !cmd.Fix {
		return fmt.Errorf("%d account(s) out of sync, rerun with --fix to repair", drifted)
	}
	return nil
}

func checkStatus(rec ledger.Reconciliation, fixed bool) string {
	switch {
	case rec.InSync():
		return "ok"
	case fixed:
		return "repaired"
	default:
		return "drift"
	}
}

type RateCmd struct {
	From string `arg:"" help:"Source currency code."`
	To   string `arg:"" help:"Target currency code."`
}

func (cmd *RateCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g)
}

func (cmd *RateCmd) run(ctx context.Context, out io.Writer, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	from, to := core.NormalizeCurrency(cmd.From), core.NormalizeCurrency(cmd.To)
	rate := a.rates.GetRate(ctx, from, to)
	fmt.Fprintf(out, "1 %s = %s %s (%s)\n", from, rate.Value, to, rate.Source)
	if !rate.Known {
		return fmt.Errorf("no rate known for %s/%s", from, to)
	}
	return nil
}

type ConvertCmd struct {
	Amount string `arg:"" help:"Amount to convert."`
	From   string `arg:"" help:"Source currency code."`
	To     string `arg:"" help:"Target currency code."`
}

func (cmd *ConvertCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g)
}

func (cmd *ConvertCmd) run(ctx context.Context, out io.Writer, g *Globals) error {
	amount, err := decimal.NewFromString(cmd.Amount)
	if err != nil {
		return fmt.Errorf("amount %q: %w", cmd.Amount, err)
	}
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	c := a.rates.Convert(ctx, amount, cmd.From, cmd.To)
	if !c.Converted {
		return fmt.Errorf("no rate known for %s/%s", core.NormalizeCurrency(cmd.From), core.NormalizeCurrency(cmd.To))
	}
	fmt.Fprintf(out, "%s %s = %s %s (rate %s, %s)\n",
		amount, core.NormalizeCurrency(cmd.From), c.Amount.StringFixed(2), core.NormalizeCurrency(cmd.To), c.Rate.Value, c.Rate.Source)
	return nil
}

type RefreshCmd struct {
	Bases []string `arg:"" optional:"" help:"Base currencies to refresh. Defaults to RATE_REFRESH_BASES."`
}

func (cmd *RefreshCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g)
}

func (cmd *RefreshCmd) run(ctx context.Context, out io.Writer, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	bases := cmd.Bases
	if len(bases) == 0 {
		bases = a.cfg.RateRefreshBases
	}

	var errs []error
	for _, base := range bases {
		t, err := a.rates.ForceRefresh(ctx, base)
		if err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", base, err))
			continue
		}
		fmt.Fprintf(out, "%s: %d rates fetched at %s\n", t.Base, len(t.Rates), t.FetchedAt.Format(time.RFC3339))
	}
	return errors.Join(errs...)
}

type ReportCmd struct {
	Generate ReportGenerateCmd `cmd:"" help:"Freeze a report for a period."`
	List     ReportListCmd     `cmd:"" help:"List stored reports."`
	Show     ReportShowCmd     `cmd:"" help:"Print a stored report."`
	Delete   ReportDeleteCmd   `cmd:"" help:"Delete a stored report."`
}

type ReportGenerateCmd struct {
	Start    string `help:"First day of the period (YYYY-MM-DD). Defaults to the previous month."`
	End      string `help:"Last day of the period (YYYY-MM-DD)."`
	Currency string `help:"Report currency. Defaults to DEFAULT_REPORT_CURRENCY."`
	Name     string `help:"Report name."`
}

func (cmd *ReportGenerateCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g, time.Now())
}

func (cmd *ReportGenerateCmd) run(ctx context.Context, out io.Writer, g *Globals, now time.Time) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}

	req := report.Request{Name: cmd.Name, Currency: cmd.Currency}
	if req.Currency == "" {
		req.Currency = a.cfg.DefaultReportCurrency
	}
	if cmd.Start == "" && cmd.End == "" {
		req.PeriodStart, req.PeriodEnd = report.PreviousMonth(now)
	} else {
		if req.PeriodStart, err = core.ParseDate(cmd.Start); err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		if req.PeriodEnd, err = core.ParseDate(cmd.End); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
	}

	r, err := a.reports.Generate(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report %d generated: %s\n", r.ID, r.Name)
	return nil
}

type ReportListCmd struct{}

func (cmd *ReportListCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g)
}

func (cmd *ReportListCmd) run(ctx context.Context, out io.Writer, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	reports, err := a.reports.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPERIOD\tCURRENCY\tINCOME\tEXPENSE\tNET")
	for _, r := range reports {
		fmt.Fprintf(tw, "%d\t%s\t%s..%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, r.PeriodStart, r.PeriodEnd, r.Currency,
			r.TotalIncome.StringFixed(2), r.TotalExpense.StringFixed(2), r.NetChange.StringFixed(2))
	}
	return tw.Flush()
}

type ReportShowCmd struct {
	ID int64 `arg:"" help:"Report ID."`
}

func (cmd *ReportShowCmd) Run(k *kong.Context, g *Globals) error {
	return cmd.run(context.Background(), k.Stdout, g)
}

func (cmd *ReportShowCmd) run(ctx context.Context, out io.Writer, g *Globals) error {
	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	v, err := a.reports.View(ctx, cmd.ID)
	if err != nil {
		return err
	}

	r := v.Report
	fmt.Fprintf(out, "%s (%s..%s, %s)\n", r.Name, r.PeriodStart, r.PeriodEnd, r.Currency)
	fmt.Fprintf(out, "Income:  %s\nExpense: %s\nNet:     %s\n\n",
		r.TotalIncome.StringFixed(2), r.TotalExpense.StringFixed(2), r.NetChange.StringFixed(2))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CURRENCY\tTOTAL\tCONVERTED\tRATE")
	for _, group := range v.ExpenseGroups {
		rate := group.Rate.String()
		if !group.RateAvailable {
			rate = "n/a"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			group.CurrencyCode, group.Total.StringFixed(2), group.Converted.StringFixed(2), rate)
	}
	return tw.Flush()
}

type ReportDeleteCmd struct {
	ID int64 `arg:"" help:"Report ID."`
}

func (cmd *ReportDeleteCmd) Run(k *kong.Context, g *Globals) error {
	a, err := g.open(context.Background())
	if err != nil {
		return err
	}
	if err := a.reports.Delete(context.Background(), cmd.ID); err != nil {
		return err
	}
	fmt.Fprintf(k.Stdout, "Report %d deleted\n", cmd.ID)
	return nil
}

type MigrateCmd struct {
	Status bool `help:"Only print the applied schema version."`
}

func (cmd *MigrateCmd) Run(k *kong.Context, g *Globals) error {
	cfg, _, err := g.config()
	if err != nil {
		return err
	}
	if cfg.DataBackend != "sqlite" {
		return fmt.Errorf("migrations apply to the sqlite backend, DATA_BACKEND is %q", cfg.DataBackend)
	}

	if !cmd.Status {
		if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
			return err
		}
	}
	version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(k.Stdout, "%s: schema version %d (dirty: %t)\n", cfg.SQLiteDBPath, version, dirty)
	return nil
}
