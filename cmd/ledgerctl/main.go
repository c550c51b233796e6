package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

var (
	// Version contains the application version number. It's set via ldflags
	// when building.
	Version = ""

	// CommitSHA contains the SHA of the commit that this application was built
	// against. It's set via ldflags when building.
	CommitSHA = ""

	commands struct {
		Globals

		Version kong.VersionFlag `help:"Show version information"`

		Check   CheckCmd   `cmd:"" help:"Replay account histories and compare them with stored balances."`
		Rate    RateCmd    `cmd:"" help:"Resolve the exchange rate between two currencies."`
		Convert ConvertCmd `cmd:"" help:"Convert an amount between currencies."`
		Refresh RefreshCmd `cmd:"" help:"Drop cached rate tables and fetch them again."`
		Report  ReportCmd  `cmd:"" help:"Manage monthly report snapshots."`
		Migrate MigrateCmd `cmd:"" help:"Apply pending SQLite migrations."`
	}
)

func main() {
	ctx := kong.Parse(&commands,
		kong.Vars{
			"version": buildVersion(),
		},
		kong.Name("ledgerctl"),
		kong.Description("Administrative commands for the ledger."),
		kong.UsageOnError(),
		kong.Bind(&commands.Globals),
	)

	err := ctx.Run()
	commands.Globals.Close()
	ctx.FatalIfErrorf(err)
}

func buildVersion() string {
	if Version == "" {
		Version = "dev"
	}
	if CommitSHA == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, CommitSHA)
}
