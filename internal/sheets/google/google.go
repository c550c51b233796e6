package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledgerbook/internal/core"
	ports "ledgerbook/internal/sheets"
)

// DefaultReportsSheet is prefixed with the report's year, e.g. "2024 Reports".
const DefaultReportsSheet = "Reports"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	reportsBase   string
}

var _ ports.ReportExporter = (*Client)(nil)

// NewFromEnv creates a Sheets client from the environment.
// Required: GOOGLE_SPREADSHEET_ID
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: GOOGLE_REPORTS_SHEET_NAME (default "Reports").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	reportsBase := strings.TrimSpace(os.Getenv("GOOGLE_REPORTS_SHEET_NAME"))
	if reportsBase == "" {
		reportsBase = DefaultReportsSheet
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, reportsBase: reportsBase}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		var err error
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) sheetFor(r core.MonthlyReport) string {
	return yearPrefixedName(c.reportsBase, r.PeriodStart.Year())
}

// ExportReport appends the report's summary and rate rows. A report whose
// summary row is already present is not written again.
func (c *Client) ExportReport(ctx context.Context, r core.MonthlyReport) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	rows, err := reportRows(r)
	if err != nil {
		return "", fmt.Errorf("build rows for report %d: %w", r.ID, err)
	}
	sheet := c.sheetFor(r)

	rng := fmt.Sprintf("%s!A:B", sheet)
	existing, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	switch {
	case isMissingSheet(err):
		if err := c.addSheet(ctx, sheet); err != nil {
			return "", err
		}
		existing = &gsheet.ValueRange{}
	case err != nil:
		return "", fmt.Errorf("read %s: %w", rng, err)
	}
	if row := findSummaryRow(existing.Values, r.ID); row > 0 {
		slog.InfoContext(ctx, "Report already exported", "report_id", r.ID, "sheet", sheet, "row", row)
		return fmt.Sprintf("%s!A%d", sheet, row), nil
	}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, fmt.Sprintf("%s!A:K", sheet), &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", sheet, err)
	}
	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// addSheet creates the tab a year's reports are appended to.
func (c *Client) addSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %q: %w", title, err)
	}
	slog.InfoContext(ctx, "Created reports sheet", "sheet", title)
	return nil
}

// isMissingSheet reports whether err is the API's answer to reading a range
// on a tab that does not exist.
func isMissingSheet(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "Unable to parse range")
}
