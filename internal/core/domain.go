package core

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// DateLayout is the calendar-date wire format used everywhere.
const DateLayout = "2006-01-02"

type (
	TransactionType string

	// Date is a calendar date. The time part is always midnight UTC.
	Date struct {
		time.Time
	}

	Currency struct {
		ID     int64  `json:"id"`
		Code   string `json:"code"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	}

	Category struct {
		ID   int64           `json:"id"`
		Name string          `json:"name"`
		Type TransactionType `json:"type"`
	}

	// Account owns its running balance. CurrencyCode and CurrencySymbol are
	// read-side joins and are ignored on write.
	Account struct {
		ID             int64           `json:"id"`
		Name           string          `json:"name"`
		Owner          string          `json:"owner,omitempty"`
		Country        string          `json:"country,omitempty"`
		AssetType      string          `json:"asset_type,omitempty"`
		CurrencyID     int64           `json:"currency_id"`
		CurrencyCode   string          `json:"currency_code,omitempty"`
		CurrencySymbol string          `json:"currency_symbol,omitempty"`
		OpeningBalance decimal.Decimal `json:"opening_balance"`
		Balance        decimal.Decimal `json:"balance"`
		CreatedAt      time.Time       `json:"created_at"`
	}

	// AccountLabels are the account fields that may change after creation.
	AccountLabels struct {
		Name      string `json:"name"`
		Owner     string `json:"owner"`
		Country   string `json:"country"`
		AssetType string `json:"asset_type"`
	}

	Transaction struct {
		ID          int64           `json:"id"`
		AccountID   int64           `json:"account_id"`
		CategoryID  int64           `json:"category_id"`
		Amount      decimal.Decimal `json:"amount"`
		Type        TransactionType `json:"type"`
		Date        Date            `json:"date"`
		Description string          `json:"description,omitempty"`
		Seq         int64           `json:"seq"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	TransactionDetail struct {
		Transaction
		AccountName    string          `json:"account_name"`
		Owner          string          `json:"owner,omitempty"`
		CategoryName   string          `json:"category_name"`
		CategoryType   TransactionType `json:"category_type"`
		CurrencyCode   string          `json:"currency_code"`
		CurrencySymbol string          `json:"currency_symbol"`
	}

	// TransactionFilter narrows transaction listings. Zero values mean "any".
	TransactionFilter struct {
		Start     Date
		End       Date
		AccountID int64
		Type      TransactionType
	}

	Exchange struct {
		ID            int64           `json:"id"`
		FromAccountID int64           `json:"from_account_id"`
		ToAccountID   int64           `json:"to_account_id"`
		FromAmount    decimal.Decimal `json:"from_amount"`
		ToAmount      decimal.Decimal `json:"to_amount"`
		ExchangeRate  decimal.Decimal `json:"exchange_rate"`
		Date          Date            `json:"date"`
		Description   string          `json:"description,omitempty"`
		Seq           int64           `json:"seq"`
		CreatedAt     time.Time       `json:"created_at"`
	}

	ExchangeDetail struct {
		Exchange
		FromAccountName    string `json:"from_account_name"`
		ToAccountName      string `json:"to_account_name"`
		FromCurrencySymbol string `json:"from_currency_symbol"`
		ToCurrencySymbol   string `json:"to_currency_symbol"`
	}

	// BalanceAdjustment is an out-of-band correction. It overwrites the
	// balance instead of adding to it.
	BalanceAdjustment struct {
		ID         int64           `json:"id"`
		AccountID  int64           `json:"account_id"`
		OldBalance decimal.Decimal `json:"old_balance"`
		NewBalance decimal.Decimal `json:"new_balance"`
		Difference decimal.Decimal `json:"difference"`
		Reason     string          `json:"reason,omitempty"`
		Date       Date            `json:"date"`
		Seq        int64           `json:"seq"`
		CreatedAt  time.Time       `json:"created_at"`
	}

	AdjustmentDetail struct {
		BalanceAdjustment
		AccountName    string `json:"account_name"`
		CurrencyCode   string `json:"currency_code"`
		CurrencySymbol string `json:"currency_symbol"`
	}

	// ManualExchangeRate means 1 FromCurrency = Rate ToCurrency.
	ManualExchangeRate struct {
		ID           int64           `json:"id"`
		FromCurrency string          `json:"from_currency"`
		ToCurrency   string          `json:"to_currency"`
		Rate         decimal.Decimal `json:"rate"`
		Description  string          `json:"description,omitempty"`
		UpdatedAt    time.Time       `json:"updated_at"`
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrInvalidRate      = errors.New("rate must be positive")
	ErrEmptyName        = errors.New("empty name")
	ErrMissingAccount   = errors.New("missing account")
	ErrMissingCategory  = errors.New("missing category")
	ErrSameAccount      = errors.New("source and destination account must differ")
	ErrSameCurrency     = errors.New("from and to currency must differ")
	ErrDescriptionLimit = errors.New("description too long (max 200 characters)")
)

const manualRateFreshness = 24 * time.Hour

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// DateOf truncates a timestamp to its calendar date in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores a Date as YYYY-MM-DD text.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case []byte:
		src = string(v)
	}
	s, ok := src.(string)
	if !ok {
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCurrency accepts 3 to 10 ASCII letters or digits (ISO codes and
// crypto tickers like USDT).
func ValidateCurrency(code string) error {
	if len(code) < 3 || len(code) > 10 {
		return ErrInvalidCurrency
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ErrInvalidCurrency
		}
	}
	return nil
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Effect is the signed delta this transaction applies to its account.
func (t Transaction) Effect() decimal.Decimal {
	if t.Type == Income {
		return t.Amount
	}
	return t.Amount.Neg()
}

func (t Transaction) Validate() error {
	if t.AccountID <= 0 {
		return ErrMissingAccount
	}
	if t.CategoryID <= 0 {
		return ErrMissingCategory
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(t.Description) > 200 {
		return ErrDescriptionLimit
	}
	return nil
}

func (e Exchange) Validate() error {
	if e.FromAccountID <= 0 || e.ToAccountID <= 0 {
		return ErrMissingAccount
	}
	if e.FromAccountID == e.ToAccountID {
		return ErrSameAccount
	}
	if !e.FromAmount.IsPositive() || !e.ToAmount.IsPositive() {
		return ErrInvalidAmount
	}
	if e.ExchangeRate.IsNegative() {
		return ErrInvalidRate
	}
	if len(e.Description) > 200 {
		return ErrDescriptionLimit
	}
	return e.Date.Validate()
}

// ImpliedRate is to_amount/from_amount. It is informational only.
func (e Exchange) ImpliedRate() decimal.Decimal {
	if e.FromAmount.IsZero() {
		return decimal.Zero
	}
	return e.ToAmount.Div(e.FromAmount)
}

func (a BalanceAdjustment) Validate() error {
	if a.AccountID <= 0 {
		return ErrMissingAccount
	}
	if len(a.Reason) > 200 {
		return ErrDescriptionLimit
	}
	return a.Date.Validate()
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if a.CurrencyID <= 0 {
		return ErrInvalidCurrency
	}
	return nil
}

func (l AccountLabels) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// Labels returns the editable fields of a.
func (a Account) Labels() AccountLabels {
	return AccountLabels{Name: a.Name, Owner: a.Owner, Country: a.Country, AssetType: a.AssetType}
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if !c.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (c Currency) Validate() error {
	if err := ValidateCurrency(c.Code); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (r ManualExchangeRate) Validate() error {
	if err := ValidateCurrency(r.FromCurrency); err != nil {
		return fmt.Errorf("from currency: %w", err)
	}
	if err := ValidateCurrency(r.ToCurrency); err != nil {
		return fmt.Errorf("to currency: %w", err)
	}
	if r.FromCurrency == r.ToCurrency {
		return ErrSameCurrency
	}
	if !r.Rate.IsPositive() {
		return ErrInvalidRate
	}
	return nil
}

// Age returns how long ago the rate was last updated.
func (r ManualExchangeRate) Age(now time.Time) time.Duration {
	if r.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(r.UpdatedAt)
}

// IsCurrent reports whether the rate was updated within the last 24 hours.
func (r ManualExchangeRate) IsCurrent(now time.Time) bool {
	return r.Age(now) < manualRateFreshness
}

// Inverse returns the rate for the opposite direction.
func (r ManualExchangeRate) Inverse() decimal.Decimal {
	return decimal.NewFromInt(1).Div(r.Rate)
}
