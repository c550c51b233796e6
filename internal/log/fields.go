package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldAccountID     = "account_id"
	FieldTransactionID = "transaction_id"
	FieldAmount        = "amount"
	FieldBase          = "base"
	FieldFromCurrency  = "from"
	FieldToCurrency    = "to"
	FieldRate          = "rate"
	FieldRateSource    = "rate_source"
	FieldReportID      = "report_id"
	FieldPeriodStart   = "period_start"
	FieldPeriodEnd     = "period_end"
	FieldCurrency      = "currency"
	FieldExportRef     = "export_ref"
)

// Components tag every record with the subsystem that wrote it.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentRates     = "rates"
	ComponentReport    = "report"
	ComponentScheduler = "scheduler"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

const (
	OpGenerate = "generate"
	OpExport   = "export"
	OpRefresh  = "refresh"
	OpDelete   = "delete"
)

// Fields accumulates key/value pairs in the order they were added.
type Fields []any

func NewFields() Fields {
	return make(Fields, 0, 16)
}

func (f Fields) add(key string, value any) Fields {
	return append(f, key, value)
}

func (f Fields) WithRequestID(requestID string) Fields {
	if requestID == "" {
		return f
	}
	return f.add(FieldRequestID, requestID)
}

func (f Fields) WithClientIP(ip string) Fields {
	return f.add(FieldClientIP, ip)
}

// WithError is a no-op for a nil error.
func (f Fields) WithError(err error) Fields {
	if err == nil {
		return f
	}
	return f.add(FieldError, err.Error())
}

func (f Fields) WithOperation(op string) Fields {
	return f.add(FieldOperation, op)
}

// WithReport adds the identity of a report snapshot.
func (f Fields) WithReport(id int64, start, end, currency string) Fields {
	return f.add(FieldReportID, id).
		add(FieldPeriodStart, start).
		add(FieldPeriodEnd, end).
		add(FieldCurrency, currency)
}

// WithHTTPRequest adds the request line. Empty optional headers are left out.
func (f Fields) WithHTTPRequest(method, path, query, userAgent, referer string) Fields {
	f = f.add(FieldMethod, method).add(FieldPath, path)
	if query != "" {
		f = f.add(FieldQuery, query)
	}
	if userAgent != "" {
		f = f.add(FieldUserAgent, userAgent)
	}
	if referer != "" {
		f = f.add(FieldReferer, referer)
	}
	return f
}

func (f Fields) WithHTTPResponse(statusCode int, durationMs int64) Fields {
	return f.add(FieldStatusCode, statusCode).
		add(FieldDuration, durationMs).
		add(FieldSuccess, statusCode < 400)
}
