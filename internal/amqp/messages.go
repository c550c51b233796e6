package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportGenerated announces a newly frozen report. It carries only the
// report ID; the consumer loads the stored row itself.
type ReportGenerated struct {
	MessageID string    `json:"message_id"`
	ReportID  int64     `json:"report_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReportGenerated(reportID int64) *ReportGenerated {
	return &ReportGenerated{
		MessageID: uuid.NewString(),
		ReportID:  reportID,
		Timestamp: time.Now().UTC(),
	}
}

func (m *ReportGenerated) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReportGeneratedFromJSON decodes a message body. A body without a
// positive report ID is rejected.
func ReportGeneratedFromJSON(data []byte) (*ReportGenerated, error) {
	var msg ReportGenerated
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ReportID <= 0 {
		return nil, fmt.Errorf("report.generated message %q has no report id", msg.MessageID)
	}
	return &msg, nil
}
