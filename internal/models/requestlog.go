package models

import "time"

// RequestLog is one gateway request as recorded for analytics.
type RequestLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	RequestID      string    `json:"request_id"`
	AccountName    string    `gorm:"index" json:"account_name,omitempty"`
	Tier           Tier      `gorm:"type:varchar(16);index" json:"tier"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ErrorCode      string    `gorm:"index" json:"error_code,omitempty"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
