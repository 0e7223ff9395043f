package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records call and channel lifecycle actions.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:36" json:"traceId"`
	UserID     string         `gorm:"index:idx_audit_user;size:36" json:"userId"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Subject    string         `gorm:"size:96" json:"subject"`
	Detail     datatypes.JSON `json:"detail"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"durationMs"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime" json:"createdAt"`
}
