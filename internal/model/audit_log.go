package model

import (
	"encoding/json"
	"time"
)

// AuditLog records every critical transition for the compliance trail.
// Username is denormalized so records survive user deletion.
type AuditLog struct {
	ID uint `gorm:"primarykey" json:"id"`

	EventType     string `json:"event_type" gorm:"size:50;not null;index"`
	EventCategory string `json:"event_category" gorm:"size:50;not null;index"`

	UserID   *uint  `json:"user_id,omitempty" gorm:"index"`
	Username string `json:"username,omitempty" gorm:"size:255"`

	AttemptID  *uint `json:"attempt_id,omitempty" gorm:"index"`
	ExamID     *uint `json:"exam_id,omitempty" gorm:"index"`
	TransferID *uint `json:"transfer_id,omitempty" gorm:"index"`

	Description string          `json:"description" gorm:"type:text;not null"`
	Details     json.RawMessage `json:"details,omitempty" gorm:"type:jsonb"`

	IPAddress string `json:"ip_address,omitempty" gorm:"size:45"`
	UserAgent string `json:"user_agent,omitempty" gorm:"size:500"`

	Success      bool   `json:"success" gorm:"default:true"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}
