package model

import (
	"time"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferApproved  TransferStatus = "approved"
	TransferRejected  TransferStatus = "rejected"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// IsTerminal reports whether the transfer can no longer change state.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferRejected || s == TransferFailed
}

// Transfer is a supervised workstation move for a live attempt.
// State machine: pending -> approved -> completed|failed, or
// pending -> rejected. Immutable once terminal.
type Transfer struct {
	ID        uint `gorm:"primarykey" json:"id"`
	AttemptID uint `json:"attempt_id" gorm:"not null;index"`

	FromWorkstation string `json:"from_workstation" gorm:"size:50;not null"`
	ToWorkstation   string `json:"to_workstation" gorm:"size:50;not null"`

	RequestedByID uint  `json:"requested_by_id" gorm:"not null"`
	ApprovedByID  *uint `json:"approved_by_id,omitempty"`

	Status TransferStatus `json:"status" gorm:"not null;default:'pending';index"`
	Reason string         `json:"reason" gorm:"type:text"`

	// Migration integrity
	MigrationChecksum  string `json:"migration_checksum,omitempty" gorm:"size:64"`
	AnswersTransferred int    `json:"answers_transferred" gorm:"default:0"`
	ErrorMessage       string `json:"error_message,omitempty" gorm:"type:text"`

	RequestedAt time.Time  `json:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
