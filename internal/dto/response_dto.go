package dto

import "time"

type TransferResponse struct {
	ID                 uint       `json:"id"`
	AttemptID          uint       `json:"attempt_id"`
	FromWorkstation    string     `json:"from_workstation"`
	ToWorkstation      string     `json:"to_workstation"`
	RequestedByID      uint       `json:"requested_by_id"`
	ApprovedByID       *uint      `json:"approved_by_id,omitempty"`
	Status             string     `json:"status"`
	Reason             string     `json:"reason,omitempty"`
	MigrationChecksum  string     `json:"migration_checksum,omitempty"`
	AnswersTransferred int        `json:"answers_transferred"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

type TransferListResponse struct {
	Transfers []TransferResponse `json:"transfers"`
	Total     int                `json:"total"`
}

type ErrorResponse struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}
