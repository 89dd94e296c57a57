package dto

type TransferRequestDTO struct {
	AttemptID     uint   `json:"attempt_id" binding:"required"`
	ToWorkstation string `json:"to_workstation" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
}

type TransferDecisionDTO struct {
	Reason string `json:"reason"`
}
