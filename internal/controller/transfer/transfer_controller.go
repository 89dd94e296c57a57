package transfer

import (
	"net/http"
	"strconv"

	"github.com/examly/hallpass/internal/auth"
	"github.com/examly/hallpass/internal/dto"
	"github.com/examly/hallpass/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
)

type TransferController struct {
	transferService service.TransferService
}

func NewTransferController(transferService service.TransferService) *TransferController {
	return &TransferController{transferService: transferService}
}

func meta(ctx *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: ctx.ClientIP(),
		UserAgent: ctx.Request.UserAgent(),
	}
}

// statusFor maps reason codes to HTTP statuses: conflicts are 409,
// authorization failures 403, lookups 404, everything else 400.
func statusFor(code string) int {
	switch code {
	case service.CodeTransferConflict:
		return http.StatusConflict
	case service.CodeNotAuthorized:
		return http.StatusForbidden
	case service.CodeAttemptNotFound, service.CodeTransferNotFound:
		return http.StatusNotFound
	case "INTERNAL_ERROR":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (c *TransferController) respondError(ctx *gin.Context, err error) {
	code := service.ReasonCode(err)
	ctx.JSON(statusFor(code), dto.ErrorResponse{Message: err.Error(), Code: code})
}

// RequestTransfer godoc
// @Summary Request a workstation transfer for a live attempt
// @Tags Transfers
// @Accept json
// @Produce json
// @Param request body dto.TransferRequestDTO true "Transfer request"
// @Success 201 {object} dto.TransferResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "A transfer is already pending or approved"
// @Router /transfers [post]
func (c *TransferController) RequestTransfer(ctx *gin.Context) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "authentication required"})
		return
	}

	var req dto.TransferRequestDTO
	if err := ctx.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("RequestTransfer: failed to bind JSON")
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid request body", Details: []string{err.Error()}})
		return
	}

	transfer, err := c.transferService.Request(user, service.TransferRequest{
		AttemptID:     req.AttemptID,
		ToWorkstation: req.ToWorkstation,
		Reason:        req.Reason,
	}, meta(ctx))
	if err != nil {
		log.Warn().Err(err).Uint("attempt_id", req.AttemptID).Msg("RequestTransfer: rejected")
		c.respondError(ctx, err)
		return
	}

	var resp dto.TransferResponse
	copier.Copy(&resp, transfer)
	ctx.JSON(http.StatusCreated, resp)
}

// ApproveTransfer godoc
// @Summary Approve a pending transfer and migrate attempt state
// @Tags Transfers
// @Produce json
// @Param transfer_id path int true "Transfer ID"
// @Success 200 {object} dto.TransferResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 403 {object} dto.ErrorResponse
// @Router /transfers/{transfer_id}/approve [post]
func (c *TransferController) ApproveTransfer(ctx *gin.Context) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "authentication required"})
		return
	}
	transferID, err := strconv.ParseUint(ctx.Param("transfer_id"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid transfer ID format"})
		return
	}

	transfer, err := c.transferService.Approve(user, uint(transferID), meta(ctx))
	if err != nil {
		log.Warn().Err(err).Uint64("transfer_id", transferID).Msg("ApproveTransfer: rejected")
		c.respondError(ctx, err)
		return
	}

	var resp dto.TransferResponse
	copier.Copy(&resp, transfer)
	ctx.JSON(http.StatusOK, resp)
}

// RejectTransfer godoc
// @Summary Reject a pending transfer
// @Tags Transfers
// @Accept json
// @Produce json
// @Param transfer_id path int true "Transfer ID"
// @Param decision body dto.TransferDecisionDTO false "Optional rejection reason"
// @Success 200 {object} dto.TransferResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /transfers/{transfer_id}/reject [post]
func (c *TransferController) RejectTransfer(ctx *gin.Context) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "authentication required"})
		return
	}
	transferID, err := strconv.ParseUint(ctx.Param("transfer_id"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid transfer ID format"})
		return
	}

	var req dto.TransferDecisionDTO
	_ = ctx.ShouldBindJSON(&req) // body optional

	transfer, err := c.transferService.Reject(user, uint(transferID), req.Reason, meta(ctx))
	if err != nil {
		log.Warn().Err(err).Uint64("transfer_id", transferID).Msg("RejectTransfer: rejected")
		c.respondError(ctx, err)
		return
	}

	var resp dto.TransferResponse
	copier.Copy(&resp, transfer)
	ctx.JSON(http.StatusOK, resp)
}

// ListTransfers godoc
// @Summary List transfers (staff see all, owners see their own)
// @Tags Transfers
// @Produce json
// @Success 200 {object} dto.TransferListResponse
// @Router /transfers [get]
func (c *TransferController) ListTransfers(ctx *gin.Context) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "authentication required"})
		return
	}

	transfers, err := c.transferService.List(user)
	if err != nil {
		log.Error().Err(err).Msg("ListTransfers: service error")
		c.respondError(ctx, err)
		return
	}

	resp := dto.TransferListResponse{Transfers: make([]dto.TransferResponse, 0, len(transfers))}
	copier.Copy(&resp.Transfers, &transfers)
	resp.Total = len(resp.Transfers)
	ctx.JSON(http.StatusOK, resp)
}

// GetTransfer godoc
// @Summary Get a single transfer
// @Tags Transfers
// @Produce json
// @Param transfer_id path int true "Transfer ID"
// @Success 200 {object} dto.TransferResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /transfers/{transfer_id} [get]
func (c *TransferController) GetTransfer(ctx *gin.Context) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "authentication required"})
		return
	}
	transferID, err := strconv.ParseUint(ctx.Param("transfer_id"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid transfer ID format"})
		return
	}

	transfer, err := c.transferService.Get(user, uint(transferID))
	if err != nil {
		c.respondError(ctx, err)
		return
	}

	var resp dto.TransferResponse
	copier.Copy(&resp, transfer)
	ctx.JSON(http.StatusOK, resp)
}

// GetTransferAudit godoc
// @Summary Get the audit trail for a transfer
// @Tags Transfers
// @Produce json
// @Param transfer_id path int true "Transfer ID"
// @Success 200 {array} model.AuditLog
// @Router /transfers/{transfer_id}/audit [get]
func (c *TransferController) GetTransferAudit(ctx *gin.Context) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Message: "authentication required"})
		return
	}
	transferID, err := strconv.ParseUint(ctx.Param("transfer_id"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid transfer ID format"})
		return
	}

	entries, err := c.transferService.AuditTrail(user, uint(transferID))
	if err != nil {
		c.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, entries)
}
