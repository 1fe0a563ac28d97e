// internal/handlers/payout.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type PayoutHandler struct {
	payoutService *services.PayoutService
}

type CompletePayoutRequest struct {
	Reference string `json:"reference" validate:"required,max=255"`
}

type PayoutReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func NewPayoutHandler(payoutService *services.PayoutService) *PayoutHandler {
	return &PayoutHandler{
		payoutService: payoutService,
	}
}

// POST /payouts
func (h *PayoutHandler) CreatePayout(c *gin.Context) {
	var req services.CreatePayoutRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.CreatedBy = utils.GetActorFromContext(c)

	payout, err := h.payoutService.CreatePayout(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, payout)
}

// GET /payouts
func (h *PayoutHandler) ListPayouts(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	vendorID, ok := parseOptionalUUID(c, "vendor_id")
	if !ok {
		return
	}

	filter := services.PayoutFilter{
		VendorID: vendorID,
		Status:   models.PayoutStatus(c.Query("status")),
	}

	payouts, total, err := h.payoutService.ListPayouts(c.Request.Context(), filter, params)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(payouts, total, params))
}

// GET /payouts/:id
func (h *PayoutHandler) GetPayout(c *gin.Context) {
	payoutID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutService.GetPayout(c.Request.Context(), payoutID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, payout)
}

// PUT /payouts/:id/process
func (h *PayoutHandler) ProcessPayout(c *gin.Context) {
	payoutID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutService.MarkProcessing(c.Request.Context(), payoutID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, payout)
}

// PUT /payouts/:id/complete
func (h *PayoutHandler) CompletePayout(c *gin.Context) {
	payoutID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req CompletePayoutRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payout, err := h.payoutService.CompletePayout(c.Request.Context(), payoutID, req.Reference)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, payout)
}

// PUT /payouts/:id/fail
func (h *PayoutHandler) FailPayout(c *gin.Context) {
	payoutID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req PayoutReasonRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payout, err := h.payoutService.FailPayout(c.Request.Context(), payoutID, req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, payout)
}

// PUT /payouts/:id/cancel
func (h *PayoutHandler) CancelPayout(c *gin.Context) {
	payoutID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req PayoutReasonRequest
	if !bindAndValidate(c, &req) {
		return
	}

	payout, err := h.payoutService.CancelPayout(c.Request.Context(), payoutID, req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, payout)
}

// POST /payouts/:id/disburse
func (h *PayoutHandler) DisbursePayout(c *gin.Context) {
	payoutID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payout, err := h.payoutService.DisbursePayout(c.Request.Context(), payoutID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, payout)
}
