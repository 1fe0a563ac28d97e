// internal/handlers/commission.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/settlement-backend/internal/models"
	"github.com/javajoker/settlement-backend/internal/services"
	"github.com/javajoker/settlement-backend/internal/utils"
)

type CommissionHandler struct {
	commissionService *services.CommissionService
}

type CreateCommissionRequest struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
}

type CancelCommissionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type BulkApproveRequest struct {
	VendorID uuid.UUID `json:"vendor_id" validate:"required"`
	Before   time.Time `json:"before" validate:"required"`
}

func NewCommissionHandler(commissionService *services.CommissionService) *CommissionHandler {
	return &CommissionHandler{
		commissionService: commissionService,
	}
}

// POST /commissions
func (h *CommissionHandler) CreateCommission(c *gin.Context) {
	var req CreateCommissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	commission, err := h.commissionService.CreateCommission(c.Request.Context(), req.OrderItemID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, commission)
}

// GET /commissions
func (h *CommissionHandler) ListCommissions(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	vendorID, ok := parseOptionalUUID(c, "vendor_id")
	if !ok {
		return
	}
	orderID, ok := parseOptionalUUID(c, "order_id")
	if !ok {
		return
	}
	payoutID, ok := parseOptionalUUID(c, "payout_id")
	if !ok {
		return
	}

	filter := services.CommissionFilter{
		VendorID: vendorID,
		OrderID:  orderID,
		Status:   models.CommissionStatus(c.Query("status")),
		PayoutID: payoutID,
	}

	commissions, total, err := h.commissionService.ListCommissions(c.Request.Context(), filter, params)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(commissions, total, params))
}

// GET /commissions/:id
func (h *CommissionHandler) GetCommission(c *gin.Context) {
	commissionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	commission, err := h.commissionService.GetCommission(c.Request.Context(), commissionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, commission)
}

// PUT /commissions/:id/approve
func (h *CommissionHandler) ApproveCommission(c *gin.Context) {
	commissionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	commission, err := h.commissionService.ApproveCommission(c.Request.Context(), commissionID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, commission)
}

// PUT /commissions/:id/cancel
func (h *CommissionHandler) CancelCommission(c *gin.Context) {
	commissionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req CancelCommissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	commission, err := h.commissionService.CancelCommission(c.Request.Context(), commissionID, req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, commission)
}

// POST /commissions/bulk-approve
func (h *CommissionHandler) BulkApprove(c *gin.Context) {
	var req BulkApproveRequest
	if !bindAndValidate(c, &req) {
		return
	}

	approved, err := h.commissionService.BulkApprove(c.Request.Context(), req.VendorID, req.Before)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"approved": approved})
}
